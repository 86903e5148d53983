/*
Copyright 2024 VEXXHOST, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package providerid parses provider-reference strings of the form
// `scheme://[authority]/.../<id>` as set by infrastructure providers on
// Machine objects, e.g. `openstack:///b36b42b6-a1a7-46b7-9041-55a5ee5b952d`.
package providerid

import (
	"strings"

	"github.com/pkg/errors"
)

// Parse extracts the provider-assigned instance identifier, the final path
// segment of the reference. Malformed input is an explicit error rather than
// a silently mis-sliced identifier.
func Parse(ref string) (string, error) {
	scheme, rest, found := strings.Cut(ref, "://")
	if !found {
		return "", errors.Errorf("malformed provider ID %q: missing scheme separator", ref)
	}

	if scheme == "" {
		return "", errors.Errorf("malformed provider ID %q: empty scheme", ref)
	}

	id := rest[strings.LastIndex(rest, "/")+1:]
	if id == "" {
		return "", errors.Errorf("malformed provider ID %q: empty instance identifier", ref)
	}

	return id, nil
}
