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

// Package addons keeps managed in-cluster add-on releases idempotently in sync
// with their generated desired configuration.
package addons

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"
)

var (
	// ErrReleaseNotFound is returned by ReleaseClient.GetValues for a release
	// that has never been installed.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrClusterNotReady marks an expected transient condition: the workload
	// cluster cannot serve add-on operations yet, or a field required to
	// generate add-on values has not been populated. Callers abort the current
	// pass without error and retry on the next one.
	ErrClusterNotReady = errors.New("cluster is not ready")
)

// ReleaseClient performs release operations against a single namespace of a
// target cluster.
type ReleaseClient interface {
	// GetValues returns the user-supplied values of the deployed release.
	GetValues(ctx context.Context, releaseName string) (map[string]interface{}, error)

	// Upgrade applies the chart with the given values, installing the release
	// if it does not exist yet.
	Upgrade(ctx context.Context, releaseName, chartRef string, values map[string]interface{}) error

	// Uninstall removes the release. Absence is not an error.
	Uninstall(ctx context.Context, releaseName string) error
}

// Reconciler synchronizes one add-on release per call.
type Reconciler struct {
	Releases ReleaseClient
}

// Reconcile compares the deployed values of the release against the generated
// desired values and applies an upgrade only on mismatch. Re-running with
// identical desired values performs no write. An unreachable target surfaces
// as ErrClusterNotReady.
func (r *Reconciler) Reconcile(ctx context.Context, releaseName, chartRef string, desired map[string]interface{}) error {
	logger := log.FromContext(ctx)

	deployed, err := r.Releases.GetValues(ctx, releaseName)

	switch {
	case errors.Is(err, ErrReleaseNotFound):
		deployed = map[string]interface{}{}
	case err != nil:
		return errors.Wrapf(ErrClusterNotReady, "reading values of release %s: %v", releaseName, err)
	}

	equal, err := ValuesEqual(deployed, desired)
	if err != nil {
		return errors.Wrapf(err, "comparing values of release %s", releaseName)
	}

	if equal {
		return nil
	}

	logger.Info("Updating add-on release", "release", releaseName)

	if err := r.Releases.Upgrade(ctx, releaseName, chartRef, desired); err != nil {
		return errors.Wrapf(ErrClusterNotReady, "upgrading release %s: %v", releaseName, err)
	}

	return nil
}

// ValuesEqual deep-compares two value mappings independent of key order and of
// the numeric or scalar representation either side came in with. Both sides
// are normalized through a YAML round trip before comparison.
func ValuesEqual(a, b map[string]interface{}) (bool, error) {
	normalizedA, err := normalize(a)
	if err != nil {
		return false, err
	}

	normalizedB, err := normalize(b)
	if err != nil {
		return false, err
	}

	return reflect.DeepEqual(normalizedA, normalizedB), nil
}

func normalize(values map[string]interface{}) (map[string]interface{}, error) {
	if values == nil {
		values = map[string]interface{}{}
	}

	raw, err := yaml.Marshal(values)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling values")
	}

	out := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "unmarshalling values")
	}

	return out, nil
}
