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

package magnum

import "strings"

// Status is a lifecycle status of a cluster or node group. The vocabulary is
// the cross product of the three actions and the three outcomes.
type Status string

const (
	StatusCreateInProgress Status = "CREATE_IN_PROGRESS"
	StatusCreateComplete   Status = "CREATE_COMPLETE"
	StatusCreateFailed     Status = "CREATE_FAILED"

	StatusUpdateInProgress Status = "UPDATE_IN_PROGRESS"
	StatusUpdateComplete   Status = "UPDATE_COMPLETE"
	StatusUpdateFailed     Status = "UPDATE_FAILED"

	StatusDeleteInProgress Status = "DELETE_IN_PROGRESS"
	StatusDeleteComplete   Status = "DELETE_COMPLETE"
	StatusDeleteFailed     Status = "DELETE_FAILED"
)

// Action is the imperative intent encoded in a status prefix.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Action returns the action prefix of the status.
func (s Status) Action() Action {
	prefix, _, _ := strings.Cut(string(s), "_")

	return Action(prefix)
}

// IsComplete reports whether the status is a `_COMPLETE` outcome of any action.
func (s Status) IsComplete() bool {
	return strings.HasSuffix(string(s), "_COMPLETE")
}

// IsInProgress reports whether the status is an `_IN_PROGRESS` outcome.
func (s Status) IsInProgress() bool {
	return strings.HasSuffix(string(s), "_IN_PROGRESS")
}

// InProgress returns the `_IN_PROGRESS` status for the action.
func (a Action) InProgress() Status {
	return Status(string(a) + "_IN_PROGRESS")
}

// Complete returns the `_COMPLETE` status for the action.
func (a Action) Complete() Status {
	return Status(string(a) + "_COMPLETE")
}

// Failed returns the `_FAILED` status for the action.
func (a Action) Failed() Status {
	return Status(string(a) + "_FAILED")
}
