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

package driver

import (
	"context"

	"github.com/pkg/errors"

	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/objects"
)

// nodeGroupResolver derives a node group's lifecycle status from its backing
// infrastructure resource. The two role variants read different resource
// kinds but expose the same capability.
type nodeGroupResolver interface {
	// resolve mutates the node group in place and reports whether anything
	// should be persisted. Absence of the backing resource is not an error.
	resolve(ctx context.Context, view *objects.View, cluster *magnum.Cluster, nodeGroup *magnum.NodeGroup) (bool, error)
}

func resolverFor(nodeGroup *magnum.NodeGroup) nodeGroupResolver {
	if nodeGroup.Role == magnum.RoleMaster {
		return controlPlaneResolver{}
	}

	return workerResolver{}
}

// UpdateNodeGroupStatus resolves and persists the node group's lifecycle
// status from current infrastructure state. Repeated calls with unchanged
// infrastructure produce no further transitions.
func (d *Driver) UpdateNodeGroupStatus(ctx context.Context, cluster *magnum.Cluster, nodeGroup *magnum.NodeGroup) (*magnum.NodeGroup, error) {
	view := objects.NewView(d.Client, d.Namespace)

	return d.updateNodeGroupStatus(ctx, view, cluster, nodeGroup)
}

func (d *Driver) updateNodeGroupStatus(
	ctx context.Context,
	view *objects.View,
	cluster *magnum.Cluster,
	nodeGroup *magnum.NodeGroup,
) (*magnum.NodeGroup, error) {
	dirty, err := resolverFor(nodeGroup).resolve(ctx, view, cluster, nodeGroup)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving node group %s", nodeGroup.Name)
	}

	if dirty {
		if err := d.Store.SaveNodeGroup(ctx, cluster, nodeGroup); err != nil {
			return nil, errors.Wrapf(err, "persisting node group %s", nodeGroup.Name)
		}
	}

	return nodeGroup, nil
}

type controlPlaneResolver struct{}

func (controlPlaneResolver) resolve(
	ctx context.Context,
	view *objects.View,
	cluster *magnum.Cluster,
	nodeGroup *magnum.NodeGroup,
) (bool, error) {
	action := nodeGroup.Status.Action()

	controlPlane, err := view.ControlPlane(ctx, cluster.StackID)
	if err != nil {
		return false, err
	}

	// Still provisioning; nothing to derive yet.
	if controlPlane == nil {
		return false, nil
	}

	// A generation bump after the first reconciliation signals an in-place
	// update regardless of the record's original intent.
	if controlPlane.ObservedGeneration() > 1 {
		action = magnum.ActionUpdate
	}

	updatedReplicas, _ := controlPlane.UpdatedReplicas()
	replicas, observed := controlPlane.Replicas()

	switch {
	case updatedReplicas != replicas:
		nodeGroup.Status = action.InProgress()
	case observed && controlPlane.Ready():
		nodeGroup.Status = action.Complete()
	}

	if message, ok := controlPlane.FailureMessage(); ok {
		nodeGroup.StatusReason = message
	} else {
		nodeGroup.StatusReason = ""
	}

	return true, nil
}

type workerResolver struct{}

func (workerResolver) resolve(
	ctx context.Context,
	view *objects.View,
	cluster *magnum.Cluster,
	nodeGroup *magnum.NodeGroup,
) (bool, error) {
	action := nodeGroup.Status.Action()

	machineDeployment, err := view.MachineDeployment(ctx, cluster.StackID, nodeGroup.Name)
	if err != nil {
		return false, err
	}

	if machineDeployment == nil {
		if action == magnum.ActionDelete {
			nodeGroup.Status = magnum.StatusDeleteComplete

			return true, nil
		}

		return false, nil
	}

	switch machineDeployment.Phase() {
	case clusterv1.MachineDeploymentPhaseScalingUp, clusterv1.MachineDeploymentPhaseScalingDown:
		nodeGroup.Status = action.InProgress()
	case clusterv1.MachineDeploymentPhaseRunning:
		nodeGroup.Status = action.Complete()
	case clusterv1.MachineDeploymentPhaseFailed, clusterv1.MachineDeploymentPhaseUnknown:
		nodeGroup.Status = action.Failed()

		if message, ok := machineDeployment.FailureMessage(); ok {
			nodeGroup.StatusReason = message
		}
	}

	// The autoscaler bounds live on the machine deployment, not in the
	// topology, so they are propagated on every resolution.
	err = machineDeployment.SyncAutoscalerAnnotations(ctx, nodeGroup.MinNodeCount, nodeGroup.MaxNodeCount)
	if err != nil {
		return false, err
	}

	return true, nil
}
