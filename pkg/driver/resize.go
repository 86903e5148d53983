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
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log"

	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/objects"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/providerid"
)

// ResizeCluster changes a node group's replica count. When nodesToRemove
// names specific instances, the matching machines are annotated for targeted
// deletion before the count is lowered so the scale-down removes exactly
// those machines.
func (d *Driver) ResizeCluster(
	ctx context.Context,
	cluster *magnum.Cluster,
	nodeGroup *magnum.NodeGroup,
	nodeCount int,
	nodesToRemove []string,
) error {
	logger := log.FromContext(ctx)

	if nodeGroup == nil {
		nodeGroup = cluster.DefaultWorkerNodeGroup()
		if nodeGroup == nil {
			return errors.New("cluster has no worker node group")
		}
	}

	nodeGroup.NodesToRemove = nodesToRemove

	if len(nodesToRemove) > 0 {
		if err := d.markMachinesForDeletion(ctx, cluster, nodeGroup, nodesToRemove); err != nil {
			return err
		}
	}

	logger.Info("Resizing node group",
		"cluster", cluster.UUID, "nodeGroup", nodeGroup.Name, "nodeCount", nodeCount)

	nodeGroup.NodeCount = nodeCount

	if err := d.Store.SaveNodeGroup(ctx, cluster, nodeGroup); err != nil {
		return errors.Wrapf(err, "persisting node group %s", nodeGroup.Name)
	}

	return d.Applier.Apply(ctx, cluster, nil)
}

func (d *Driver) markMachinesForDeletion(
	ctx context.Context,
	cluster *magnum.Cluster,
	nodeGroup *magnum.NodeGroup,
	nodesToRemove []string,
) error {
	view := objects.NewView(d.Client, d.Namespace)

	machines, err := view.Machines(ctx, cluster.StackID, nodeGroup.Name)
	if err != nil {
		return errors.Wrap(err, "listing machines")
	}

	doomed := sets.New(nodesToRemove...)

	for i := range machines {
		machine := &machines[i]

		if machine.Spec.ProviderID == nil {
			continue
		}

		instanceID, err := providerid.Parse(*machine.Spec.ProviderID)
		if err != nil {
			return errors.Wrapf(err, "machine %s", machine.Name)
		}

		if !doomed.Has(instanceID) {
			continue
		}

		if machine.Annotations[clusterv1.DeleteMachineAnnotation] == "yes" {
			continue
		}

		patch := ctrlclient.MergeFrom(machine.DeepCopy())

		if machine.Annotations == nil {
			machine.Annotations = map[string]string{}
		}
		machine.Annotations[clusterv1.DeleteMachineAnnotation] = "yes"

		if err := d.Client.Patch(ctx, machine, patch); err != nil {
			return errors.Wrapf(err, "annotating machine %s", machine.Name)
		}
	}

	return nil
}
