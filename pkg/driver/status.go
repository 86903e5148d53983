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
	"sigs.k8s.io/controller-runtime/pkg/log"

	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	"sigs.k8s.io/cluster-api/util/secret"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/addons"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/consts"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/objects"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/resources"
)

// completionConditions are the convergence conditions that must all be true
// before a cluster-level transition to a completed status.
var completionConditions = []clusterv1.ConditionType{
	clusterv1.ControlPlaneReadyCondition,
	clusterv1.InfrastructureReadyCondition,
	clusterv1.ReadyCondition,
}

// UpdateClusterStatus runs one reconciliation pass for the record: it
// resolves every node group, then derives the cluster-level status from
// aggregated node group statuses and infrastructure readiness. Every early
// return without error is a deliberate "not ready yet" outcome which the next
// scheduled pass re-evaluates from scratch.
func (d *Driver) UpdateClusterStatus(ctx context.Context, cluster *magnum.Cluster) error {
	logger := log.FromContext(ctx)

	view := objects.NewView(d.Client, d.Namespace)

	nodeGroups := make([]*magnum.NodeGroup, 0, len(cluster.NodeGroups))

	for _, nodeGroup := range cluster.NodeGroups {
		resolved, err := d.updateNodeGroupStatus(ctx, view, cluster, nodeGroup)
		if err != nil {
			return err
		}

		nodeGroups = append(nodeGroups, resolved)
	}

	capiCluster, err := view.Cluster(ctx, cluster.StackID)
	if err != nil {
		return err
	}

	switch cluster.Status {
	case magnum.StatusCreateInProgress, magnum.StatusUpdateInProgress:
		// A status update may run before the cluster has been submitted; in
		// that case there is nothing to observe yet.
		if capiCluster == nil {
			return nil
		}

		if err := capiCluster.Reload(ctx); err != nil {
			return errors.Wrap(err, "reloading cluster")
		}

		if err := d.reconcileAPIAddress(ctx, cluster, capiCluster); err != nil {
			return err
		}

		if err := d.reconcileCOEVersion(ctx, cluster, capiCluster); err != nil {
			return err
		}

		if err := d.reconcileAddons(ctx, view, cluster, capiCluster); err != nil {
			if errors.Is(err, addons.ErrClusterNotReady) {
				logger.V(1).Info("Cluster not ready for add-on reconciliation", "reason", err.Error())

				return nil
			}

			return err
		}

		for _, condition := range completionConditions {
			if !capiCluster.IsConditionTrue(condition) {
				return nil
			}
		}

		for _, nodeGroup := range nodeGroups {
			if !nodeGroup.Status.IsComplete() {
				return nil
			}

			if nodeGroup.Status == magnum.StatusDeleteComplete {
				if err := d.Store.DeleteNodeGroup(ctx, cluster, nodeGroup); err != nil {
					return errors.Wrapf(err, "removing node group %s", nodeGroup.Name)
				}

				cluster.RemoveNodeGroup(nodeGroup.Name)
			}
		}

		// NOTE(vexxhost): the CREATE_IN_PROGRESS -> CREATE_COMPLETE
		// transition stays disabled on purpose; creation completion is
		// driven elsewhere.
		//
		// if cluster.Status == magnum.StatusCreateInProgress {
		//     cluster.Status = magnum.StatusCreateComplete
		// }
		if cluster.Status == magnum.StatusUpdateInProgress {
			cluster.Status = magnum.StatusUpdateComplete
		}

		if err := d.Store.SaveCluster(ctx, cluster); err != nil {
			return errors.Wrap(err, "persisting cluster record")
		}

	case magnum.StatusDeleteInProgress:
		// Credentials and secrets stay in place until the infrastructure
		// layer has finished its own teardown and cannot need them anymore.
		if capiCluster != nil {
			return nil
		}

		if err := d.Credentials.Delete(ctx, cluster.UserID, cluster.UUID); err != nil {
			return errors.Wrap(err, "revoking application credential")
		}

		secretNames := []string{resources.CloudConfigSecretName(cluster)}
		for _, purpose := range resources.CertificateAuthorityPurposes {
			secretNames = append(secretNames, secret.Name(cluster.StackID, purpose))
		}

		for _, name := range secretNames {
			if err := resources.DeleteSecret(ctx, d.Client, d.Namespace, name); err != nil {
				return err
			}
		}

		cluster.Status = magnum.StatusDeleteComplete

		if err := d.Store.SaveCluster(ctx, cluster); err != nil {
			return errors.Wrap(err, "persisting cluster record")
		}
	}

	return nil
}

func (d *Driver) reconcileAPIAddress(ctx context.Context, cluster *magnum.Cluster, capiCluster *objects.ClusterResource) error {
	address, ok := capiCluster.APIAddress()
	if !ok || cluster.APIAddress == address {
		return nil
	}

	cluster.APIAddress = address

	return errors.Wrap(d.Store.SaveCluster(ctx, cluster), "persisting api address")
}

func (d *Driver) reconcileCOEVersion(ctx context.Context, cluster *magnum.Cluster, capiCluster *objects.ClusterResource) error {
	version, ok := capiCluster.KubernetesVersion()
	if !ok || cluster.COEVersion == version {
		return nil
	}

	cluster.COEVersion = version

	return errors.Wrap(d.Store.SaveCluster(ctx, cluster), "persisting coe version")
}

func (d *Driver) reconcileAddons(
	ctx context.Context,
	view *objects.View,
	cluster *magnum.Cluster,
	capiCluster *objects.ClusterResource,
) error {
	kubeconfig, err := view.Kubeconfig(ctx, cluster.StackID)
	if err != nil {
		return err
	}

	if kubeconfig == nil {
		return errors.Wrap(addons.ErrClusterNotReady, "kubeconfig secret does not exist yet")
	}

	releases, err := d.ReleaseClients(kubeconfig, consts.WorkloadAddonNamespace)
	if err != nil {
		return errors.Wrapf(addons.ErrClusterNotReady, "building release client: %v", err)
	}

	reconciler := &addons.Reconciler{Releases: releases}

	ccmValues, err := addons.CloudControllerManagerValues(cluster, capiCluster)
	if err != nil {
		return err
	}

	err = reconciler.Reconcile(ctx, consts.CloudControllerManagerReleaseName, d.CloudControllerManagerChart, ccmValues)
	if err != nil {
		return err
	}

	csiValues, err := addons.CinderCSIValues(cluster, capiCluster)
	if err != nil {
		return err
	}

	return reconciler.Reconcile(ctx, consts.CinderCSIReleaseName, d.CinderCSIChart, csiValues)
}
