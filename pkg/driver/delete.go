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

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/consts"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/objects"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/resources"
)

// DeleteCluster starts the teardown of a cluster. Cloud-facing resources go
// first so that nothing keeps recreating them, then the declarative resources
// on the management cluster. Credentials and secrets are intentionally left
// behind; UpdateClusterStatus removes them once the infrastructure cluster is
// gone.
func (d *Driver) DeleteCluster(ctx context.Context, cluster *magnum.Cluster) error {
	logger := log.FromContext(ctx)
	logger.Info("Deleting cluster", "cluster", cluster.UUID, "stackID", cluster.StackID)

	if err := d.LoadBalancers.DeleteForCluster(ctx, cluster.UUID); err != nil {
		return errors.Wrap(err, "deleting load balancers")
	}

	if err := resources.DeleteClusterResourceSet(ctx, d.Client, d.Namespace, cluster); err != nil {
		return err
	}

	if err := resources.DeleteResourcesConfigMap(ctx, d.Client, d.Namespace, cluster); err != nil {
		return err
	}

	view := objects.NewView(d.Client, d.Namespace)

	if err := view.DeleteCluster(ctx, cluster.StackID); err != nil {
		return errors.Wrap(err, "deleting cluster object")
	}

	if d.ManagementReleases != nil {
		err := d.ManagementReleases.Uninstall(ctx, cluster.StackID+consts.AutoscalerReleaseSuffix)
		if err != nil {
			return errors.Wrap(err, "uninstalling autoscaler release")
		}
	}

	cluster.Status = magnum.StatusDeleteInProgress

	return errors.Wrap(d.Store.SaveCluster(ctx, cluster), "persisting cluster record")
}
