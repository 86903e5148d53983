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

// Package driver implements the reconciliation core between orchestration
// records and the Cluster API resources converging on the management cluster.
// Every entry point is a single pass: it derives at most one status
// transition from current infrastructure state and is safe to repeat.
package driver

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/apiserver/pkg/storage/names"
	"sigs.k8s.io/controller-runtime/pkg/log"

	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/addons"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/openstack"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/resources"
)

// ErrNotImplemented marks operations this driver does not support. Callers
// must not retry.
var ErrNotImplemented = errors.New("operation is not implemented")

// CredentialService issues and revokes application credentials scoped to
// (user, cluster uuid). Delete swallows "not found".
type CredentialService interface {
	Create(ctx context.Context, userID, name, description string) (*openstack.Credential, error)
	Delete(ctx context.Context, userID, name string) error
}

// LoadBalancerCleaner tears down the load balancers created for a cluster.
type LoadBalancerCleaner interface {
	DeleteForCluster(ctx context.Context, clusterUUID string) error
}

// Applier submits the record's desired state to the declarative
// infrastructure layer, optionally overriding the cluster template.
type Applier interface {
	Apply(ctx context.Context, cluster *magnum.Cluster, template *magnum.ClusterTemplate) error
}

// ReleaseClientFactory builds a release client for one target cluster from
// ephemeral kubeconfig bytes.
type ReleaseClientFactory func(kubeconfig []byte, namespace string) (addons.ReleaseClient, error)

// Driver reconciles orchestration records against the management cluster. The
// client handle is scoped to the process and passed explicitly into every
// pass; no hidden global state is involved.
type Driver struct {
	Client    ctrlclient.Client
	Store     magnum.Store
	Namespace string

	AuthURL string
	Region  string

	Credentials   CredentialService
	LoadBalancers LoadBalancerCleaner
	Applier       Applier

	// ReleaseClients builds per-pass clients for workload-cluster add-on
	// releases; ManagementReleases operates on the management cluster itself
	// (cluster autoscaler).
	ReleaseClients     ReleaseClientFactory
	ManagementReleases addons.ReleaseClient

	CloudControllerManagerChart string
	CinderCSIChart              string
}

// CreateCluster provisions the per-cluster prerequisites and submits the
// initial desired state. Convergence is observed asynchronously by
// UpdateClusterStatus.
func (d *Driver) CreateCluster(ctx context.Context, cluster *magnum.Cluster) error {
	logger := log.FromContext(ctx)

	if cluster.StackID == "" {
		cluster.StackID = names.SimpleNameGenerator.GenerateName("kube-")

		if err := d.Store.SaveCluster(ctx, cluster); err != nil {
			return errors.Wrap(err, "persisting generated stack ID")
		}
	}

	if err := resources.ApplyNamespace(ctx, d.Client, d.Namespace); err != nil {
		return err
	}

	credential, err := d.Credentials.Create(ctx, cluster.UserID, cluster.UUID,
		fmt.Sprintf("Magnum cluster (%s)", cluster.UUID))
	if err != nil {
		return err
	}

	if err := resources.ApplyCloudConfigSecret(ctx, d.Client, d.Namespace, cluster, d.AuthURL, d.Region, credential); err != nil {
		return err
	}

	if err := resources.ApplyCertificateAuthoritySecrets(ctx, d.Client, d.Namespace, cluster); err != nil {
		return err
	}

	logger.Info("Submitting initial cluster state", "cluster", cluster.UUID, "stack", cluster.StackID)

	return d.Applier.Apply(ctx, cluster, nil)
}

// UpgradeCluster submits the desired state with the new template; the rolling
// upgrade is carried out by the infrastructure controllers.
func (d *Driver) UpgradeCluster(ctx context.Context, cluster *magnum.Cluster, template *magnum.ClusterTemplate) error {
	return d.Applier.Apply(ctx, cluster, template)
}

// UpdateCluster performs an in-place cluster update, which this driver does
// not support.
func (d *Driver) UpdateCluster(_ context.Context, _ *magnum.Cluster) error {
	return errors.Wrap(ErrNotImplemented, "update cluster")
}

// CreateNodeGroup submits the desired state including the new node group.
func (d *Driver) CreateNodeGroup(ctx context.Context, cluster *magnum.Cluster, _ *magnum.NodeGroup) error {
	return d.Applier.Apply(ctx, cluster, nil)
}

// UpdateNodeGroup submits the desired state with the node group's new shape.
func (d *Driver) UpdateNodeGroup(ctx context.Context, cluster *magnum.Cluster, _ *magnum.NodeGroup) error {
	return d.Applier.Apply(ctx, cluster, nil)
}

// DeleteNodeGroup marks the node group for deletion and submits the desired
// state without it; the resolver observes completion asynchronously.
func (d *Driver) DeleteNodeGroup(ctx context.Context, cluster *magnum.Cluster, nodeGroup *magnum.NodeGroup) error {
	nodeGroup.Status = magnum.StatusDeleteInProgress

	if err := d.Store.SaveNodeGroup(ctx, cluster, nodeGroup); err != nil {
		return errors.Wrapf(err, "persisting node group %s", nodeGroup.Name)
	}

	return d.Applier.Apply(ctx, cluster, nil)
}

// CreateFederation is not supported by this driver.
func (d *Driver) CreateFederation(_ context.Context) error {
	return errors.Wrap(ErrNotImplemented, "create federation")
}

// UpdateFederation is not supported by this driver.
func (d *Driver) UpdateFederation(_ context.Context) error {
	return errors.Wrap(ErrNotImplemented, "update federation")
}

// DeleteFederation is not supported by this driver.
func (d *Driver) DeleteFederation(_ context.Context) error {
	return errors.Wrap(ErrNotImplemented, "delete federation")
}
