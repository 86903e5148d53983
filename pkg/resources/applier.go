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

package resources

import (
	"context"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/consts"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
)

const (
	clusterClassLabel   = "cluster_class"
	defaultClusterClass = "magnum-v1"
	defaultWorkerClass  = "default-worker"
)

// ClusterApplier translates an orchestration record into the declarative
// Cluster API manifest and submits it with server-side apply. Convergence is
// asynchronous; submission success is the only result.
type ClusterApplier struct {
	Client    ctrlclient.Client
	Namespace string
}

// Apply submits the record's desired state, optionally overriding the
// cluster template (used during upgrades).
func (a *ClusterApplier) Apply(ctx context.Context, cluster *magnum.Cluster, template *magnum.ClusterTemplate) error {
	if template == nil {
		template = cluster.Template
	}

	capiCluster := a.render(cluster, template)

	err := a.Client.Patch(ctx, capiCluster, ctrlclient.Apply,
		ctrlclient.ForceOwnership, ctrlclient.FieldOwner(consts.FieldOwner))
	if err != nil {
		return errors.Wrapf(err, "applying cluster %s", cluster.StackID)
	}

	return nil
}

func (a *ClusterApplier) render(cluster *magnum.Cluster, template *magnum.ClusterTemplate) *clusterv1.Cluster {
	version := cluster.COEVersion
	if template != nil && template.KubeVersion != "" {
		version = template.KubeVersion
	}

	class := cluster.Labels[clusterClassLabel]
	if class == "" {
		class = defaultClusterClass
	}

	topology := &clusterv1.Topology{
		Class:   class,
		Version: version,
		Workers: &clusterv1.WorkersTopology{},
	}

	for _, nodeGroup := range cluster.NodeGroups {
		if nodeGroup.Role == magnum.RoleMaster {
			topology.ControlPlane = clusterv1.ControlPlaneTopology{
				Replicas: ptr.To(int32(nodeGroup.NodeCount)), //nolint:gosec
			}

			continue
		}

		if nodeGroup.Status == magnum.StatusDeleteInProgress {
			continue
		}

		topology.Workers.MachineDeployments = append(topology.Workers.MachineDeployments,
			clusterv1.MachineDeploymentTopology{
				Class:    defaultWorkerClass,
				Name:     nodeGroup.Name,
				Replicas: ptr.To(int32(nodeGroup.NodeCount)), //nolint:gosec
			})
	}

	return &clusterv1.Cluster{
		TypeMeta: metav1.TypeMeta{
			APIVersion: clusterv1.GroupVersion.String(),
			Kind:       "Cluster",
		},
		ObjectMeta: metav1.ObjectMeta{
			Namespace: a.Namespace,
			Name:      cluster.StackID,
			Labels: map[string]string{
				"magnum.openstack.org/cluster-uuid": cluster.UUID,
				"magnum.openstack.org/project-id":   cluster.ProjectID,
			},
		},
		Spec: clusterv1.ClusterSpec{
			Topology: topology,
		},
	}
}
