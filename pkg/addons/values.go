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

package addons

import (
	"github.com/pkg/errors"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/objects"
)

const (
	cloudProviderTagLabel = "cloud_provider_tag"
	cinderCSITagLabel     = "cinder_csi_plugin_tag"
)

// CloudControllerManagerValues generates the desired configuration of the
// OpenStack cloud-controller-manager release. The image tag follows the
// cluster's Kubernetes version unless overridden by the record's labels; a
// cluster whose version is not yet populated is not ready.
func CloudControllerManagerValues(cluster *magnum.Cluster, capiCluster *objects.ClusterResource) (map[string]interface{}, error) {
	version, ok := capiCluster.KubernetesVersion()
	if !ok {
		return nil, errors.Wrap(ErrClusterNotReady, "kubernetes version is not populated yet")
	}

	tag := cluster.Labels[cloudProviderTagLabel]
	if tag == "" {
		tag = version
	}

	return map[string]interface{}{
		"image": map[string]interface{}{
			"tag": tag,
		},
		"secret": map[string]interface{}{
			"create": false,
			"name":   "cloud-config",
		},
		"cluster": map[string]interface{}{
			"name": cluster.StackID,
		},
		"nodeSelector": map[string]interface{}{
			"node-role.kubernetes.io/control-plane": "",
		},
		"tolerations": []interface{}{
			map[string]interface{}{
				"key":    "node.cloudprovider.kubernetes.io/uninitialized",
				"value":  "true",
				"effect": "NoSchedule",
			},
			map[string]interface{}{
				"key":    "node-role.kubernetes.io/control-plane",
				"effect": "NoSchedule",
			},
		},
	}, nil
}

// CinderCSIValues generates the desired configuration of the block-storage CSI
// driver release.
func CinderCSIValues(cluster *magnum.Cluster, capiCluster *objects.ClusterResource) (map[string]interface{}, error) {
	version, ok := capiCluster.KubernetesVersion()
	if !ok {
		return nil, errors.Wrap(ErrClusterNotReady, "kubernetes version is not populated yet")
	}

	tag := cluster.Labels[cinderCSITagLabel]
	if tag == "" {
		tag = version
	}

	return map[string]interface{}{
		"secret": map[string]interface{}{
			"enabled": true,
			"name":    "cloud-config",
		},
		"csi": map[string]interface{}{
			"plugin": map[string]interface{}{
				"image": map[string]interface{}{
					"tag": tag,
				},
			},
		},
		"clusterID": cluster.UUID,
	}, nil
}
