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

package consts

import (
	"time"
)

const (
	// SystemNamespace is the management-cluster namespace holding all
	// generated Cluster API objects and secrets.
	SystemNamespace = "magnum-system"

	// WorkloadAddonNamespace is the fixed workload-cluster namespace that
	// managed add-on releases are deployed into.
	WorkloadAddonNamespace = "kube-system"

	// CloudControllerManagerReleaseName is the release name of the managed
	// OpenStack cloud-controller-manager add-on.
	CloudControllerManagerReleaseName = "cloud-controller-manager"

	// CinderCSIReleaseName is the release name of the managed block-storage
	// CSI driver add-on.
	CinderCSIReleaseName = "openstack-cinder-csi"

	// AutoscalerReleaseSuffix is appended to a cluster's stack ID to name its
	// cluster-autoscaler release on the management cluster.
	AutoscalerReleaseSuffix = "-autoscaler"

	// AutoscalerMinSizeAnnotation marks the minimum size of a machine
	// deployment for the cluster autoscaler.
	AutoscalerMinSizeAnnotation = "cluster.x-k8s.io/cluster-api-autoscaler-node-group-min-size"

	// AutoscalerMaxSizeAnnotation marks the maximum size of a machine
	// deployment for the cluster autoscaler.
	AutoscalerMaxSizeAnnotation = "cluster.x-k8s.io/cluster-api-autoscaler-node-group-max-size"

	// DefaultSyncPeriod is the default interval between reconciliation passes
	// of the agent loop.
	DefaultSyncPeriod = 60 * time.Second

	// DefaultHelmTimeout bounds every Helm release operation.
	DefaultHelmTimeout = 2 * time.Minute

	// FieldOwner is the field manager name used for server-side apply.
	FieldOwner = "cluster-api-driver-magnum"
)
