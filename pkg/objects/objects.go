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

// Package objects gives typed, read-only access to the declarative Cluster API
// resources backing an orchestration record. A resource that does not exist
// yet is an explicit nil, never an error: absence means "not yet converged".
package objects

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	controlplanev1 "sigs.k8s.io/cluster-api/controlplane/kubeadm/api/v1beta1"
	"sigs.k8s.io/cluster-api/util/conditions"
	"sigs.k8s.io/cluster-api/util/secret"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/consts"
)

// View reads infrastructure resources for one reconciliation pass. The client
// handle is passed in explicitly; the view holds no process-wide state.
type View struct {
	client    ctrlclient.Client
	namespace string
}

// NewView returns a view over the given namespace.
func NewView(client ctrlclient.Client, namespace string) *View {
	return &View{client: client, namespace: namespace}
}

// Cluster returns the Cluster API cluster named by the record's stack ID, or
// nil when it does not exist.
func (v *View) Cluster(ctx context.Context, name string) (*ClusterResource, error) {
	resource := &ClusterResource{
		client:    v.client,
		namespace: v.namespace,
		name:      name,
	}

	if err := resource.Reload(ctx); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}

		return nil, errors.Wrapf(err, "getting cluster %s/%s", v.namespace, name)
	}

	return resource, nil
}

// DeleteCluster requests deletion of the Cluster API cluster. An already
// absent cluster is not an error.
func (v *View) DeleteCluster(ctx context.Context, name string) error {
	capiCluster := &clusterv1.Cluster{}
	capiCluster.Namespace = v.namespace
	capiCluster.Name = name

	if err := v.client.Delete(ctx, capiCluster); err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "deleting cluster %s/%s", v.namespace, name)
	}

	return nil
}

// ControlPlane returns the KubeadmControlPlane owned by the named cluster, or
// nil when none exists yet.
func (v *View) ControlPlane(ctx context.Context, clusterName string) (*ControlPlaneResource, error) {
	list := &controlplanev1.KubeadmControlPlaneList{}

	err := v.client.List(ctx, list,
		ctrlclient.InNamespace(v.namespace),
		ctrlclient.MatchingLabels{clusterv1.ClusterNameLabel: clusterName})
	if err != nil {
		return nil, errors.Wrapf(err, "listing control planes for cluster %s", clusterName)
	}

	if len(list.Items) == 0 {
		return nil, nil
	}

	return &ControlPlaneResource{obj: &list.Items[0]}, nil
}

// MachineDeployment returns the machine deployment backing the named node
// group, or nil when none exists yet.
func (v *View) MachineDeployment(ctx context.Context, clusterName, nodeGroupName string) (*MachineDeploymentResource, error) {
	list := &clusterv1.MachineDeploymentList{}

	err := v.client.List(ctx, list,
		ctrlclient.InNamespace(v.namespace),
		ctrlclient.MatchingLabels{
			clusterv1.ClusterNameLabel:                          clusterName,
			clusterv1.ClusterTopologyMachineDeploymentNameLabel: nodeGroupName,
		})
	if err != nil {
		return nil, errors.Wrapf(err, "listing machine deployments for node group %s", nodeGroupName)
	}

	if len(list.Items) == 0 {
		return nil, nil
	}

	return &MachineDeploymentResource{client: v.client, obj: &list.Items[0]}, nil
}

// Machines lists the machines belonging to the named node group.
func (v *View) Machines(ctx context.Context, clusterName, nodeGroupName string) ([]clusterv1.Machine, error) {
	list := &clusterv1.MachineList{}

	err := v.client.List(ctx, list,
		ctrlclient.InNamespace(v.namespace),
		ctrlclient.MatchingLabels{
			clusterv1.ClusterNameLabel:                          clusterName,
			clusterv1.ClusterTopologyMachineDeploymentNameLabel: nodeGroupName,
		})
	if err != nil {
		return nil, errors.Wrapf(err, "listing machines for node group %s", nodeGroupName)
	}

	return list.Items, nil
}

// Kubeconfig returns the admin kubeconfig bytes for the named cluster, or nil
// when the kubeconfig secret has not been written yet.
func (v *View) Kubeconfig(ctx context.Context, clusterName string) ([]byte, error) {
	kubeconfigSecret := &corev1.Secret{}

	err := v.client.Get(ctx, ctrlclient.ObjectKey{
		Namespace: v.namespace,
		Name:      secret.Name(clusterName, secret.Kubeconfig),
	}, kubeconfigSecret)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}

		return nil, errors.Wrapf(err, "getting kubeconfig secret for cluster %s", clusterName)
	}

	return kubeconfigSecret.Data[secret.KubeconfigDataName], nil
}

// ClusterResource wraps a Cluster API cluster object.
type ClusterResource struct {
	client    ctrlclient.Client
	namespace string
	name      string
	obj       *clusterv1.Cluster
}

// Reload re-fetches the object so that decisions never act on a snapshot from
// a previous pass.
func (r *ClusterResource) Reload(ctx context.Context) error {
	obj := &clusterv1.Cluster{}

	if err := r.client.Get(ctx, ctrlclient.ObjectKey{Namespace: r.namespace, Name: r.name}, obj); err != nil {
		return err
	}

	r.obj = obj

	return nil
}

// Object exposes the underlying cluster object.
func (r *ClusterResource) Object() *clusterv1.Cluster {
	return r.obj
}

// APIAddress returns the workload API endpoint URL, reporting false while the
// control plane endpoint has not been populated.
func (r *ClusterResource) APIAddress() (string, bool) {
	endpoint := r.obj.Spec.ControlPlaneEndpoint
	if endpoint.IsZero() {
		return "", false
	}

	return fmt.Sprintf("https://%s:%d", endpoint.Host, endpoint.Port), true
}

// KubernetesVersion returns the managed topology version, reporting false for
// clusters without one.
func (r *ClusterResource) KubernetesVersion() (string, bool) {
	if r.obj.Spec.Topology == nil || r.obj.Spec.Topology.Version == "" {
		return "", false
	}

	return r.obj.Spec.Topology.Version, true
}

// IsConditionTrue reports whether the named convergence condition is true.
func (r *ClusterResource) IsConditionTrue(t clusterv1.ConditionType) bool {
	return conditions.IsTrue(r.obj, t)
}

// ControlPlaneResource wraps a KubeadmControlPlane. Optional status fields are
// surfaced as explicit (value, ok) pairs so callers handle "not yet populated"
// deliberately.
type ControlPlaneResource struct {
	obj *controlplanev1.KubeadmControlPlane
}

// Object exposes the underlying control plane object.
func (r *ControlPlaneResource) Object() *controlplanev1.KubeadmControlPlane {
	return r.obj
}

// ObservedGeneration is the generation last acted on by the control-plane
// controller; zero while the status has never been written.
func (r *ControlPlaneResource) ObservedGeneration() int64 {
	return r.obj.Status.ObservedGeneration
}

// Ready reports whether the control plane is ready to serve requests.
func (r *ControlPlaneResource) Ready() bool {
	return r.obj.Status.Ready
}

// FailureMessage returns the terminal failure description, if any.
func (r *ControlPlaneResource) FailureMessage() (string, bool) {
	if r.obj.Status.FailureMessage == nil {
		return "", false
	}

	return *r.obj.Status.FailureMessage, true
}

// Replicas returns the observed replica count; ok is false while the status
// has never been reconciled.
func (r *ControlPlaneResource) Replicas() (int32, bool) {
	return r.obj.Status.Replicas, r.obj.Status.ObservedGeneration > 0
}

// UpdatedReplicas returns the count of replicas matching the current spec; ok
// is false while the status has never been reconciled.
func (r *ControlPlaneResource) UpdatedReplicas() (int32, bool) {
	return r.obj.Status.UpdatedReplicas, r.obj.Status.ObservedGeneration > 0
}

// MachineDeploymentResource wraps a MachineDeployment.
type MachineDeploymentResource struct {
	client ctrlclient.Client
	obj    *clusterv1.MachineDeployment
}

// Object exposes the underlying machine deployment object.
func (r *MachineDeploymentResource) Object() *clusterv1.MachineDeployment {
	return r.obj
}

// Phase returns the deployment lifecycle phase.
func (r *MachineDeploymentResource) Phase() clusterv1.MachineDeploymentPhase {
	return clusterv1.MachineDeploymentPhase(r.obj.Status.Phase)
}

// FailureMessage returns a human-readable description of why the deployment
// is failing, sourced from the false Ready condition when one is recorded.
func (r *MachineDeploymentResource) FailureMessage() (string, bool) {
	ready := conditions.Get(r.obj, clusterv1.ReadyCondition)
	if ready != nil && ready.Status == corev1.ConditionFalse && ready.Message != "" {
		return ready.Message, true
	}

	phase := r.Phase()
	if phase == clusterv1.MachineDeploymentPhaseFailed || phase == clusterv1.MachineDeploymentPhaseUnknown {
		return fmt.Sprintf("machine deployment %s is in phase %s", r.obj.Name, phase), true
	}

	return "", false
}

// SyncAutoscalerAnnotations propagates node group size bounds onto the machine
// deployment for the cluster autoscaler. Writing identical values is skipped.
func (r *MachineDeploymentResource) SyncAutoscalerAnnotations(ctx context.Context, minSize, maxSize int) error {
	minValue := fmt.Sprintf("%d", minSize)
	maxValue := fmt.Sprintf("%d", maxSize)

	if r.obj.Annotations[consts.AutoscalerMinSizeAnnotation] == minValue &&
		r.obj.Annotations[consts.AutoscalerMaxSizeAnnotation] == maxValue {
		return nil
	}

	patched := r.obj.DeepCopy()
	if patched.Annotations == nil {
		patched.Annotations = map[string]string{}
	}

	patched.Annotations[consts.AutoscalerMinSizeAnnotation] = minValue
	patched.Annotations[consts.AutoscalerMaxSizeAnnotation] = maxValue

	if err := r.client.Patch(ctx, patched, ctrlclient.MergeFrom(r.obj)); err != nil {
		return errors.Wrapf(err, "syncing autoscaler annotations on %s", r.obj.Name)
	}

	r.obj = patched

	return nil
}
