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

package driver_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	controlplanev1 "sigs.k8s.io/cluster-api/controlplane/kubeadm/api/v1beta1"
	"sigs.k8s.io/cluster-api/util/conditions"
	"sigs.k8s.io/cluster-api/util/secret"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/addons"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/consts"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/driver"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/resources"
)

var _ = Describe("Cluster status resolution", func() {
	var (
		ctx         context.Context
		store       *magnum.MemoryStore
		cluster     *magnum.Cluster
		credentials *fakeCredentials
		releases    *fakeReleases
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = magnum.NewMemoryStore()
		credentials = &fakeCredentials{}
		releases = &fakeReleases{}

		cluster = &magnum.Cluster{
			UUID:    uuid.NewString(),
			UserID:  "5bd0e4a8d0724f6d8ff5e36b0e5a936c",
			StackID: "kube-abc123",
			Status:  magnum.StatusCreateInProgress,
			NodeGroups: []*magnum.NodeGroup{
				{Name: "default-master", Role: magnum.RoleMaster, Status: magnum.StatusCreateInProgress, NodeCount: 3},
				{Name: "default-worker", Role: magnum.RoleWorker, Status: magnum.StatusCreateInProgress, NodeCount: 2},
			},
		}
		Expect(store.SaveCluster(ctx, cluster)).To(Succeed())
	})

	newDriver := func(objs ...ctrlclient.Object) *driver.Driver {
		client := fake.NewClientBuilder().WithScheme(testScheme).WithObjects(objs...).Build()

		return &driver.Driver{
			Client:      client,
			Store:       store,
			Namespace:   consts.SystemNamespace,
			Credentials: credentials,
			ReleaseClients: func(_ []byte, _ string) (addons.ReleaseClient, error) {
				return releases, nil
			},
			CloudControllerManagerChart: "repo/openstack-cloud-controller-manager",
			CinderCSIChart:              "repo/openstack-cinder-csi",
		}
	}

	// convergedObjects returns the full set of infrastructure objects of a
	// settled cluster.
	convergedObjects := func(observedGeneration int64) []ctrlclient.Object {
		capiCluster := &clusterv1.Cluster{
			ObjectMeta: metav1.ObjectMeta{Name: "kube-abc123", Namespace: consts.SystemNamespace},
			Spec: clusterv1.ClusterSpec{
				ControlPlaneEndpoint: clusterv1.APIEndpoint{Host: "172.24.4.5", Port: 6443},
				Topology:             &clusterv1.Topology{Version: "v1.31.1"},
			},
		}
		conditions.MarkTrue(capiCluster, clusterv1.ReadyCondition)
		conditions.MarkTrue(capiCluster, clusterv1.ControlPlaneReadyCondition)
		conditions.MarkTrue(capiCluster, clusterv1.InfrastructureReadyCondition)

		controlPlane := &controlplanev1.KubeadmControlPlane{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "kube-abc123-cp",
				Namespace: consts.SystemNamespace,
				Labels:    map[string]string{clusterv1.ClusterNameLabel: "kube-abc123"},
			},
			Status: controlplanev1.KubeadmControlPlaneStatus{
				ObservedGeneration: observedGeneration,
				Ready:              true,
				Replicas:           3,
				UpdatedReplicas:    3,
			},
		}

		machineDeployment := &clusterv1.MachineDeployment{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "kube-abc123-default-worker",
				Namespace: consts.SystemNamespace,
				Labels: map[string]string{
					clusterv1.ClusterNameLabel:                          "kube-abc123",
					clusterv1.ClusterTopologyMachineDeploymentNameLabel: "default-worker",
				},
			},
			Status: clusterv1.MachineDeploymentStatus{
				Phase: string(clusterv1.MachineDeploymentPhaseRunning),
			},
		}

		kubeconfig := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:      secret.Name("kube-abc123", secret.Kubeconfig),
				Namespace: consts.SystemNamespace,
			},
			Data: map[string][]byte{
				secret.KubeconfigDataName: []byte("apiVersion: v1\nkind: Config\n"),
			},
		}

		return []ctrlclient.Object{capiCluster, controlPlane, machineDeployment, kubeconfig}
	}

	It("does nothing while the infrastructure cluster does not exist", func() {
		d := newDriver()

		Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
		Expect(cluster.Status).To(Equal(magnum.StatusCreateInProgress))
		Expect(releases.upgrades).To(BeEmpty())
	})

	It("syncs the API address and version from the infrastructure", func() {
		d := newDriver(convergedObjects(1)...)

		Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
		Expect(cluster.APIAddress).To(Equal("https://172.24.4.5:6443"))
		Expect(cluster.COEVersion).To(Equal("v1.31.1"))

		stored, err := store.GetCluster(ctx, cluster.UUID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.APIAddress).To(Equal("https://172.24.4.5:6443"))
	})

	It("installs the add-on releases once the cluster is reachable", func() {
		d := newDriver(convergedObjects(1)...)

		Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
		Expect(releases.upgrades).To(Equal([]string{
			consts.CloudControllerManagerReleaseName,
			consts.CinderCSIReleaseName,
		}))

		// A second pass with unchanged values writes nothing more.
		Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
		Expect(releases.upgrades).To(HaveLen(2))
	})

	It("aborts the pass quietly while the kubeconfig is missing", func() {
		objs := convergedObjects(1)
		d := newDriver(objs[:len(objs)-1]...)

		Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
		Expect(cluster.Status).To(Equal(magnum.StatusCreateInProgress))
		Expect(releases.upgrades).To(BeEmpty())
	})

	It("does not complete an update while a condition is false", func() {
		cluster.Status = magnum.StatusUpdateInProgress
		cluster.NodeGroups[0].Status = magnum.StatusUpdateInProgress
		cluster.NodeGroups[1].Status = magnum.StatusUpdateInProgress
		Expect(store.SaveCluster(ctx, cluster)).To(Succeed())

		objs := convergedObjects(2)
		capiCluster := objs[0].(*clusterv1.Cluster)
		conditions.MarkFalse(capiCluster, clusterv1.InfrastructureReadyCondition,
			"WaitingForInfrastructure", clusterv1.ConditionSeverityInfo, "")

		d := newDriver(objs...)

		Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
		Expect(cluster.Status).To(Equal(magnum.StatusUpdateInProgress))
	})

	It("completes an update once everything converged", func() {
		cluster.Status = magnum.StatusUpdateInProgress
		cluster.NodeGroups[0].Status = magnum.StatusUpdateInProgress
		cluster.NodeGroups[1].Status = magnum.StatusUpdateInProgress
		Expect(store.SaveCluster(ctx, cluster)).To(Succeed())

		d := newDriver(convergedObjects(2)...)

		Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
		Expect(cluster.Status).To(Equal(magnum.StatusUpdateComplete))

		stored, err := store.GetCluster(ctx, cluster.UUID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.Status).To(Equal(magnum.StatusUpdateComplete))
	})

	It("leaves a converged creation in progress", func() {
		d := newDriver(convergedObjects(1)...)

		Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
		Expect(cluster.Status).To(Equal(magnum.StatusCreateInProgress))
	})

	It("drops node groups whose deletion has completed", func() {
		cluster.Status = magnum.StatusUpdateInProgress
		cluster.NodeGroups[0].Status = magnum.StatusUpdateInProgress
		cluster.NodeGroups[1].Status = magnum.StatusDeleteInProgress
		Expect(store.SaveCluster(ctx, cluster)).To(Succeed())

		// No machine deployment exists for the worker group, so its deletion
		// resolves as complete.
		objs := convergedObjects(2)
		d := newDriver(objs[0], objs[1], objs[3])

		Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
		Expect(cluster.Status).To(Equal(magnum.StatusUpdateComplete))
		Expect(cluster.NodeGroups).To(HaveLen(1))
		Expect(cluster.NodeGroups[0].Name).To(Equal("default-master"))

		stored, err := store.GetCluster(ctx, cluster.UUID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.NodeGroups).To(HaveLen(1))
	})

	Context("while a deletion is in progress", func() {
		var perClusterSecrets []*corev1.Secret

		BeforeEach(func() {
			cluster.Status = magnum.StatusDeleteInProgress
			cluster.NodeGroups = nil
			Expect(store.SaveCluster(ctx, cluster)).To(Succeed())

			names := []string{resources.CloudConfigSecretName(cluster)}
			for _, purpose := range resources.CertificateAuthorityPurposes {
				names = append(names, secret.Name(cluster.StackID, purpose))
			}

			perClusterSecrets = nil
			for _, name := range names {
				perClusterSecrets = append(perClusterSecrets, &corev1.Secret{
					ObjectMeta: metav1.ObjectMeta{
						Name:      name,
						Namespace: consts.SystemNamespace,
					},
				})
			}
		})

		It("waits for the infrastructure cluster to disappear", func() {
			objs := convergedObjects(1)

			d := newDriver(objs...)

			Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
			Expect(cluster.Status).To(Equal(magnum.StatusDeleteInProgress))
			Expect(credentials.deleted).To(BeEmpty())
		})

		It("revokes credentials and removes secrets once it is gone", func() {
			objs := make([]ctrlclient.Object, 0, len(perClusterSecrets))
			for _, s := range perClusterSecrets {
				objs = append(objs, s)
			}

			d := newDriver(objs...)

			Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
			Expect(cluster.Status).To(Equal(magnum.StatusDeleteComplete))
			Expect(credentials.deleted).To(Equal([]string{cluster.UUID}))

			for _, s := range perClusterSecrets {
				err := d.Client.Get(ctx, ctrlclient.ObjectKeyFromObject(s), &corev1.Secret{})
				Expect(apierrors.IsNotFound(err)).To(BeTrue())
			}

			stored, err := store.GetCluster(ctx, cluster.UUID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.Status).To(Equal(magnum.StatusDeleteComplete))
		})

		It("completes even when the secrets are already gone", func() {
			d := newDriver()

			Expect(d.UpdateClusterStatus(ctx, cluster)).To(Succeed())
			Expect(cluster.Status).To(Equal(magnum.StatusDeleteComplete))
		})
	})
})
