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
	"fmt"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	addonsv1 "sigs.k8s.io/cluster-api/exp/addons/api/v1beta1"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/consts"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/driver"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
)

var _ = Describe("Cluster deletion", func() {
	var (
		ctx           context.Context
		store         *magnum.MemoryStore
		cluster       *magnum.Cluster
		sideEffects   *journal
		loadBalancers *fakeLoadBalancers
		releases      *fakeReleases
		d             *driver.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = magnum.NewMemoryStore()
		sideEffects = &journal{}
		loadBalancers = &fakeLoadBalancers{journal: sideEffects}
		releases = &fakeReleases{journal: sideEffects}

		cluster = &magnum.Cluster{
			UUID:    uuid.NewString(),
			StackID: "kube-abc123",
			Status:  magnum.StatusCreateComplete,
		}
		Expect(store.SaveCluster(ctx, cluster)).To(Succeed())

		capiCluster := &clusterv1.Cluster{
			ObjectMeta: metav1.ObjectMeta{Name: "kube-abc123", Namespace: consts.SystemNamespace},
		}
		resourceSet := &addonsv1.ClusterResourceSet{
			ObjectMeta: metav1.ObjectMeta{Name: "kube-abc123", Namespace: consts.SystemNamespace},
		}
		resourcesConfigMap := &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "kube-abc123-cluster-resources", Namespace: consts.SystemNamespace},
		}

		client := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithObjects(capiCluster, resourceSet, resourcesConfigMap).
			WithInterceptorFuncs(interceptor.Funcs{
				Delete: func(ctx context.Context, client ctrlclient.WithWatch, obj ctrlclient.Object, opts ...ctrlclient.DeleteOption) error {
					sideEffects.record(fmt.Sprintf("%T %s", obj, obj.GetName()))

					return client.Delete(ctx, obj, opts...)
				},
			}).
			Build()

		d = &driver.Driver{
			Client:             client,
			Store:              store,
			Namespace:          consts.SystemNamespace,
			LoadBalancers:      loadBalancers,
			ManagementReleases: releases,
		}
	})

	It("tears resources down in dependency order", func() {
		Expect(d.DeleteCluster(ctx, cluster)).To(Succeed())

		Expect(sideEffects.entries).To(Equal([]string{
			"loadbalancers " + cluster.UUID,
			"*v1beta1.ClusterResourceSet kube-abc123",
			"*v1.ConfigMap kube-abc123-cluster-resources",
			"*v1beta1.Cluster kube-abc123",
			"uninstall kube-abc123-autoscaler",
		}))
	})

	It("marks the record as deleting", func() {
		Expect(d.DeleteCluster(ctx, cluster)).To(Succeed())
		Expect(cluster.Status).To(Equal(magnum.StatusDeleteInProgress))

		stored, err := store.GetCluster(ctx, cluster.UUID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.Status).To(Equal(magnum.StatusDeleteInProgress))
	})

	It("tolerates resources that are already gone", func() {
		Expect(d.DeleteCluster(ctx, cluster)).To(Succeed())

		// Deleting again finds nothing left on the management cluster.
		Expect(d.DeleteCluster(ctx, cluster)).To(Succeed())
	})

	It("skips the autoscaler release without a management release client", func() {
		d.ManagementReleases = nil

		Expect(d.DeleteCluster(ctx, cluster)).To(Succeed())
		Expect(releases.uninstalls).To(BeEmpty())
	})
})
