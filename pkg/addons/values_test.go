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

package addons_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/addons"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/objects"
)

var _ = Describe("Add-on values", func() {
	var (
		ctx     context.Context
		scheme  *runtime.Scheme
		cluster *magnum.Cluster
	)

	BeforeEach(func() {
		ctx = context.Background()

		scheme = runtime.NewScheme()
		utilruntime.Must(clusterv1.AddToScheme(scheme))

		cluster = &magnum.Cluster{
			UUID:    "8e3f2a5c-6a59-4c9e-9f1d-1a45cbd20fd3",
			StackID: "kube-abc123",
			Labels:  map[string]string{},
		}
	})

	capiClusterWithVersion := func(version string) *objects.ClusterResource {
		obj := &clusterv1.Cluster{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "kube-abc123",
				Namespace: "magnum-system",
			},
		}
		if version != "" {
			obj.Spec.Topology = &clusterv1.Topology{Version: version}
		}

		client := fake.NewClientBuilder().WithScheme(scheme).WithObjects(obj).Build()

		resource, err := objects.NewView(client, "magnum-system").Cluster(ctx, "kube-abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(resource).ToNot(BeNil())

		return resource
	}

	It("derives image tags from the cluster version", func() {
		values, err := addons.CloudControllerManagerValues(cluster, capiClusterWithVersion("v1.31.1"))
		Expect(err).ToNot(HaveOccurred())
		Expect(values["image"]).To(HaveKeyWithValue("tag", "v1.31.1"))
		Expect(values["cluster"]).To(HaveKeyWithValue("name", "kube-abc123"))
	})

	It("prefers the record's tag overrides", func() {
		cluster.Labels["cloud_provider_tag"] = "v1.31.9-custom"
		cluster.Labels["cinder_csi_plugin_tag"] = "v1.31.8-custom"

		ccm, err := addons.CloudControllerManagerValues(cluster, capiClusterWithVersion("v1.31.1"))
		Expect(err).ToNot(HaveOccurred())
		Expect(ccm["image"]).To(HaveKeyWithValue("tag", "v1.31.9-custom"))

		csi, err := addons.CinderCSIValues(cluster, capiClusterWithVersion("v1.31.1"))
		Expect(err).ToNot(HaveOccurred())

		plugin, ok := csi["csi"].(map[string]interface{})["plugin"].(map[string]interface{})
		Expect(ok).To(BeTrue())
		Expect(plugin["image"]).To(HaveKeyWithValue("tag", "v1.31.8-custom"))
	})

	It("is not ready before the topology version is populated", func() {
		_, err := addons.CloudControllerManagerValues(cluster, capiClusterWithVersion(""))
		Expect(errors.Is(err, addons.ErrClusterNotReady)).To(BeTrue())

		_, err = addons.CinderCSIValues(cluster, capiClusterWithVersion(""))
		Expect(errors.Is(err, addons.ErrClusterNotReady)).To(BeTrue())
	})
})
