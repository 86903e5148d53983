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

// Package resources manages the management-cluster objects generated for each
// orchestration record: the system namespace, the cloud-config secret, the
// certificate-authority secrets and the bookkeeping objects removed during
// teardown.
package resources

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	bootstrapv1 "sigs.k8s.io/cluster-api/bootstrap/kubeadm/api/v1beta1"
	addonsv1 "sigs.k8s.io/cluster-api/exp/addons/api/v1beta1"
	"sigs.k8s.io/cluster-api/util/secret"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/openstack"
)

// CertificateAuthorityPurposes are the four certificate authorities generated
// for every cluster.
var CertificateAuthorityPurposes = []secret.Purpose{
	secret.ClusterCA,
	secret.EtcdCA,
	secret.FrontProxyCA,
	secret.ServiceAccount,
}

// CloudConfigSecretName returns the name of the management-side cloud-config
// secret for the record.
func CloudConfigSecretName(cluster *magnum.Cluster) string {
	return cluster.StackID + "-cloud-config"
}

// ResourcesConfigMapName returns the name of the config map carrying the
// cluster's generated in-cluster resources.
func ResourcesConfigMapName(cluster *magnum.Cluster) string {
	return cluster.StackID + "-cluster-resources"
}

// ApplyNamespace creates the namespace when it does not exist yet.
func ApplyNamespace(ctx context.Context, client ctrlclient.Client, name string) error {
	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}

	if err := client.Create(ctx, namespace); err != nil && !apierrors.IsAlreadyExists(err) {
		return errors.Wrapf(err, "creating namespace %s", name)
	}

	return nil
}

// ApplyCloudConfigSecret writes the cloud-config secret consumed by the
// in-cluster cloud controller and the CSI driver. Re-applying identical
// content overwrites in place.
func ApplyCloudConfigSecret(
	ctx context.Context,
	client ctrlclient.Client,
	namespace string,
	cluster *magnum.Cluster,
	authURL, region string,
	credential *openstack.Credential,
) error {
	cloudConf := fmt.Sprintf(
		"[Global]\nauth-url=%s\nregion=%s\napplication-credential-id=%s\napplication-credential-secret=%s\n",
		authURL, region, credential.ID, credential.Secret,
	)

	cloudConfigSecret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      CloudConfigSecretName(cluster),
		},
		Data: map[string][]byte{
			"cloud.conf": []byte(cloudConf),
		},
	}

	if err := client.Create(ctx, cloudConfigSecret); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return errors.Wrap(err, "creating cloud-config secret")
		}

		if err := client.Update(ctx, cloudConfigSecret); err != nil {
			return errors.Wrap(err, "updating cloud-config secret")
		}
	}

	return nil
}

// ApplyCertificateAuthoritySecrets generates the four certificate authorities
// for the cluster and stores each in its own secret. Authorities that already
// exist are left untouched.
func ApplyCertificateAuthoritySecrets(ctx context.Context, client ctrlclient.Client, namespace string, cluster *magnum.Cluster) error {
	certificates := secret.NewCertificatesForInitialControlPlane(&bootstrapv1.ClusterConfiguration{})

	if err := certificates.Generate(); err != nil {
		return errors.Wrap(err, "generating certificate authorities")
	}

	for _, certificate := range certificates {
		caSecret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Namespace: namespace,
				Name:      secret.Name(cluster.StackID, certificate.Purpose),
			},
			Data: map[string][]byte{
				secret.TLSCrtDataName: certificate.KeyPair.Cert,
				secret.TLSKeyDataName: certificate.KeyPair.Key,
			},
		}

		if err := client.Create(ctx, caSecret); err != nil && !apierrors.IsAlreadyExists(err) {
			return errors.Wrapf(err, "creating certificate authority secret %s", caSecret.Name)
		}
	}

	return nil
}

// DeleteSecret removes the named secret, tolerating prior deletion.
func DeleteSecret(ctx context.Context, client ctrlclient.Client, namespace, name string) error {
	obj := &corev1.Secret{}
	obj.Namespace = namespace
	obj.Name = name

	if err := client.Delete(ctx, obj); err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "deleting secret %s", name)
	}

	return nil
}

// DeleteClusterResourceSet removes the resource set distributing generated
// manifests into the workload cluster, tolerating prior deletion.
func DeleteClusterResourceSet(ctx context.Context, client ctrlclient.Client, namespace string, cluster *magnum.Cluster) error {
	obj := &addonsv1.ClusterResourceSet{}
	obj.Namespace = namespace
	obj.Name = cluster.StackID

	if err := client.Delete(ctx, obj); err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "deleting cluster resource set %s", obj.Name)
	}

	return nil
}

// DeleteResourcesConfigMap removes the cluster's generated resources config
// map, tolerating prior deletion.
func DeleteResourcesConfigMap(ctx context.Context, client ctrlclient.Client, namespace string, cluster *magnum.Cluster) error {
	obj := &corev1.ConfigMap{}
	obj.Namespace = namespace
	obj.Name = ResourcesConfigMapName(cluster)

	if err := client.Delete(ctx, obj); err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "deleting resources config map %s", obj.Name)
	}

	return nil
}
