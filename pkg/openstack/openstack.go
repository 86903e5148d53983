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

// Package openstack holds the driver's collaborators on the cloud side: the
// application credential service and load-balancer teardown.
package openstack

import (
	"context"
	"net/http"
	"strings"

	gophercloud "github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/applicationcredentials"
	"github.com/gophercloud/gophercloud/v2/openstack/loadbalancer/v2/loadbalancers"
	"github.com/pkg/errors"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Credential is an issued application credential scoped to one cluster.
type Credential struct {
	ID     string
	Name   string
	Secret string
}

// AppCredentialManager issues and revokes application credentials through the
// identity service.
type AppCredentialManager struct {
	Identity *gophercloud.ServiceClient
}

// Create issues a credential named after the cluster UUID for the given user.
func (m *AppCredentialManager) Create(ctx context.Context, userID, name, description string) (*Credential, error) {
	created, err := applicationcredentials.Create(ctx, m.Identity, userID, applicationcredentials.CreateOpts{
		Name:        name,
		Description: description,
	}).Extract()
	if err != nil {
		return nil, errors.Wrapf(err, "creating application credential %s", name)
	}

	return &Credential{
		ID:     created.ID,
		Name:   created.Name,
		Secret: created.Secret,
	}, nil
}

// Delete revokes the credential named after the cluster UUID. A credential
// that no longer exists is treated as already revoked.
func (m *AppCredentialManager) Delete(ctx context.Context, userID, name string) error {
	pages, err := applicationcredentials.List(m.Identity, userID, applicationcredentials.ListOpts{
		Name: name,
	}).AllPages(ctx)
	if err != nil {
		if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return nil
		}

		return errors.Wrapf(err, "listing application credentials named %s", name)
	}

	credentials, err := applicationcredentials.ExtractApplicationCredentials(pages)
	if err != nil {
		return errors.Wrap(err, "extracting application credentials")
	}

	for _, credential := range credentials {
		err := applicationcredentials.Delete(ctx, m.Identity, userID, credential.ID).ExtractErr()
		if err != nil && !gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return errors.Wrapf(err, "deleting application credential %s", credential.ID)
		}
	}

	return nil
}

// LoadBalancerJanitor tears down the load balancers the in-cluster cloud
// controller created for a cluster's services.
type LoadBalancerJanitor struct {
	LoadBalancer *gophercloud.ServiceClient
}

// DeleteForCluster cascade-deletes every load balancer created for the
// cluster. The in-cluster controller names them `kube_service_<cluster>_...`,
// so matching on the name prefix captures exactly the cluster's set. Already
// deleted load balancers are skipped.
func (j *LoadBalancerJanitor) DeleteForCluster(ctx context.Context, clusterUUID string) error {
	logger := log.FromContext(ctx)

	pages, err := loadbalancers.List(j.LoadBalancer, loadbalancers.ListOpts{}).AllPages(ctx)
	if err != nil {
		return errors.Wrap(err, "listing load balancers")
	}

	all, err := loadbalancers.ExtractLoadBalancers(pages)
	if err != nil {
		return errors.Wrap(err, "extracting load balancers")
	}

	prefix := "kube_service_" + clusterUUID + "_"

	for _, lb := range all {
		if !strings.HasPrefix(lb.Name, prefix) {
			continue
		}

		logger.Info("Deleting load balancer", "loadbalancer", lb.ID, "name", lb.Name)

		err := loadbalancers.Delete(ctx, j.LoadBalancer, lb.ID, loadbalancers.DeleteOpts{Cascade: true}).ExtractErr()
		if err != nil && !gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return errors.Wrapf(err, "deleting load balancer %s", lb.ID)
		}
	}

	return nil
}
