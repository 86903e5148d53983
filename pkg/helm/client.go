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

// Package helm implements release operations against a target cluster reached
// through ephemeral kubeconfig bytes, typically the admin kubeconfig written
// by the Cluster API controllers.
package helm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	helmdriver "helm.sh/helm/v3/pkg/storage/driver"
	klog "k8s.io/klog/v2"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/addons"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/consts"
)

// Client performs release operations in a single namespace of one target
// cluster. It implements addons.ReleaseClient.
type Client struct {
	namespace    string
	timeout      time.Duration
	actionConfig *action.Configuration
}

var _ addons.ReleaseClient = &Client{}

// NewClient builds a client from raw kubeconfig bytes. Every release
// operation is bounded by the given timeout; a zero timeout uses the default.
func NewClient(kubeconfig []byte, namespace string, timeout time.Duration) (*Client, error) {
	if timeout == 0 {
		timeout = consts.DefaultHelmTimeout
	}

	actionConfig := new(action.Configuration)

	err := actionConfig.Init(
		NewMemoryRESTClientGetter(kubeconfig, namespace),
		namespace,
		"secret",
		func(format string, v ...interface{}) {
			klog.V(4).Infof(format, v...)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "initializing release action configuration")
	}

	return &Client{
		namespace:    namespace,
		timeout:      timeout,
		actionConfig: actionConfig,
	}, nil
}

// GetValues returns the user-supplied values of the deployed release, mapping
// a missing release to addons.ErrReleaseNotFound.
func (c *Client) GetValues(_ context.Context, releaseName string) (map[string]interface{}, error) {
	getValues := action.NewGetValues(c.actionConfig)

	values, err := getValues.Run(releaseName)
	if err != nil {
		if errors.Is(err, helmdriver.ErrReleaseNotFound) {
			return nil, errors.Wrap(addons.ErrReleaseNotFound, releaseName)
		}

		return nil, errors.Wrapf(err, "getting values of release %s", releaseName)
	}

	if values == nil {
		values = map[string]interface{}{}
	}

	return values, nil
}

// Upgrade applies the chart with the given values, installing the release
// first when it has no history yet.
func (c *Client) Upgrade(ctx context.Context, releaseName, chartRef string, values map[string]interface{}) error {
	loaded, err := c.loadChart(chartRef)
	if err != nil {
		return err
	}

	history := action.NewHistory(c.actionConfig)
	history.Max = 1

	if _, err := history.Run(releaseName); errors.Is(err, helmdriver.ErrReleaseNotFound) {
		install := action.NewInstall(c.actionConfig)
		install.ReleaseName = releaseName
		install.Namespace = c.namespace
		install.Timeout = c.timeout

		if _, err := install.RunWithContext(ctx, loaded, values); err != nil {
			return errors.Wrapf(err, "installing release %s", releaseName)
		}

		return nil
	}

	upgrade := action.NewUpgrade(c.actionConfig)
	upgrade.Namespace = c.namespace
	upgrade.Timeout = c.timeout

	if _, err := upgrade.RunWithContext(ctx, releaseName, loaded, values); err != nil {
		return errors.Wrapf(err, "upgrading release %s", releaseName)
	}

	return nil
}

// Uninstall removes the release. A release that was never installed is
// treated as already removed.
func (c *Client) Uninstall(_ context.Context, releaseName string) error {
	uninstall := action.NewUninstall(c.actionConfig)
	uninstall.Timeout = c.timeout

	if _, err := uninstall.Run(releaseName); err != nil && !errors.Is(err, helmdriver.ErrReleaseNotFound) {
		return errors.Wrapf(err, "uninstalling release %s", releaseName)
	}

	return nil
}

func (c *Client) loadChart(chartRef string) (*chart.Chart, error) {
	loaded, err := loader.Load(chartRef)
	if err != nil {
		return nil, errors.Wrapf(err, "loading chart %s", chartRef)
	}

	return loaded, nil
}
