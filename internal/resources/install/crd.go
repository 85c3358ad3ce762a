/*
Copyright 2026 The Faros Authors.

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

package install

import (
	"context"
	"fmt"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"
)

// CRDNames lists the gateway's custom resource definitions, in install
// order, for use by callers that need to wait on or report their status.
var CRDNames = []string{
	"users.kty.dev",
	"keys.kty.dev",
}

// InstallCRDs creates or updates the gateway's CustomResourceDefinitions
// via a discovery-based bootstrap apply and waits for each to report
// Established.
func InstallCRDs(ctx context.Context, config *rest.Config) error {
	logger := klog.FromContext(ctx)

	disco, err := discovery.NewDiscoveryClientForConfig(config)
	if err != nil {
		return fmt.Errorf("creating discovery client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return fmt.Errorf("creating dynamic client: %w", err)
	}

	if err := bootstrap(ctx, disco, dyn, crdFS, "manifests/crds"); err != nil {
		return fmt.Errorf("bootstrapping CRDs: %w", err)
	}

	apiextClient, err := apiextensionsclient.NewForConfig(config)
	if err != nil {
		return fmt.Errorf("creating apiextensions client: %w", err)
	}
	for _, name := range CRDNames {
		logger.Info("waiting for CRD to be established", "name", name)
		if err := waitForCRDEstablished(ctx, apiextClient, name); err != nil {
			return fmt.Errorf("waiting for CRD %s: %w", name, err)
		}
	}

	logger.Info("all CRDs installed and established")
	return nil
}

func waitForCRDEstablished(ctx context.Context, client apiextensionsclient.Interface, name string) error {
	return wait.PollUntilContextTimeout(ctx, 500*time.Millisecond, 30*time.Second, true, func(ctx context.Context) (bool, error) {
		crd, err := client.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, nil
		}
		for _, cond := range crd.Status.Conditions {
			if cond.Type == apiextensionsv1.Established && cond.Status == apiextensionsv1.ConditionTrue {
				return true, nil
			}
		}
		return false, nil
	})
}

// DeleteCRDs removes the gateway's CRDs (and, with them, every User/Key
// the cluster is holding).
func DeleteCRDs(ctx context.Context, config *rest.Config) error {
	client, err := apiextensionsclient.NewForConfig(config)
	if err != nil {
		return fmt.Errorf("creating apiextensions client: %w", err)
	}
	for _, name := range CRDNames {
		if err := client.ApiextensionsV1().CustomResourceDefinitions().Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("deleting CRD %s: %w", name, err)
		}
	}
	return nil
}
