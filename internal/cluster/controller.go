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

// Package cluster wraps the cluster API client with the concerns shared by
// every component that touches it: event publication and authorization
// self-checks.
package cluster

import (
	"context"
	"fmt"
	"os"

	authorizationv1 "k8s.io/api/authorization/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/record"
	"k8s.io/klog/v2"

	"github.com/ktygw/kty-gateway/internal/clusterclient"
)

// Controller holds a cluster-API client plus an event reporter identifying
// this process (controller name + instance hostname). It is cheap to
// clone: every field is either read-only or itself concurrent-safe.
type Controller struct {
	Config    *rest.Config
	Kube      kubernetes.Interface
	Dynamic   *clusterclient.Client
	Recorder  record.EventRecorder
	Namespace string

	controllerName string
	hostname       string
	logger         klog.Logger
}

// New builds a Controller for the given rest config and namespace.
func New(ctx context.Context, config *rest.Config, namespace, controllerName string) (*Controller, error) {
	kube, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("building kube client: %w", err)
	}

	dyn, err := clusterclient.NewForConfig(ctx, config, namespace)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client: %w", err)
	}

	hostname, _ := os.Hostname()

	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{Interface: kube.CoreV1().Events(namespace)})
	recorder := broadcaster.NewRecorder(scheme.Scheme, corev1.EventSource{
		Component: controllerName,
		Host:      hostname,
	})

	return &Controller{
		Config:         config,
		Kube:           kube,
		Dynamic:        dyn,
		Recorder:       recorder,
		Namespace:      namespace,
		controllerName: controllerName,
		hostname:       hostname,
		logger:         klog.Background().WithName(controllerName),
	}, nil
}

// Publish writes a cluster Event of the given type. Failures are logged,
// never surfaced: the caller never blocks on network for this call.
func (c *Controller) Publish(obj runtime.Object, eventType, reason, messageFmt string, args ...interface{}) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(fmt.Errorf("%v", r), "publishing event panicked", "reason", reason)
		}
	}()
	c.Recorder.Eventf(obj, eventType, reason, messageFmt, args...)
}

// CanI issues a SelfSubjectAccessReview for the given resource attributes.
// It never caches its result.
func (c *Controller) CanI(ctx context.Context, attrs authorizationv1.ResourceAttributes) (bool, error) {
	review := &authorizationv1.SelfSubjectAccessReview{
		Spec: authorizationv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &attrs,
		},
	}
	result, err := c.Kube.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
	if err != nil {
		return false, fmt.Errorf("self subject access review: %w", err)
	}
	return result.Status.Allowed, nil
}
