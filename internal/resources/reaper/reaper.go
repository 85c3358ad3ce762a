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

// Package reaper runs a best-effort background sweep for the Service/
// EndpointSlice pairs egress tunnels publish. They cannot carry an owner
// reference back to the gateway pod (owner references cannot cross
// namespaces), so nothing garbage-collects them when the gateway pod that
// published them is gone. This is not a correctness guarantee: a sweep
// that never runs (the process crash-looping, or being scaled to zero)
// simply leaves stale resources in place until the next successful pass.
package reaper

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	discoveryv1 "k8s.io/api/discovery/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "kty-gateway-egress"
	hostAnnotation = "egress.kty.dev/host"
)

// Reaper periodically deletes Service/EndpointSlice pairs carrying
// managedByLabel whose owning pod (named in hostAnnotation, running in
// gatewayNamespace) no longer exists.
type Reaper struct {
	client          client.Client
	kube            kubernetes.Interface
	namespace       string
	gatewayNamespace string
	interval        time.Duration
	logger          klog.Logger
}

// New builds a Reaper. namespace scopes which namespaces are swept for
// stale egress Service/EndpointSlice pairs (empty sweeps every namespace
// the caller's RBAC allows listing); gatewayNamespace is the fixed
// namespace the gateway's own pods run in.
func New(c client.Client, kube kubernetes.Interface, namespace, gatewayNamespace string, interval time.Duration) *Reaper {
	return &Reaper{
		client:           c,
		kube:             kube,
		namespace:        namespace,
		gatewayNamespace: gatewayNamespace,
		interval:         interval,
		logger:           klog.Background().WithName("reaper"),
	}
}

// Run sweeps every interval until ctx is canceled. It never returns an
// error: a failed sweep is logged and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("starting egress resource reaper", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.sweep(ctx); err != nil {
			r.logger.Error(err, "sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) error {
	var services corev1.ServiceList
	opts := []client.ListOption{client.MatchingLabels{managedByLabel: managedByValue}}
	if r.namespace != "" {
		opts = append(opts, client.InNamespace(r.namespace))
	}
	if err := r.client.List(ctx, &services, opts...); err != nil {
		return fmt.Errorf("listing egress services: %w", err)
	}

	for i := range services.Items {
		svc := services.Items[i]

		stale, err := r.podGone(ctx, svc.Annotations[hostAnnotation])
		if err != nil {
			r.logger.Error(err, "checking owning pod", "service", svc.Namespace+"/"+svc.Name)
			continue
		}
		if !stale {
			continue
		}

		r.logger.Info("reaping stale egress service", "service", svc.Namespace+"/"+svc.Name, "pod", svc.Annotations[hostAnnotation])
		if err := r.client.Delete(ctx, &svc); err != nil && !apierrors.IsNotFound(err) {
			r.logger.Error(err, "deleting stale service", "service", svc.Namespace+"/"+svc.Name)
		}

		slice := &discoveryv1.EndpointSlice{}
		slice.Namespace, slice.Name = svc.Namespace, svc.Name
		if err := r.client.Delete(ctx, slice); err != nil && !apierrors.IsNotFound(err) {
			r.logger.Error(err, "deleting stale endpointslice", "endpointslice", svc.Namespace+"/"+svc.Name)
		}
	}

	return nil
}

// podGone reports whether podName no longer exists in gatewayNamespace.
// An empty podName (a Service this reaper doesn't recognize the shape
// of) is never treated as stale.
func (r *Reaper) podGone(ctx context.Context, podName string) (bool, error) {
	if podName == "" {
		return false, nil
	}
	_, err := r.kube.CoreV1().Pods(r.gatewayNamespace).Get(ctx, podName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}
