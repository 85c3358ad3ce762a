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

// Package tunnel implements the gateway's TCP tunnel channels: ingress
// (direct-tcpip, client dials out to a cluster resource) and egress
// (tcpip-forward, a cluster Service routes back to the client).
package tunnel

import (
	"context"
	"fmt"
	"strings"

	authorizationv1 "k8s.io/api/authorization/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/ktygw/kty-gateway/internal/cluster"
)

// Host is a parsed direct-tcpip destination: a resource kind and the
// segments identifying it within that kind (namespace/name for pods and
// services, just name for nodes).
type Host struct {
	resource string
	segments []string
}

// ParseHost splits a "kind/..." destination host string, resolving
// resource-kind aliases the way kubectl does.
func ParseHost(host string) (Host, error) {
	segments := strings.Split(strings.Trim(host, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return Host{}, fmt.Errorf("empty host")
	}

	var resource string
	switch segments[0] {
	case "pods", "pod", "po":
		resource = "pods"
	case "services", "service", "svc":
		resource = "services"
	case "nodes", "node", "no":
		resource = "nodes"
	default:
		return Host{}, fmt.Errorf("resource not supported: %s", segments[0])
	}

	return Host{resource: resource, segments: segments[1:]}, nil
}

// path is the human-facing identifier used in remediation messages.
func (h Host) path() string {
	return h.resource + "/" + strings.Join(h.segments, "/")
}

// Addr resolves the host to a dialable address, after an RBAC precheck
// against "<kind>/proxy". The precheck and the remediation strings it
// produces on denial match the cluster's own proxy subresource
// semantics: a client is never allowed to reach a resource it could not
// also `kubectl proxy` to.
func (h Host) Addr(ctx context.Context, controller *cluster.Controller) (string, error) {
	switch h.resource {
	case "pods":
		return h.pod(ctx, controller)
	case "services":
		return h.service(ctx, controller)
	case "nodes":
		return h.node(ctx, controller)
	default:
		return "", fmt.Errorf("resource not supported: %s", h.resource)
	}
}

func (h Host) pod(ctx context.Context, controller *cluster.Controller) (string, error) {
	if len(h.segments) != 2 {
		return "", fmt.Errorf("format is <namespace>/<name>")
	}
	namespace, name := h.segments[0], h.segments[1]

	if err := h.checkAccess(ctx, controller, "pods/proxy", namespace, name); err != nil {
		return "", err
	}

	pod, err := controller.Kube.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", h.mapGetError(err, "pods")
	}
	if pod.Status.PodIP == "" {
		return "", fmt.Errorf("%s has no pod IP", h.path())
	}
	return pod.Status.PodIP, nil
}

// service resolves to a cluster-DNS-style name rather than an IP: the
// caller dials this through the same in-cluster resolver the gateway
// itself runs under, exactly as a pod reaching the Service would.
func (h Host) service(ctx context.Context, controller *cluster.Controller) (string, error) {
	if len(h.segments) != 2 {
		return "", fmt.Errorf("format is <namespace>/<name>")
	}
	namespace, name := h.segments[0], h.segments[1]

	if err := h.checkAccess(ctx, controller, "services/proxy", namespace, name); err != nil {
		return "", err
	}

	if _, err := controller.Kube.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{}); err != nil {
		return "", h.mapGetError(err, "services")
	}
	return strings.Join([]string{name, namespace, "svc"}, "."), nil
}

func (h Host) node(ctx context.Context, controller *cluster.Controller) (string, error) {
	if len(h.segments) != 1 {
		return "", fmt.Errorf("format is <name>")
	}
	name := h.segments[0]

	if err := h.checkAccess(ctx, controller, "nodes/proxy", "", name); err != nil {
		return "", err
	}

	node, err := controller.Kube.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", h.mapGetError(err, "nodes")
	}
	for _, addr := range node.Status.Addresses {
		if addr.Type == corev1.NodeInternalIP {
			return addr.Address, nil
		}
	}
	return "", fmt.Errorf("%s has no internal IP", h.path())
}

// checkAccess issues the "create <kind>/proxy" self-review every Proxy
// implementation performs before attempting a read. Denial is reported
// with the exact remediation the cluster itself would suggest.
func (h Host) checkAccess(ctx context.Context, controller *cluster.Controller, resource, namespace, name string) error {
	allowed, err := controller.CanI(ctx, authorizationv1.ResourceAttributes{
		Namespace: namespace,
		Verb:      "create",
		Resource:  resource,
		Name:      name,
	})
	if err != nil {
		return fmt.Errorf("checking access to %s: %w", h.path(), err)
	}
	if !allowed {
		return fmt.Errorf("grant `create` for `%s`: proxy for %s is forbidden", resource, h.path())
	}
	return nil
}

// mapGetError distinguishes a raw cluster 403 on the get itself — which
// means the create-proxy grant above was present but the plain read
// wasn't — from every other error.
func (h Host) mapGetError(err error, kind string) error {
	if isForbidden(err) {
		return fmt.Errorf("grant `get` for `%s` to proxy: get forbidden for %s", kind, h.path())
	}
	if isNotFound(err) {
		return fmt.Errorf("%s not found", h.path())
	}
	return fmt.Errorf("failed getting %s: %w", kind, err)
}
