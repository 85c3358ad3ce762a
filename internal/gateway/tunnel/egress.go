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

package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	corev1 "k8s.io/api/core/v1"
	discoveryv1 "k8s.io/api/discovery/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	"golang.org/x/crypto/ssh"
)

// fieldManager names the gateway as the server-side-apply owner of the
// Service/EndpointSlice pairs it publishes for tcpip-forward.
const fieldManager = "kty-gateway"

const (
	hostLabel     = "egress.kty.dev/host"
	identityLabel = "egress.kty.dev/identity"

	// managedByLabel/managedByValue let the reaper find every Service this
	// package has published without needing to scan annotations.
	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "kty-gateway-egress"
)

// Egress publishes a cluster Service/EndpointSlice pair that routes
// traffic back through this gateway pod to the requesting SSH client,
// satisfying a tcpip-forward request.
//
// Owner references cannot cross namespaces: the gateway runs in its own
// namespace while the published Service may live in the requester's.
// That means a crashed gateway pod leaves its Service/EndpointSlice
// behind rather than having them garbage-collected — see the reaper
// package, which sweeps Services carrying the managedByLabel value and
// deletes each pair once the pod named in its egress.kty.dev/host
// annotation no longer exists in the gateway's namespace.
type Egress struct {
	namespace string
	name      string
	port      uint32
	identity  string

	kube       kubernetes.Interface
	conn       ssh.Conn
	currentPod string
	currentIP  string

	wg sync.WaitGroup
}

// NewEgress parses a "<namespace>/<name>" destination service, as given
// in a tcpip-forward global request.
func NewEgress(kube kubernetes.Interface, conn ssh.Conn, identity, service string, port uint32) (*Egress, error) {
	namespace, name, ok := strings.Cut(service, "/")
	if !ok {
		return nil, fmt.Errorf("format is <namespace>/<name>")
	}

	podName := os.Getenv("POD_NAME")
	podIP := os.Getenv("POD_IP")
	if podName == "" || podIP == "" {
		return nil, fmt.Errorf("POD_NAME and POD_IP must be set to serve tcpip-forward")
	}

	return &Egress{
		namespace:  namespace,
		name:       name,
		port:       port,
		identity:   identity,
		kube:       kube,
		conn:       conn,
		currentPod: podName,
		currentIP:  podIP,
	}, nil
}

func (e *Egress) path() string { return e.namespace + "/" + e.name }

// Run binds a local listener, publishes the Service/EndpointSlice
// pointing at it, and forwards every accepted connection to the SSH
// client as a forwarded-tcpip channel until ctx is canceled or the
// listener fails.
func (e *Egress) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("binding local listener: %w", err)
	}
	defer listener.Close()

	localPort := uint32(listener.Addr().(*net.TCPAddr).Port)

	if err := e.publishService(ctx, localPort); err != nil {
		return err
	}
	if err := e.publishEndpointSlice(ctx, localPort); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	logger := klog.Background().WithName("tunnel-egress").WithValues("service", e.path())
	defer e.wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting on forwarded listener: %w", err)
		}

		host, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
		originPort := parsePort(portStr)

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.forward(conn, host, originPort); err != nil {
				logger.V(4).Info("forwarded-tcpip stream ended", "reason", err)
			}
		}()
	}
}

func (e *Egress) forward(conn net.Conn, originHost string, originPort uint32) error {
	payload := ssh.Marshal(&directTCPIPPayload{
		DestAddr:   e.path(),
		DestPort:   e.port,
		OriginAddr: originHost,
		OriginPort: originPort,
	})

	channel, requests, err := e.conn.OpenChannel("forwarded-tcpip", payload)
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening forwarded-tcpip channel: %w", err)
	}
	go ssh.DiscardRequests(requests)
	defer channel.Close()

	return stream(conn, channel, streamMetrics{resource: "services", direction: "egress"})
}

func parsePort(s string) uint32 {
	var p uint32
	_, _ = fmt.Sscanf(s, "%d", &p)
	return p
}

// publishService server-side-applies a headless-selector Service
// pointing at this gateway pod's ephemeral local port. The Service has
// no selector: routing is entirely through the EndpointSlice this
// gateway publishes alongside it.
func (e *Egress) publishService(ctx context.Context, localPort uint32) error {
	svc := &corev1.Service{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      e.name,
			Namespace: e.namespace,
			Labels: map[string]string{
				managedByLabel: managedByValue,
			},
			Annotations: map[string]string{
				hostLabel:     e.currentPod,
				identityLabel: e.identity,
			},
		},
		Spec: corev1.ServiceSpec{
			Type: corev1.ServiceTypeClusterIP,
			Ports: []corev1.ServicePort{{
				Port:       int32(e.port),
				TargetPort: intstr.FromInt32(int32(localPort)),
			}},
		},
	}

	data, err := json.Marshal(svc)
	if err != nil {
		return fmt.Errorf("marshaling service: %w", err)
	}

	_, err = e.kube.CoreV1().Services(e.namespace).Patch(ctx, e.name, types.ApplyPatchType, data, metav1.PatchOptions{
		FieldManager: fieldManager,
		Force:        boolPtr(true),
	})
	if err != nil {
		if apierrors.IsForbidden(err) {
			return fmt.Errorf("no permission to publish service %s", e.path())
		}
		return fmt.Errorf("failed to update %s: %w", e.path(), err)
	}
	return nil
}

// publishEndpointSlice server-side-applies the EndpointSlice that routes
// the Service above back to this gateway pod's ephemeral local port.
func (e *Egress) publishEndpointSlice(ctx context.Context, localPort uint32) error {
	addressType := discoveryv1.AddressTypeIPv4
	if strings.Contains(e.currentIP, ":") {
		addressType = discoveryv1.AddressTypeIPv6
	}

	ready := true
	slice := &discoveryv1.EndpointSlice{
		TypeMeta: metav1.TypeMeta{APIVersion: discoveryv1.SchemeGroupVersion.String(), Kind: "EndpointSlice"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      e.name,
			Namespace: e.namespace,
			Labels: map[string]string{
				"kubernetes.io/service-name":             e.name,
				"endpointslice.kubernetes.io/managed-by": "egress.kty.dev",
				managedByLabel:                           managedByValue,
			},
			Annotations: map[string]string{
				hostLabel:     e.currentPod,
				identityLabel: e.identity,
			},
		},
		AddressType: addressType,
		Endpoints: []discoveryv1.Endpoint{{
			Addresses:  []string{e.currentIP},
			Conditions: discoveryv1.EndpointConditions{Ready: &ready},
		}},
		Ports: []discoveryv1.EndpointPort{{
			Port: int32Ptr(int32(localPort)),
		}},
	}

	data, err := json.Marshal(slice)
	if err != nil {
		return fmt.Errorf("marshaling endpointslice: %w", err)
	}

	_, err = e.kube.DiscoveryV1().EndpointSlices(e.namespace).Patch(ctx, e.name, types.ApplyPatchType, data, metav1.PatchOptions{
		FieldManager: fieldManager,
		Force:        boolPtr(true),
	})
	if err != nil {
		if apierrors.IsForbidden(err) {
			return fmt.Errorf("no permission to publish endpoints for %s", e.path())
		}
		return fmt.Errorf("failed to update endpoint for %s: %w", e.path(), err)
	}
	return nil
}

func boolPtr(b bool) *bool    { return &b }
func int32Ptr(i int32) *int32 { return &i }
