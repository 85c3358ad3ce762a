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
	"testing"

	authorizationv1 "k8s.io/api/authorization/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	kubefake "k8s.io/client-go/kubernetes/fake"
	clienttesting "k8s.io/client-go/testing"

	"github.com/ktygw/kty-gateway/internal/cluster"
)

func TestParseHost(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		resource string
		segments []string
		wantErr  bool
	}{
		{name: "pod alias", host: "pods/default/web-0", resource: "pods", segments: []string{"default", "web-0"}},
		{name: "po alias", host: "po/default/web-0", resource: "pods", segments: []string{"default", "web-0"}},
		{name: "service alias", host: "svc/default/api", resource: "services", segments: []string{"default", "api"}},
		{name: "node alias", host: "node/worker-1", resource: "nodes", segments: []string{"worker-1"}},
		{name: "leading slash trimmed", host: "/pods/default/web-0", resource: "pods", segments: []string{"default", "web-0"}},
		{name: "empty", host: "", wantErr: true},
		{name: "unsupported resource", host: "configmaps/default/x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseHost(tt.host)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got host %+v", h)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.resource != tt.resource {
				t.Errorf("resource = %q, want %q", h.resource, tt.resource)
			}
			if len(h.segments) != len(tt.segments) {
				t.Fatalf("segments = %v, want %v", h.segments, tt.segments)
			}
			for i := range tt.segments {
				if h.segments[i] != tt.segments[i] {
					t.Errorf("segments[%d] = %q, want %q", i, h.segments[i], tt.segments[i])
				}
			}
		})
	}
}

// allowAccessReactor makes every SelfSubjectAccessReview creation report
// the given allowed value: true lets Addr's RBAC precheck pass so the real
// Get path is exercised, false exercises the denial path.
func allowAccessReactor(allowed bool) clienttesting.ReactionFunc {
	return func(action clienttesting.Action) (bool, runtime.Object, error) {
		review := &authorizationv1.SelfSubjectAccessReview{
			Status: authorizationv1.SubjectAccessReviewStatus{Allowed: allowed},
		}
		return true, review, nil
	}
}

func TestHostAddr_Pod(t *testing.T) {
	kube := kubefake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "web-0", Namespace: "default"},
		Status:     corev1.PodStatus{PodIP: "10.0.0.5"},
	})
	kube.PrependReactor("create", "selfsubjectaccessreviews", allowAccessReactor(true))
	controller := &cluster.Controller{Kube: kube}

	h, err := ParseHost("pods/default/web-0")
	if err != nil {
		t.Fatalf("ParseHost: %v", err)
	}
	addr, err := h.Addr(context.Background(), controller)
	if err != nil {
		t.Fatalf("Addr: %v", err)
	}
	if addr != "10.0.0.5" {
		t.Errorf("addr = %q, want 10.0.0.5", addr)
	}
}

func TestHostAddr_PodDeniedProxy(t *testing.T) {
	kube := kubefake.NewSimpleClientset()
	kube.PrependReactor("create", "selfsubjectaccessreviews", allowAccessReactor(false))
	controller := &cluster.Controller{Kube: kube}

	h, err := ParseHost("pods/default/web-0")
	if err != nil {
		t.Fatalf("ParseHost: %v", err)
	}
	_, err = h.Addr(context.Background(), controller)
	if err == nil {
		t.Fatal("expected error for denied proxy access")
	}
	want := "grant `create` for `pods/proxy`: proxy for pods/default/web-0 is forbidden"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}

func TestHostAddr_ServiceNotFound(t *testing.T) {
	kube := kubefake.NewSimpleClientset()
	kube.PrependReactor("create", "selfsubjectaccessreviews", allowAccessReactor(true))
	controller := &cluster.Controller{Kube: kube}

	h, err := ParseHost("svc/default/missing")
	if err != nil {
		t.Fatalf("ParseHost: %v", err)
	}
	_, err = h.Addr(context.Background(), controller)
	if err == nil {
		t.Fatal("expected not-found error")
	}
	want := "services/default/missing not found"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}

func TestHostAddr_Node(t *testing.T) {
	kube := kubefake.NewSimpleClientset(&corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "worker-1"},
		Status: corev1.NodeStatus{
			Addresses: []corev1.NodeAddress{
				{Type: corev1.NodeExternalIP, Address: "203.0.113.1"},
				{Type: corev1.NodeInternalIP, Address: "10.1.2.3"},
			},
		},
	})
	kube.PrependReactor("create", "selfsubjectaccessreviews", allowAccessReactor(true))
	controller := &cluster.Controller{Kube: kube}

	h, err := ParseHost("node/worker-1")
	if err != nil {
		t.Fatalf("ParseHost: %v", err)
	}
	addr, err := h.Addr(context.Background(), controller)
	if err != nil {
		t.Fatalf("Addr: %v", err)
	}
	if addr != "10.1.2.3" {
		t.Errorf("addr = %q, want 10.1.2.3", addr)
	}
}

func TestHostAddr_BadFormat(t *testing.T) {
	kube := kubefake.NewSimpleClientset()
	kube.PrependReactor("create", "selfsubjectaccessreviews", allowAccessReactor(true))
	controller := &cluster.Controller{Kube: kube}

	h, err := ParseHost("pods/default")
	if err != nil {
		t.Fatalf("ParseHost: %v", err)
	}
	if _, err := h.Addr(context.Background(), controller); err == nil {
		t.Fatal("expected format error for a pod host missing its name segment")
	}
}
