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

package reaper

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	kubefake "k8s.io/client-go/kubernetes/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	s := runtime.NewScheme()
	if err := corev1.AddToScheme(s); err != nil {
		t.Fatalf("adding corev1 scheme: %v", err)
	}
	if err := discoveryv1.AddToScheme(s); err != nil {
		t.Fatalf("adding discoveryv1 scheme: %v", err)
	}
	return s
}

func managedService(name, namespace, podName string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{managedByLabel: managedByValue},
			Annotations: map[string]string{
				hostAnnotation: podName,
			},
		},
	}
}

func managedSlice(name, namespace string) *discoveryv1.EndpointSlice {
	return &discoveryv1.EndpointSlice{
		ObjectMeta:  metav1.ObjectMeta{Name: name, Namespace: namespace},
		AddressType: discoveryv1.AddressTypeIPv4,
	}
}

func TestSweep_DeletesServiceAndSliceWhenPodGone(t *testing.T) {
	svc := managedService("tunnel-abc", "tenant", "gateway-0")
	slice := managedSlice("tunnel-abc", "tenant")

	c := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(svc, slice).Build()
	kube := kubefake.NewSimpleClientset() // no Pods: gateway-0 is gone

	r := New(c, kube, "", "kty-gateway", 0)

	if err := r.sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var gotSvc corev1.Service
	if err := c.Get(context.Background(), types.NamespacedName{Name: "tunnel-abc", Namespace: "tenant"}, &gotSvc); err == nil {
		t.Error("expected service to be deleted")
	}
	var gotSlice discoveryv1.EndpointSlice
	if err := c.Get(context.Background(), types.NamespacedName{Name: "tunnel-abc", Namespace: "tenant"}, &gotSlice); err == nil {
		t.Error("expected endpointslice to be deleted")
	}
}

func TestSweep_KeepsServiceWhenPodPresent(t *testing.T) {
	svc := managedService("tunnel-abc", "tenant", "gateway-0")
	slice := managedSlice("tunnel-abc", "tenant")

	c := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(svc, slice).Build()
	kube := kubefake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "gateway-0", Namespace: "kty-gateway"},
	})

	r := New(c, kube, "", "kty-gateway", 0)

	if err := r.sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var gotSvc corev1.Service
	if err := c.Get(context.Background(), types.NamespacedName{Name: "tunnel-abc", Namespace: "tenant"}, &gotSvc); err != nil {
		t.Errorf("expected service to remain, got: %v", err)
	}
}

func TestSweep_IgnoresUnmanagedServices(t *testing.T) {
	plain := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: "normal-svc", Namespace: "tenant"}}
	c := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(plain).Build()
	kube := kubefake.NewSimpleClientset()

	r := New(c, kube, "", "kty-gateway", 0)

	if err := r.sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var got corev1.Service
	if err := c.Get(context.Background(), types.NamespacedName{Name: "normal-svc", Namespace: "tenant"}, &got); err != nil {
		t.Errorf("unmanaged service should be untouched, got: %v", err)
	}
}

func TestPodGone_EmptyAnnotationNeverStale(t *testing.T) {
	kube := kubefake.NewSimpleClientset()
	r := New(fake.NewClientBuilder().WithScheme(newScheme(t)).Build(), kube, "", "kty-gateway", 0)

	stale, err := r.podGone(context.Background(), "")
	if err != nil {
		t.Fatalf("podGone: %v", err)
	}
	if stale {
		t.Error("expected empty pod name to never be treated as stale")
	}
}
