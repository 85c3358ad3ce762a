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

// Package clusterclient provides a generic typed wrapper over the
// Kubernetes dynamic client, avoiding the need for generated clientsets
// for the gateway's two custom resources.
package clusterclient

import (
	"context"
	"encoding/json"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"

	gatewayv1alpha1 "github.com/ktygw/kty-gateway/apis/gateway/v1alpha1"
)

// UserGVR and KeyGVR address the primary (kty.dev) API group. Callers that
// need the legacy group use UserGVRLegacy/KeyGVRLegacy.
var (
	UserGVR = schema.GroupVersionResource{
		Group:    gatewayv1alpha1.GroupName,
		Version:  gatewayv1alpha1.Version,
		Resource: "users",
	}
	KeyGVR = schema.GroupVersionResource{
		Group:    gatewayv1alpha1.GroupName,
		Version:  gatewayv1alpha1.Version,
		Resource: "keys",
	}
	UserGVRLegacy = schema.GroupVersionResource{
		Group:    gatewayv1alpha1.LegacyGroupName,
		Version:  gatewayv1alpha1.Version,
		Resource: "users",
	}
	KeyGVRLegacy = schema.GroupVersionResource{
		Group:    gatewayv1alpha1.LegacyGroupName,
		Version:  gatewayv1alpha1.Version,
		Resource: "keys",
	}
)

// Client provides typed access to gateway custom resources via the dynamic
// client, plus the raw dynamic.Interface for anything ad hoc (SSAR is
// issued through a typed client instead, see internal/cluster).
type Client struct {
	dynamic   dynamic.Interface
	userGVR   schema.GroupVersionResource
	keyGVR    schema.GroupVersionResource
}

// NewForConfig builds a Client, preferring the kty.dev group and falling
// back to the legacy kuberift.com group if the primary CRD isn't installed.
func NewForConfig(ctx context.Context, config *rest.Config, namespace string) (*Client, error) {
	d, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("creating dynamic client: %w", err)
	}

	c := &Client{dynamic: d, userGVR: UserGVR, keyGVR: KeyGVR}
	if _, err := d.Resource(UserGVR).Namespace(namespace).List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		if _, legacyErr := d.Resource(UserGVRLegacy).Namespace(namespace).List(ctx, metav1.ListOptions{Limit: 1}); legacyErr == nil {
			c.userGVR = UserGVRLegacy
			c.keyGVR = KeyGVRLegacy
		}
	}
	return c, nil
}

// Dynamic returns the underlying dynamic client.
func (c *Client) Dynamic() dynamic.Interface { return c.dynamic }

// Users returns a typed interface for User resources in a namespace.
func (c *Client) Users(namespace string) *Resource[gatewayv1alpha1.User, gatewayv1alpha1.UserList] {
	return &Resource[gatewayv1alpha1.User, gatewayv1alpha1.UserList]{
		client: c.dynamic.Resource(c.userGVR).Namespace(namespace),
	}
}

// Keys returns a typed interface for Key resources in a namespace.
func (c *Client) Keys(namespace string) *Resource[gatewayv1alpha1.Key, gatewayv1alpha1.KeyList] {
	return &Resource[gatewayv1alpha1.Key, gatewayv1alpha1.KeyList]{
		client: c.dynamic.Resource(c.keyGVR).Namespace(namespace),
	}
}

// Resource provides typed CRUD operations for a specific resource type,
// round-tripping through unstructured.Unstructured via JSON marshaling so
// that no generated deepcopy/clientset code is required.
type Resource[T any, L any] struct {
	client dynamic.ResourceInterface
}

// Get retrieves a resource by name.
func (r *Resource[T, L]) Get(ctx context.Context, name string, opts metav1.GetOptions) (*T, error) {
	u, err := r.client.Get(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	return fromUnstructured[T](u)
}

// List retrieves all resources matching the given options.
func (r *Resource[T, L]) List(ctx context.Context, opts metav1.ListOptions) (*L, error) {
	u, err := r.client.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return fromUnstructuredList[L](u)
}

// Create creates a new resource.
func (r *Resource[T, L]) Create(ctx context.Context, obj *T, opts metav1.CreateOptions) (*T, error) {
	u, err := toUnstructured(obj)
	if err != nil {
		return nil, err
	}
	result, err := r.client.Create(ctx, u, opts)
	if err != nil {
		return nil, err
	}
	return fromUnstructured[T](result)
}

// Update updates an existing resource.
func (r *Resource[T, L]) Update(ctx context.Context, obj *T, opts metav1.UpdateOptions) (*T, error) {
	u, err := toUnstructured(obj)
	if err != nil {
		return nil, err
	}
	result, err := r.client.Update(ctx, u, opts)
	if err != nil {
		return nil, err
	}
	return fromUnstructured[T](result)
}

// UpdateStatus updates the status subresource.
func (r *Resource[T, L]) UpdateStatus(ctx context.Context, obj *T, opts metav1.UpdateOptions) (*T, error) {
	u, err := toUnstructured(obj)
	if err != nil {
		return nil, err
	}
	result, err := r.client.UpdateStatus(ctx, u, opts)
	if err != nil {
		return nil, err
	}
	return fromUnstructured[T](result)
}

// Delete removes a resource by name.
func (r *Resource[T, L]) Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error {
	return r.client.Delete(ctx, name, opts)
}

// Patch applies a patch to a resource, optionally against a subresource
// (e.g. "status").
func (r *Resource[T, L]) Patch(ctx context.Context, name string, pt types.PatchType, data []byte, opts metav1.PatchOptions, subresources ...string) (*T, error) {
	result, err := r.client.Patch(ctx, name, pt, data, opts, subresources...)
	if err != nil {
		return nil, err
	}
	return fromUnstructured[T](result)
}

func toUnstructured(obj interface{}) (*unstructured.Unstructured, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshaling to JSON: %w", err)
	}
	u := &unstructured.Unstructured{}
	if err := json.Unmarshal(data, &u.Object); err != nil {
		return nil, fmt.Errorf("unmarshaling to unstructured: %w", err)
	}
	return u, nil
}

func fromUnstructured[T any](u *unstructured.Unstructured) (*T, error) {
	var obj T
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, &obj); err != nil {
		return nil, fmt.Errorf("converting from unstructured: %w", err)
	}
	return &obj, nil
}

func fromUnstructuredList[L any](u *unstructured.UnstructuredList) (*L, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("marshaling list: %w", err)
	}
	var list L
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshaling list: %w", err)
	}
	return &list, nil
}
