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

// Package v1alpha1 contains the gateway identity custom resource types.
package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// GroupName is the API group for gateway identity resources. The legacy
// group is kept for clusters that installed the bundle before the rename.
const (
	GroupName       = "kty.dev"
	LegacyGroupName = "kuberift.com"
	Version         = "v1alpha1"
)

// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced
// +kubebuilder:printcolumn:name="ID",type="string",JSONPath=".spec.id"
// +kubebuilder:printcolumn:name="LastLogin",type="date",JSONPath=".status.lastLogin"

// User is the cluster-persisted record of an identity allowed to reach the
// gateway. Its cluster name is sanitize(spec.id).
type User struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`
	Spec              UserSpec   `json:"spec,omitempty"`
	Status            UserStatus `json:"status,omitempty"`
}

// UserList is a list of User resources.
type UserList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []User `json:"items"`
}

// UserSpec identifies the user by the stable claim configured for the OIDC
// provider (default: email).
type UserSpec struct {
	ID string `json:"id"`
}

// UserStatus records the last successful login and the token subject last
// seen for this user.
type UserStatus struct {
	LastLogin *metav1.Time `json:"lastLogin,omitempty"`
	Sub       string       `json:"sub,omitempty"`
}
