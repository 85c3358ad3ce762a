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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced
// +kubebuilder:printcolumn:name="User",type="string",JSONPath=".spec.user"
// +kubebuilder:printcolumn:name="Expiration",type="date",JSONPath=".spec.expiration"

// Key is a public SSH key bound to a User by a successful OIDC login. Its
// cluster name is sanitize(fingerprint(spec.key)). It is valid only while
// now < spec.expiration and its owning User still exists.
type Key struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`
	Spec              KeySpec   `json:"spec,omitempty"`
	Status            KeyStatus `json:"status,omitempty"`
}

// KeyList is a list of Key resources.
type KeyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Key `json:"items"`
}

// KeySpec is the authorized_keys-style public key plus the identity it was
// bound to at authentication time.
type KeySpec struct {
	Key        string      `json:"key"`
	Expiration metav1.Time `json:"expiration"`
	User       string      `json:"user"`
	Groups     []string    `json:"groups,omitempty"`
}

// KeyStatus tracks the last time this key completed a publickey
// authentication.
type KeyStatus struct {
	LastUsed *metav1.Time `json:"lastUsed,omitempty"`
}
