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

// Package install renders and applies the gateway's install bundle: the
// CRDs (users.kty.dev, keys.kty.dev) plus a namespace/service-account/
// RBAC/host-key-secret bundle whose namespace and host key are filled in
// at install time via a JSON patch rather than Go templating.
package install

import "embed"

//go:embed manifests/crds/*.yaml
var crdFS embed.FS

//go:embed manifests/namespace.yaml manifests/serviceaccount.yaml manifests/clusterrole.yaml manifests/clusterrolebinding.yaml manifests/hostkey-secret.yaml
var bundleFS embed.FS

// bundleFiles lists the non-CRD manifest files in apply order: the
// namespace must exist before anything namespaced in it is created.
var bundleFiles = []string{
	"manifests/namespace.yaml",
	"manifests/serviceaccount.yaml",
	"manifests/clusterrole.yaml",
	"manifests/clusterrolebinding.yaml",
	"manifests/hostkey-secret.yaml",
}
