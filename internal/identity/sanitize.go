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

// Package identity implements the Identity & Key Store: resolving OIDC
// identities and offered SSH public keys to cluster Users and Keys.
package identity

import (
	"regexp"
	"strings"
)

var invalidChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Sanitize turns an arbitrary string into a valid Kubernetes object name:
// every run of non-alphanumeric characters becomes a single '-', then the
// result is lowercased. It is deterministic, total, and idempotent.
func Sanitize(s string) string {
	return strings.ToLower(invalidChars.ReplaceAllString(s, "-"))
}
