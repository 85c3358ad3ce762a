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
	"testing"

	kubefake "k8s.io/client-go/kubernetes/fake"
)

func TestNewEgress_RequiresNamespaceSlashName(t *testing.T) {
	t.Setenv("POD_NAME", "gateway-0")
	t.Setenv("POD_IP", "10.0.0.9")

	if _, err := NewEgress(kubefake.NewSimpleClientset(), nil, "alice", "not-namespaced", 80); err == nil {
		t.Fatal("expected error for a service destination without a namespace")
	}

	e, err := NewEgress(kubefake.NewSimpleClientset(), nil, "alice", "tenant/api", 80)
	if err != nil {
		t.Fatalf("NewEgress: %v", err)
	}
	if e.path() != "tenant/api" {
		t.Errorf("path = %q, want tenant/api", e.path())
	}
}

func TestNewEgress_RequiresPodEnv(t *testing.T) {
	t.Setenv("POD_NAME", "")
	t.Setenv("POD_IP", "")

	if _, err := NewEgress(kubefake.NewSimpleClientset(), nil, "alice", "tenant/api", 80); err == nil {
		t.Fatal("expected error when POD_NAME/POD_IP are unset")
	}
}

func TestParsePort(t *testing.T) {
	tests := map[string]uint32{
		"80":    80,
		"65535": 65535,
		"0":     0,
	}
	for in, want := range tests {
		if got := parsePort(in); got != want {
			t.Errorf("parsePort(%q) = %d, want %d", in, got, want)
		}
	}
}
