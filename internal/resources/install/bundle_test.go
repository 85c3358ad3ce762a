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

package install

import (
	"context"
	"encoding/json"
	"testing"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubefake "k8s.io/client-go/kubernetes/fake"
)

func TestBundle_RewritesNamespaceAndSubjects(t *testing.T) {
	objects, hostKeyPEM, err := Bundle("tenant-a")
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if len(hostKeyPEM) == 0 {
		t.Error("expected non-empty host key PEM")
	}
	if len(objects) != len(bundleFiles) {
		t.Fatalf("got %d objects, want %d", len(objects), len(bundleFiles))
	}

	for _, obj := range objects {
		switch obj.kind {
		case "Namespace":
			var ns corev1.Namespace
			if err := json.Unmarshal(obj.json, &ns); err != nil {
				t.Fatalf("unmarshal Namespace: %v", err)
			}
			if ns.Name != "tenant-a" {
				t.Errorf("namespace name = %q, want tenant-a", ns.Name)
			}

		case "ServiceAccount":
			var sa corev1.ServiceAccount
			if err := json.Unmarshal(obj.json, &sa); err != nil {
				t.Fatalf("unmarshal ServiceAccount: %v", err)
			}
			if sa.Namespace != "tenant-a" {
				t.Errorf("service account namespace = %q, want tenant-a", sa.Namespace)
			}

		case "ClusterRoleBinding":
			var crb rbacv1.ClusterRoleBinding
			if err := json.Unmarshal(obj.json, &crb); err != nil {
				t.Fatalf("unmarshal ClusterRoleBinding: %v", err)
			}
			if len(crb.Subjects) != 1 || crb.Subjects[0].Namespace != "tenant-a" {
				t.Errorf("cluster role binding subject namespace not rewritten: %+v", crb.Subjects)
			}

		case "Secret":
			var secret corev1.Secret
			if err := json.Unmarshal(obj.json, &secret); err != nil {
				t.Fatalf("unmarshal Secret: %v", err)
			}
			if secret.Namespace != "tenant-a" {
				t.Errorf("secret namespace = %q, want tenant-a", secret.Namespace)
			}
			if len(secret.Data["id_ed25519"]) == 0 {
				t.Error("expected id_ed25519 to be populated")
			}
		}
	}
}

func TestApply_CreatesObjectsAndIsIdempotent(t *testing.T) {
	kube := kubefake.NewSimpleClientset()

	if _, err := Apply(context.Background(), kube, "tenant-a", false); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if _, err := kube.CoreV1().Namespaces().Get(context.Background(), "tenant-a", metav1.GetOptions{}); err != nil {
		t.Errorf("namespace not created: %v", err)
	}
	if _, err := kube.RbacV1().ClusterRoles().Get(context.Background(), "kty-gateway", metav1.GetOptions{}); err != nil {
		t.Errorf("cluster role not created: %v", err)
	}
	secret, err := kube.CoreV1().Secrets("tenant-a").Get(context.Background(), "kty-gateway-host-key", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("secret not created: %v", err)
	}
	firstKey := string(secret.Data["id_ed25519"])

	// Re-applying must not fail, and must not rotate the already-installed
	// host key.
	if _, err := Apply(context.Background(), kube, "tenant-a", false); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	secret, err = kube.CoreV1().Secrets("tenant-a").Get(context.Background(), "kty-gateway-host-key", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("secret missing after second apply: %v", err)
	}
	if string(secret.Data["id_ed25519"]) != firstKey {
		t.Error("host key was rotated on a re-apply")
	}
}

func TestApply_DryRunWritesNothing(t *testing.T) {
	kube := kubefake.NewSimpleClientset()

	if _, err := Apply(context.Background(), kube, "tenant-a", true); err != nil {
		t.Fatalf("dry-run Apply: %v", err)
	}
	if _, err := kube.CoreV1().Namespaces().Get(context.Background(), "tenant-a", metav1.GetOptions{}); err == nil {
		t.Error("expected no namespace to be created on dry run")
	}
}

func TestDelete_RemovesNamespaceAndRBAC(t *testing.T) {
	kube := kubefake.NewSimpleClientset()
	if _, err := Apply(context.Background(), kube, "tenant-a", false); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := Delete(context.Background(), kube, "tenant-a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := kube.CoreV1().Namespaces().Get(context.Background(), "tenant-a", metav1.GetOptions{}); err == nil {
		t.Error("expected namespace to be deleted")
	}
	if _, err := kube.RbacV1().ClusterRoles().Get(context.Background(), "kty-gateway", metav1.GetOptions{}); err == nil {
		t.Error("expected cluster role to be deleted")
	}
}
