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
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

// object pairs a manifest's decoded Kind with its patched JSON document,
// ready to unmarshal into the concrete typed struct for that Kind.
type object struct {
	kind string
	json []byte
}

// Bundle renders the non-CRD install manifests for namespace, with a
// freshly generated ed25519 host key patched into the Secret. It returns
// the rendered objects plus the host key's PKCS#8 PEM bytes (the caller
// typically writes these to --key-path instead of relying solely on the
// installed Secret).
func Bundle(namespace string) ([]object, []byte, error) {
	hostKeyPEM, hostKeyB64, err := generateHostKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generating host key: %w", err)
	}

	objects := make([]object, 0, len(bundleFiles))
	for _, file := range bundleFiles {
		raw, err := bundleFS.ReadFile(file)
		if err != nil {
			return nil, nil, fmt.Errorf("reading embedded manifest %s: %w", file, err)
		}

		doc, err := yaml.YAMLToJSON(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("converting %s to JSON: %w", file, err)
		}

		var meta metav1.TypeMeta
		if err := json.Unmarshal(doc, &meta); err != nil {
			return nil, nil, fmt.Errorf("reading kind of %s: %w", file, err)
		}

		patchDoc, err := json.Marshal(rewriteOps(meta.Kind, namespace, hostKeyB64))
		if err != nil {
			return nil, nil, fmt.Errorf("building rewrite patch for %s: %w", file, err)
		}
		patch, err := jsonpatch.DecodePatch(patchDoc)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding rewrite patch for %s: %w", file, err)
		}
		patched, err := patch.Apply(doc)
		if err != nil {
			return nil, nil, fmt.Errorf("applying rewrite patch to %s: %w", file, err)
		}

		objects = append(objects, object{kind: meta.Kind, json: patched})
	}

	return objects, hostKeyPEM, nil
}

// rewriteOps builds the JSON-patch operations spec.md's install step
// performs for kind: every namespaced object gets metadata.namespace
// (or, for the Namespace itself, metadata.name) rewritten to namespace;
// the ClusterRoleBinding additionally gets its lone subject's namespace
// rewritten; the Secret additionally gets the generated host key
// inserted. Bundle generates a new key on every call, so two renders for
// the same namespace differ only in the key material; there is no way to
// pass in an existing key.
func rewriteOps(kind, namespace, hostKeyB64 string) []map[string]any {
	switch kind {
	case "Namespace":
		return []map[string]any{
			{"op": "replace", "path": "/metadata/name", "value": namespace},
		}
	case "ClusterRole":
		return nil
	case "ClusterRoleBinding":
		return []map[string]any{
			{"op": "replace", "path": "/subjects/0/namespace", "value": namespace},
		}
	case "Secret":
		return []map[string]any{
			{"op": "replace", "path": "/metadata/namespace", "value": namespace},
			{"op": "replace", "path": "/data/id_ed25519", "value": hostKeyB64},
		}
	default:
		return []map[string]any{
			{"op": "replace", "path": "/metadata/namespace", "value": namespace},
		}
	}
}

// generateHostKey returns a fresh ed25519 key as PKCS#8 PEM, plus that
// PEM's base64 encoding (the form a corev1.Secret's Data field expects
// on the wire).
func generateHostKey() (pemBytes []byte, b64 string, err error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, "", err
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	encoded := pem.EncodeToMemory(block)
	return encoded, base64.StdEncoding.EncodeToString(encoded), nil
}

// Apply creates every object in the bundle, in the order Bundle returned
// them (namespace first). An existing ClusterRole or ClusterRoleBinding is
// updated; an existing Namespace, ServiceAccount or Secret is left as it
// is, so on a re-run the returned PEM is a newly generated key that was
// not written to the cluster. dryRun skips every write and only logs what
// would happen, for `resources install --dry-run`.
func Apply(ctx context.Context, kube kubernetes.Interface, namespace string, dryRun bool) ([]byte, error) {
	logger := klog.FromContext(ctx)

	objects, hostKeyPEM, err := Bundle(namespace)
	if err != nil {
		return nil, err
	}

	for _, obj := range objects {
		if dryRun {
			logger.Info("would apply", "kind", obj.kind)
			continue
		}
		if err := applyOne(ctx, kube, obj); err != nil {
			return nil, fmt.Errorf("applying %s: %w", obj.kind, err)
		}
		logger.Info("applied", "kind", obj.kind)
	}

	return hostKeyPEM, nil
}

func applyOne(ctx context.Context, kube kubernetes.Interface, obj object) error {
	switch obj.kind {
	case "Namespace":
		var ns corev1.Namespace
		if err := json.Unmarshal(obj.json, &ns); err != nil {
			return err
		}
		_, err := kube.CoreV1().Namespaces().Create(ctx, &ns, metav1.CreateOptions{})
		return ignoreExists(err)

	case "ServiceAccount":
		var sa corev1.ServiceAccount
		if err := json.Unmarshal(obj.json, &sa); err != nil {
			return err
		}
		_, err := kube.CoreV1().ServiceAccounts(sa.Namespace).Create(ctx, &sa, metav1.CreateOptions{})
		return ignoreExists(err)

	case "ClusterRole":
		var cr rbacv1.ClusterRole
		if err := json.Unmarshal(obj.json, &cr); err != nil {
			return err
		}
		existing, err := kube.RbacV1().ClusterRoles().Get(ctx, cr.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			_, err = kube.RbacV1().ClusterRoles().Create(ctx, &cr, metav1.CreateOptions{})
			return err
		} else if err != nil {
			return err
		}
		cr.ResourceVersion = existing.ResourceVersion
		_, err = kube.RbacV1().ClusterRoles().Update(ctx, &cr, metav1.UpdateOptions{})
		return err

	case "ClusterRoleBinding":
		var crb rbacv1.ClusterRoleBinding
		if err := json.Unmarshal(obj.json, &crb); err != nil {
			return err
		}
		existing, err := kube.RbacV1().ClusterRoleBindings().Get(ctx, crb.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			_, err = kube.RbacV1().ClusterRoleBindings().Create(ctx, &crb, metav1.CreateOptions{})
			return err
		} else if err != nil {
			return err
		}
		crb.ResourceVersion = existing.ResourceVersion
		_, err = kube.RbacV1().ClusterRoleBindings().Update(ctx, &crb, metav1.UpdateOptions{})
		return err

	case "Secret":
		var secret corev1.Secret
		if err := json.Unmarshal(obj.json, &secret); err != nil {
			return err
		}
		existing, err := kube.CoreV1().Secrets(secret.Namespace).Get(ctx, secret.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			_, err = kube.CoreV1().Secrets(secret.Namespace).Create(ctx, &secret, metav1.CreateOptions{})
			return err
		} else if err != nil {
			return err
		}
		// The host key Secret is generated fresh every install; once it
		// exists, leave it alone rather than rotating the host key on a
		// re-run the operator didn't ask for.
		_ = existing
		return nil

	default:
		return fmt.Errorf("unsupported manifest kind %q", obj.kind)
	}
}

func ignoreExists(err error) error {
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// Delete removes every namespaced object the bundle created, including
// the namespace itself (which cascades the ServiceAccount/Secret), plus
// the cluster-scoped RBAC objects.
func Delete(ctx context.Context, kube kubernetes.Interface, namespace string) error {
	if err := kube.RbacV1().ClusterRoleBindings().Delete(ctx, "kty-gateway", metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	if err := kube.RbacV1().ClusterRoles().Delete(ctx, "kty-gateway", metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	if err := kube.CoreV1().Namespaces().Delete(ctx, namespace, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}
