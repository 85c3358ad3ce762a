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
	"bufio"
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	kubeyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/restmapper"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

// bootstrap applies every YAML document in fs to the cluster through a
// discovery-based REST mapper, creating what's missing and updating what
// already exists. It retries continuously until every document applies or
// ctx is cancelled — a fresh cluster's discovery cache doesn't yet know
// about a CRD in the same bundle being installed alongside it, so the
// first pass or two are expected to fail until the mapper catches up.
func bootstrap(ctx context.Context, discoveryClient discovery.DiscoveryInterface, dynamicClient dynamic.Interface, fs embed.FS, dir string) error {
	cache := memory.NewMemCacheClient(discoveryClient)
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(cache)

	return wait.PollUntilContextCancel(ctx, time.Second, true, func(ctx context.Context) (bool, error) {
		if err := applyFromFS(ctx, dynamicClient, mapper, fs, dir); err != nil {
			klog.FromContext(ctx).V(2).Info("bootstrap apply failed, retrying", "err", err)
			cache.Invalidate()
			return false, nil
		}
		return true, nil
	})
}

func applyFromFS(ctx context.Context, client dynamic.Interface, mapper meta.RESTMapper, fs embed.FS, dir string) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return err
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := applyFileFromFS(ctx, client, mapper, fs, dir+"/"+entry.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func applyFileFromFS(ctx context.Context, client dynamic.Interface, mapper meta.RESTMapper, fs embed.FS, path string) error {
	raw, err := fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil
	}

	reader := kubeyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(raw)))
	var errs []error
	for i := 1; ; i++ {
		doc, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}
		if err := upsertFromDoc(ctx, client, mapper, doc); err != nil {
			errs = append(errs, fmt.Errorf("applying %s doc %d: %w", path, i, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}

func upsertFromDoc(ctx context.Context, client dynamic.Interface, mapper meta.RESTMapper, raw []byte) error {
	logger := klog.FromContext(ctx)

	jsonData, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return fmt.Errorf("converting YAML to JSON: %w", err)
	}

	u := &unstructured.Unstructured{}
	if err := json.Unmarshal(jsonData, &u.Object); err != nil {
		return fmt.Errorf("unmarshaling JSON: %w", err)
	}

	gvk := u.GroupVersionKind()
	m, err := mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return fmt.Errorf("REST mapping for %s: %w", gvk, err)
	}

	ri := client.Resource(m.Resource)
	_, err = ri.Create(ctx, u, metav1.CreateOptions{})
	if err == nil {
		logger.V(2).Info("created", "kind", gvk.Kind, "name", u.GetName())
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return err
	}

	existing, err := ri.Get(ctx, u.GetName(), metav1.GetOptions{})
	if err != nil {
		return err
	}
	u.SetResourceVersion(existing.GetResourceVersion())
	if _, err := ri.Update(ctx, u, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating %s %s: %w", gvk.Kind, u.GetName(), err)
	}
	logger.V(2).Info("updated", "kind", gvk.Kind, "name", u.GetName())
	return nil
}
