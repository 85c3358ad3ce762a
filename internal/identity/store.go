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

package identity

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"
	"k8s.io/klog/v2"

	gatewayv1alpha1 "github.com/ktygw/kty-gateway/apis/gateway/v1alpha1"
	"github.com/ktygw/kty-gateway/internal/clusterclient"
)

// Identity is produced only by the OIDC Provider after signature
// validation. Name is the value of the configured claim (default email);
// Expiration is the id_token's exp. Immutable once created.
type Identity struct {
	Name       string
	Groups     []string
	Sub        string
	Expiration time.Time
}

// Store reads and writes User and Key custom resources, resolving OIDC
// identities and offered SSH public keys to cluster Users.
type Store struct {
	client     *clusterclient.Client
	namespace  string
	autoCreate bool
	logger     klog.Logger
}

// NewStore builds a Store bound to the given namespace. autoCreate governs
// whether a User is implicitly created on first OIDC login.
func NewStore(client *clusterclient.Client, namespace string, autoCreate bool) *Store {
	return &Store{
		client:     client,
		namespace:  namespace,
		autoCreate: autoCreate,
		logger:     klog.Background().WithName("identity-store"),
	}
}

// AuthenticateIdentity finds the unique User whose spec.id matches the
// identity's name and patches status.sub. Returns (nil, nil) if absent (and
// auto-create would not apply here — callers handle creation explicitly via
// EnsureUser). Multiple matches is operator error and fails loudly.
func (s *Store) AuthenticateIdentity(ctx context.Context, ident Identity) (*gatewayv1alpha1.User, error) {
	users, err := s.client.Users(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	var matches []gatewayv1alpha1.User
	for i := range users.Items {
		if users.Items[i].Spec.ID == ident.Name {
			matches = append(matches, users.Items[i])
		}
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		// fallthrough below
	default:
		return nil, fmt.Errorf("duplicate User resources for id %q: operator error, not auto-resolved", ident.Name)
	}

	user := matches[0]
	user.Status.Sub = ident.Sub
	updated, err := s.client.Users(s.namespace).UpdateStatus(ctx, &user, metav1.UpdateOptions{})
	if err != nil {
		return nil, fmt.Errorf("patching user status.sub: %w", err)
	}
	return updated, nil
}

// EnsureUser creates a User for the given identity if one does not already
// exist and auto-create is enabled. It returns the existing or newly
// created User.
func (s *Store) EnsureUser(ctx context.Context, ident Identity) (*gatewayv1alpha1.User, error) {
	user, err := s.AuthenticateIdentity(ctx, ident)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	if !s.autoCreate {
		return nil, nil
	}

	created, err := s.client.Users(s.namespace).Create(ctx, &gatewayv1alpha1.User{
		ObjectMeta: metav1.ObjectMeta{Name: Sanitize(ident.Name)},
		Spec:       gatewayv1alpha1.UserSpec{ID: ident.Name},
	}, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("creating user %q: %w", ident.Name, err)
	}
	created.Status.Sub = ident.Sub
	return s.client.Users(s.namespace).UpdateStatus(ctx, created, metav1.UpdateOptions{})
}

// AuthenticateKey looks up a Key by its sanitized fingerprint. If the key
// is expired it returns (nil, nil) without mutating the Key. Otherwise it
// resolves the embedded identity and bumps status.lastUsed.
func (s *Store) AuthenticateKey(ctx context.Context, fingerprint string) (*Identity, error) {
	name := Sanitize(fingerprint)
	key, err := s.client.Keys(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting key %q: %w", name, err)
	}

	if key.Spec.Expiration.Time.Before(time.Now()) {
		return nil, nil
	}

	ident := &Identity{
		Name:       key.Spec.User,
		Groups:     key.Spec.Groups,
		Expiration: key.Spec.Expiration.Time,
	}

	now := metav1.Now()
	key.Status.LastUsed = &now
	if _, err := s.client.Keys(s.namespace).UpdateStatus(ctx, key, metav1.UpdateOptions{}); err != nil {
		return nil, fmt.Errorf("patching key status.lastUsed: %w", err)
	}

	return ident, nil
}

// Bind creates or updates a Key with the sanitized-fingerprint name,
// owned by the corresponding User so cascade delete cleans it up.
func (s *Store) Bind(ctx context.Context, fingerprint, publicKeyBase64 string, user *gatewayv1alpha1.User, expiration time.Time) error {
	name := Sanitize(fingerprint)

	key := &gatewayv1alpha1.Key{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			OwnerReferences: []metav1.OwnerReference{
				{
					APIVersion: gatewayv1alpha1.GroupName + "/" + gatewayv1alpha1.Version,
					Kind:       "User",
					Name:       user.Name,
					UID:        user.UID,
				},
			},
		},
		Spec: gatewayv1alpha1.KeySpec{
			Key:        publicKeyBase64,
			Expiration: metav1.NewTime(expiration),
			User:       user.Spec.ID,
			Groups:     nil,
		},
	}

	existing, err := s.client.Keys(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		existing.Spec = key.Spec
		existing.OwnerReferences = key.OwnerReferences
		_, err = s.client.Keys(s.namespace).Update(ctx, existing, metav1.UpdateOptions{})
		return err
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("getting key %q: %w", name, err)
	}

	_, err = s.client.Keys(s.namespace).Create(ctx, key, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("creating key %q: %w", name, err)
	}
	return nil
}

// Login updates status.lastLogin and publishes a Normal event with reason
// Authenticated and message "method <method>" via the given recorder. The
// recorder has no action field, so no Login action is recorded.
func (s *Store) Login(ctx context.Context, user *gatewayv1alpha1.User, method string, recorder record.EventRecorder) error {
	now := metav1.Now()
	user.Status.LastLogin = &now
	updated, err := s.client.Users(s.namespace).UpdateStatus(ctx, user, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("patching user status.lastLogin: %w", err)
	}
	*user = *updated

	if recorder != nil {
		recorder.Eventf(user, "Normal", "Authenticated", "method %s", method)
	}
	return nil
}
