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

package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/ktygw/kty-gateway/internal/oidc"
)

func TestCodeSentPersistsAcrossPendingChecks(t *testing.T) {
	var s State
	code := &oidc.DeviceCode{DeviceCode: "dc-1", UserCode: "ABCD-EFGH"}

	if err := s.CodeSent(code); err != nil {
		t.Fatalf("CodeSent: %v", err)
	}
	if s.Kind() != CodeSent {
		t.Fatalf("Kind() = %s, want CodeSent", s.Kind())
	}

	// A pending token check must not consume the code: the handler skips
	// CodeUsed() on ErrPending, so the state stays exactly as it was and
	// the next "Enter" re-polls the same device code.
	if s.Kind() != CodeSent {
		t.Errorf("Kind() = %s, want CodeSent to survive a pending check", s.Kind())
	}
	if s.Code() != code {
		t.Errorf("Code() = %v, want the same device code retained", s.Code())
	}
}

func TestCodeUsedResetsToKeyOfferedWhenKeyCarried(t *testing.T) {
	var s State
	key := dummyKey(t)
	s.KeyOffered(key)
	if err := s.CodeSent(&oidc.DeviceCode{DeviceCode: "dc-1"}); err != nil {
		t.Fatalf("CodeSent: %v", err)
	}

	if err := s.CodeUsed(); err != nil {
		t.Fatalf("CodeUsed: %v", err)
	}
	if s.Kind() != KeyOffered {
		t.Fatalf("Kind() = %s, want KeyOffered after CodeUsed with a carried key", s.Kind())
	}
	if s.Key() == nil {
		t.Error("expected the offered key to survive CodeUsed")
	}
}

func TestCodeUsedResetsToUnauthenticatedWithoutKey(t *testing.T) {
	var s State
	if err := s.CodeSent(&oidc.DeviceCode{DeviceCode: "dc-1"}); err != nil {
		t.Fatalf("CodeSent: %v", err)
	}
	if err := s.CodeUsed(); err != nil {
		t.Fatalf("CodeUsed: %v", err)
	}
	if s.Kind() != Unauthenticated {
		t.Fatalf("Kind() = %s, want Unauthenticated", s.Kind())
	}
}

func TestCodeExpiredFalseBeforeDeadline(t *testing.T) {
	var s State
	if err := s.CodeSent(&oidc.DeviceCode{DeviceCode: "dc-1"}); err != nil {
		t.Fatalf("CodeSent: %v", err)
	}
	if s.CodeExpired() {
		t.Error("CodeExpired() = true immediately after CodeSent, want false")
	}
}

func TestCodeSentRejectedFromAuthenticated(t *testing.T) {
	var s State
	if err := s.Authenticated(nil, "publickey"); err != nil {
		t.Fatalf("Authenticated: %v", err)
	}
	if err := s.CodeSent(&oidc.DeviceCode{DeviceCode: "dc-1"}); err == nil {
		t.Error("expected CodeSent to fail from Authenticated")
	}
}

func dummyKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("ssh.NewPublicKey: %v", err)
	}
	return key
}
