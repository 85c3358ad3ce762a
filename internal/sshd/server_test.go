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

package sshd

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateHostKey_EmptyPathGeneratesEphemeralKey(t *testing.T) {
	signer, err := loadOrGenerateHostKey("")
	if err != nil {
		t.Fatalf("loadOrGenerateHostKey: %v", err)
	}
	if signer == nil {
		t.Fatal("expected a non-nil signer")
	}
}

func TestLoadOrGenerateHostKey_LoadsPKCS8PEMFile(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	encoded := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	path := filepath.Join(t.TempDir(), "host-key.pem")
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	signer, err := loadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("loadOrGenerateHostKey: %v", err)
	}
	if signer == nil {
		t.Fatal("expected a non-nil signer")
	}
}

func TestLoadOrGenerateHostKey_MissingFile(t *testing.T) {
	if _, err := loadOrGenerateHostKey(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatal("expected an error for a missing key file")
	}
}

func TestForwardKey(t *testing.T) {
	if got, want := forwardKey("example.svc", 80), "example.svc:80"; got != want {
		t.Errorf("forwardKey = %q, want %q", got, want)
	}
}
