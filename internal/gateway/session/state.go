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

// Package session models the per-connection SSH authentication and channel
// state machine as an explicit sum type. Every transition is named; an
// event received in a state that has no transition for it is a caller bug
// and returns an error rather than silently doing nothing.
package session

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
	"k8s.io/client-go/dynamic"

	"github.com/ktygw/kty-gateway/internal/dashboard"
	"github.com/ktygw/kty-gateway/internal/oidc"
)

// Kind identifies which variant of State is currently held.
type Kind int

const (
	Unauthenticated Kind = iota
	KeyOffered
	CodeSent
	InvalidIdentity
	Authenticated
	ChannelOpen
	PtyStarted
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "Unauthenticated"
	case KeyOffered:
		return "KeyOffered"
	case CodeSent:
		return "CodeSent"
	case InvalidIdentity:
		return "InvalidIdentity"
	case Authenticated:
		return "Authenticated"
	case ChannelOpen:
		return "ChannelOpen"
	case PtyStarted:
		return "PtyStarted"
	default:
		return "Unknown"
	}
}

// Client is the cluster-facing handle a session carries once authenticated.
// It is whatever the identity resolved to: a scoped dynamic client, a
// kubernetes.Interface, or similar — the state machine only moves it
// around, it never inspects it.
type Client = dynamic.Interface

// Identity is the resolved OIDC identity recorded by the InvalidIdentity
// transition. A later CodeSent discards it and issues a fresh device code.
type Identity struct {
	Name string
	Sub  string
}

// State is the session's current variant. The zero value is
// Unauthenticated, matching a freshly accepted connection.
type State struct {
	kind Kind

	key      *ssh.PublicKey   // KeyOffered, carried through CodeSent/InvalidIdentity
	code     *oidc.DeviceCode // CodeSent
	deadline time.Time        // CodeSent: when the device code stops being pollable
	identity *Identity        // InvalidIdentity
	client   Client           // Authenticated, ChannelOpen
	method   string           // Authenticated
	dash     *dashboard.Dashboard // PtyStarted
}

// Kind reports which variant is currently held.
func (s *State) Kind() Kind { return s.kind }

// Key returns the public key carried by KeyOffered, CodeSent, or
// InvalidIdentity, or nil if none is carried in the current state.
func (s *State) Key() *ssh.PublicKey { return s.key }

// Client returns the authenticated cluster client, valid from Authenticated
// onward.
func (s *State) Client() Client { return s.client }

// Code returns the device code carried by CodeSent, or nil otherwise.
func (s *State) Code() *oidc.DeviceCode { return s.code }

// CodeExpired reports whether CodeSent's device code has outlived
// oidc.TotalWait since it was issued. Valid only from CodeSent.
func (s *State) CodeExpired() bool {
	return s.kind == CodeSent && time.Now().After(s.deadline)
}

// Dashboard returns the running dashboard, valid only in PtyStarted.
func (s *State) Dashboard() *dashboard.Dashboard { return s.dash }

// unexpected builds the fail-closed error every transition returns when
// called from a state it does not recognize.
func (s *State) unexpected(event string) error {
	return fmt.Errorf("session: unexpected event %q in state %s", event, s.kind)
}

// KeyOffered records an offered public key that did not match a live Key.
// Valid from Unauthenticated and, per the offered-key-replaces-prior-key
// rule, from KeyOffered itself (a client may offer more than one key
// before switching to keyboard-interactive).
func (s *State) KeyOffered(pk ssh.PublicKey) {
	s.kind = KeyOffered
	s.key = &pk
	s.code = nil
	s.identity = nil
}

// CodeSent records a freshly issued device code, carrying forward any key
// offered in KeyOffered or bound in InvalidIdentity. Valid from
// Unauthenticated, KeyOffered, and InvalidIdentity.
func (s *State) CodeSent(code *oidc.DeviceCode) error {
	var key *ssh.PublicKey
	switch s.kind {
	case Unauthenticated:
		// no key to carry
	case KeyOffered, InvalidIdentity:
		key = s.key
	default:
		return s.unexpected("keyboard-interactive(first)")
	}

	s.kind = CodeSent
	s.key = key
	s.code = code
	s.deadline = time.Now().Add(oidc.TotalWait)
	s.identity = nil
	return nil
}

// CodeUsed consumes the device code after a token exchange attempt — the
// code is single-use regardless of whether the exchange succeeded. It
// resets to KeyOffered if a key was carried, else to Unauthenticated, so a
// rejected attempt lets the user retry without losing the offered key. A
// pending check does not call it: CodeSent is kept as it is. Valid only
// from CodeSent.
func (s *State) CodeUsed() error {
	if s.kind != CodeSent {
		return s.unexpected("code_used")
	}
	key := s.key
	code := s.code
	s.code = nil
	if key != nil {
		s.kind = KeyOffered
		s.key = key
		return nil
	}
	s.kind = Unauthenticated
	s.key = nil
	_ = code
	return nil
}

// InvalidIdentity records a resolved-but-unknown identity (token verified,
// no matching User) so a subsequent attempt can skip re-verifying the
// token. Carries forward a key only if it came from KeyOffered — once an
// identity has already failed to resolve once, later key offers are not
// re-carried automatically. Valid from CodeSent.
func (s *State) InvalidIdentity(ident Identity) error {
	if s.kind != CodeSent {
		return s.unexpected("invalid_identity")
	}
	key := s.key
	s.kind = InvalidIdentity
	s.key = key
	s.code = nil
	s.identity = &ident
	return nil
}

// Authenticated marks the session authenticated via the given method
// ("publickey" or "openid"), discarding any key/code/identity scratch
// state. Valid from Unauthenticated, KeyOffered, and CodeSent.
func (s *State) Authenticated(client Client, method string) error {
	switch s.kind {
	case Unauthenticated, KeyOffered, CodeSent:
		// ok
	default:
		return s.unexpected("authenticated")
	}
	s.kind = Authenticated
	s.key = nil
	s.code = nil
	s.identity = nil
	s.client = client
	s.method = method
	return nil
}

// Method returns the authentication method recorded by Authenticated.
func (s *State) Method() string { return s.method }

// ChannelOpened accepts a channel_open_session request. Valid only from
// Authenticated.
func (s *State) ChannelOpened() error {
	if s.kind != Authenticated {
		return s.unexpected("channel_open_session")
	}
	s.kind = ChannelOpen
	return nil
}

// PtyStarted records a started dashboard bound to the requesting channel.
// Valid only from ChannelOpen.
func (s *State) PtyStarted(dash *dashboard.Dashboard) error {
	if s.kind != ChannelOpen {
		return s.unexpected("pty_request")
	}
	s.kind = PtyStarted
	s.dash = dash
	return nil
}

// PtyStopped returns to ChannelOpen after the dashboard has been torn
// down (channel_close on a PtyStarted session). Valid only from
// PtyStarted.
func (s *State) PtyStopped() error {
	if s.kind != PtyStarted {
		return s.unexpected("channel_close")
	}
	s.kind = ChannelOpen
	s.dash = nil
	return nil
}
