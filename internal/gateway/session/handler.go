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
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
	"k8s.io/klog/v2"

	"github.com/ktygw/kty-gateway/internal/cluster"
	"github.com/ktygw/kty-gateway/internal/dashboard"
	"github.com/ktygw/kty-gateway/internal/gateway/writer"
	"github.com/ktygw/kty-gateway/internal/identity"
	"github.com/ktygw/kty-gateway/internal/metrics"
	"github.com/ktygw/kty-gateway/internal/oidc"
)

// waitingMessage is shown to a client that entered keyboard-interactive
// but whose device code has not yet been approved.
const waitingMessage = "Waiting for activation, please try again."

// Handler binds one accepted SSH connection to a State and drives it
// through auth and channel requests. It is not safe for concurrent use
// by more than one goroutine; golang.org/x/crypto/ssh only ever calls a
// given connection's callbacks from one goroutine at a time, and channel
// handling for that connection is single-threaded through this type.
type Handler struct {
	controller *cluster.Controller
	identity   *identity.Store
	oidcP      *oidc.Provider
	claim      string
	logger     klog.Logger

	state State
}

// NewHandler builds a Handler for one connection. claim is the id_token
// claim used as the user's identity (empty defaults to "email").
func NewHandler(controller *cluster.Controller, store *identity.Store, provider *oidc.Provider, claim string) *Handler {
	if claim == "" {
		claim = "email"
	}
	return &Handler{
		controller: controller,
		identity:   store,
		oidcP:      provider,
		claim:      claim,
		logger:     klog.Background().WithName("ssh-session"),
	}
}

// ServerConfig builds the golang.org/x/crypto/ssh.ServerConfig driving
// this Handler. Offering both PublicKeyCallback and
// KeyboardInteractiveCallback is what makes the client fall back from a
// rejected key to the device-code flow; there is no password callback,
// so password auth is never offered. golang.org/x/crypto/ssh does not
// expose a configurable per-attempt rejection delay (unlike servers that
// deliberately throttle auth attempts), so the zero-delay requirement is
// simply this library's default behavior, not a setting to disable.
func (h *Handler) ServerConfig() *ssh.ServerConfig {
	return &ssh.ServerConfig{
		AuthLogCallback: func(conn ssh.ConnMetadata, method string, err error) {
			metrics.AuthAttemptsTotal.WithLabelValues(method).Inc()
			result := "accept"
			if err != nil {
				result = "reject"
			}
			metrics.AuthResultsTotal.WithLabelValues(method, result).Inc()
		},
		PublicKeyCallback:          h.authPublicKey,
		KeyboardInteractiveCallback: h.authKeyboardInteractive,
	}
}

// authPublicKey implements the Unauthenticated/KeyOffered → Authenticated
// transition on a matching Key, or records the offer and falls through to
// keyboard-interactive per the spec's state table.
func (h *Handler) authPublicKey(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	fingerprint := ssh.FingerprintSHA256(key)

	ident, err := h.identity.AuthenticateKey(context.Background(), fingerprint)
	if err != nil {
		return nil, fmt.Errorf("checking key: %w", err)
	}
	if ident != nil {
		if err := h.state.Authenticated(h.controller.Dynamic.Dynamic(), "publickey"); err != nil {
			return nil, err
		}
		metrics.AuthSucceededTotal.WithLabelValues("publickey").Inc()
		return &ssh.Permissions{Extensions: map[string]string{"identity": ident.Name}}, nil
	}

	h.state.KeyOffered(key)
	return nil, fmt.Errorf("no matching key, retry with keyboard-interactive")
}

// authKeyboardInteractive implements the CodeSent/retry transitions:
// the first prompt requests a device code; every subsequent prompt
// (the client pressing Enter) re-attempts the token exchange.
func (h *Handler) authKeyboardInteractive(conn ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	ctx := context.Background()

	switch h.state.Kind() {
	case Unauthenticated, KeyOffered:
		return nil, h.sendCode(ctx, challenge)
	case CodeSent:
		return h.exchangeCode(ctx, conn, challenge)
	default:
		return nil, h.state.unexpected("keyboard-interactive")
	}
}

func (h *Handler) sendCode(ctx context.Context, challenge ssh.KeyboardInteractiveChallenge) error {
	code, err := h.oidcP.RequestCode(ctx)
	if err != nil {
		return fmt.Errorf("requesting device code: %w", err)
	}
	metrics.CodeGeneratedTotal.Inc()

	if err := h.state.CodeSent(code); err != nil {
		return err
	}

	instructions := "Login or open the URL below to validate your identity:\n\n" +
		code.VerificationURIComplete + "\n\ncode: " + code.UserCode
	_, err = challenge("", instructions, []string{"Press Enter to continue"}, []bool{false})
	return err
}

func (h *Handler) exchangeCode(ctx context.Context, conn ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	code := h.state.Code()
	key := h.state.Key()

	if h.state.CodeExpired() {
		_ = h.state.CodeUsed()
		metrics.CodeCheckedTotal.WithLabelValues("expired").Inc()
		return nil, fmt.Errorf("device code expired, start over")
	}

	claims, expiration, err := h.oidcP.CheckToken(ctx, code)
	if err != nil {
		if errors.Is(err, oidc.ErrPending) {
			// The device code stays valid: leave CodeSent untouched so the
			// next "Enter" re-polls the same code instead of requesting a
			// fresh one.
			metrics.CodeCheckedTotal.WithLabelValues("pending").Inc()
			_, replyErr := challenge("", waitingMessage, []string{"Press Enter to continue"}, []bool{false})
			if replyErr != nil {
				return nil, replyErr
			}
			return nil, err
		}
		// Any other outcome is terminal: the code is consumed and the
		// client must start over from a fresh prompt.
		_ = h.state.CodeUsed()
		metrics.CodeCheckedTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	_ = h.state.CodeUsed()

	name, _ := claims[h.claim].(string)
	sub, _ := claims["sub"].(string)
	if name == "" {
		name = sub
	}

	user, err := h.identity.EnsureUser(ctx, identity.Identity{Name: name, Sub: sub, Expiration: expiration})
	if err != nil {
		metrics.CodeCheckedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolving identity: %w", err)
	}
	if user == nil {
		metrics.CodeCheckedTotal.WithLabelValues("unknown_user").Inc()
		return nil, fmt.Errorf("no cluster user for %q", name)
	}
	metrics.CodeCheckedTotal.WithLabelValues("accept").Inc()

	if err := h.state.Authenticated(h.controller.Dynamic.Dynamic(), "openid"); err != nil {
		return nil, err
	}
	metrics.AuthSucceededTotal.WithLabelValues("openid").Inc()

	if key != nil {
		if err := h.identity.Bind(ctx, ssh.FingerprintSHA256(*key), base64.StdEncoding.EncodeToString((*key).Marshal()), user, expiration); err != nil {
			h.logger.Error(err, "binding offered key to user", "user", user.Name)
		}
	}

	if err := h.identity.Login(ctx, user, "openid", h.controller.Recorder); err != nil {
		h.logger.Error(err, "recording login", "user", user.Name)
	}

	return &ssh.Permissions{Extensions: map[string]string{"identity": name}}, nil
}

// ChannelOpened records a channel_open_session request against this
// connection's state.
func (h *Handler) ChannelOpened() error {
	return h.state.ChannelOpened()
}

// PtyStarted records a started dashboard bound to the requesting
// channel.
func (h *Handler) PtyStarted(dash *dashboard.Dashboard) error {
	return h.state.PtyStarted(dash)
}

// PtyStopped returns to ChannelOpen after the dashboard has been torn
// down.
func (h *Handler) PtyStopped() error {
	return h.state.PtyStopped()
}

// ClusterClient returns the authenticated cluster client bound during
// auth, for components (the dashboard) that need one per session.
func (h *Handler) ClusterClient() Client {
	return h.state.Client()
}

// NewChannelWriter wraps channel in the coalescing-flush writer the
// dashboard's render loop uses.
func (h *Handler) NewChannelWriter(channel ssh.Channel) *writer.Blocking {
	return writer.NewBlocking(channel)
}
