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

// Package sshd is the gateway's SSH listener: it loads or generates the
// host key, accepts connections, and binds each one to a fresh
// session.Handler.
package sshd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"k8s.io/klog/v2"

	"github.com/ktygw/kty-gateway/internal/cluster"
	"github.com/ktygw/kty-gateway/internal/gateway/session"
	"github.com/ktygw/kty-gateway/internal/identity"
	"github.com/ktygw/kty-gateway/internal/metrics"
	"github.com/ktygw/kty-gateway/internal/oidc"
)

// Options configures a Server.
type Options struct {
	Address           string
	KeyPath           string
	Controller        *cluster.Controller
	Identity          *identity.Store
	OIDC              *oidc.Provider
	Claim             string
	InactivityTimeout time.Duration
}

// Server accepts SSH connections and drives each through session.Handler.
type Server struct {
	opts     Options
	signer   ssh.Signer
	listener net.Listener
	logger   klog.Logger

	wg sync.WaitGroup
}

// New loads or generates the ed25519 host key at opts.KeyPath (an empty
// path generates an ephemeral, process-lifetime-only key) and binds a
// listener on opts.Address.
func New(opts Options) (*Server, error) {
	signer, err := loadOrGenerateHostKey(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading host key: %w", err)
	}

	listener, err := net.Listen("tcp", opts.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", opts.Address, err)
	}

	return &Server{
		opts:     opts,
		signer:   signer,
		listener: listener,
		logger:   klog.Background().WithName("sshd"),
	}, nil
}

// Addr returns the bound listener address, useful when Options.Address
// used an ephemeral port (":0") for tests.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is canceled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("listening", "address", s.listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	handler := session.NewHandler(s.opts.Controller, s.opts.Identity, s.opts.OIDC, s.opts.Claim)
	cfg := handler.ServerConfig()
	cfg.AddHostKey(s.signer)

	sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		s.logger.V(4).Info("handshake failed", "remote", conn.RemoteAddr(), "reason", err)
		return
	}
	defer sc.Close()

	metrics.SessionTotal.Inc()
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	start := time.Now()
	defer func() {
		metrics.SessionDurationMinutes.Observe(time.Since(start).Minutes())
	}()

	connCtx := ctx
	var cancel context.CancelFunc
	if s.opts.InactivityTimeout > 0 {
		connCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		go s.enforceInactivity(connCtx, cancel, sc)
	}

	go s.handleGlobalRequests(connCtx, sc, sc.Permissions.Extensions["identity"], reqs)

	s.dispatchChannels(connCtx, handler, sc, chans)
}

// enforceInactivity closes the connection once InactivityTimeout has
// elapsed with no new channel opened; NewChannelHandler resets nothing
// by itself, since the spec measures inactivity at the connection level,
// not per-channel.
func (s *Server) enforceInactivity(ctx context.Context, cancel context.CancelFunc, sc *ssh.ServerConn) {
	timer := time.NewTimer(s.opts.InactivityTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		s.logger.Info("closing inactive connection", "remote", sc.RemoteAddr())
		sc.Close()
		cancel()
	}
}

func loadOrGenerateHostKey(path string) (ssh.Signer, error) {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return ssh.NewSignerFromKey(priv)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading host key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return ssh.ParsePrivateKey(data)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("building signer from host key: %w", err)
	}
	return signer, nil
}
