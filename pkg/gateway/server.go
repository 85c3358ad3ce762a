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

// Package gateway wires the cluster client, identity store, OIDC
// provider, SSH listener, and egress reaper into the running gateway
// server.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ktygw/kty-gateway/internal/cluster"
	"github.com/ktygw/kty-gateway/internal/clusterclient"
	"github.com/ktygw/kty-gateway/internal/identity"
	"github.com/ktygw/kty-gateway/internal/metrics"
	"github.com/ktygw/kty-gateway/internal/oidc"
	"github.com/ktygw/kty-gateway/internal/resources/install"
	"github.com/ktygw/kty-gateway/internal/resources/reaper"
	"github.com/ktygw/kty-gateway/internal/sshd"
)

// Server is the gateway daemon orchestrator.
type Server struct {
	opts *Options
}

// NewServer creates a new gateway server.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		return nil, fmt.Errorf("options must not be nil")
	}
	return &Server{opts: opts}, nil
}

// Run starts the gateway server and blocks until ctx is canceled or a
// fatal error occurs.
func (s *Server) Run(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	logger.Info("starting kty-gateway", "address", s.opts.Address)

	config, err := s.buildRestConfig()
	if err != nil {
		return fmt.Errorf("building rest config: %w", err)
	}

	if !s.opts.NoCreate {
		logger.Info("installing CRDs")
		if err := install.InstallCRDs(ctx, config); err != nil {
			return fmt.Errorf("installing CRDs: %w", err)
		}
	}

	controller, err := cluster.New(ctx, config, s.opts.Namespace, "kty-gateway")
	if err != nil {
		return fmt.Errorf("building cluster controller: %w", err)
	}

	store := identity.NewStore(controller.Dynamic, s.opts.Namespace, !s.opts.NoCreate)

	var provider *oidc.Provider
	if s.opts.OpenIDConfiguration != "" {
		provider, err = oidc.New(ctx, s.opts.Audience, s.opts.ClientID, s.opts.OpenIDConfiguration, nil)
		if err != nil {
			return fmt.Errorf("initializing OIDC provider: %w", err)
		}
	}

	sshServer, err := sshd.New(sshd.Options{
		Address:           s.opts.Address,
		KeyPath:           s.opts.KeyPath,
		Controller:        controller,
		Identity:          store,
		OIDC:              provider,
		Claim:             s.opts.Claim,
		InactivityTimeout: s.opts.InactivityTimeout,
	})
	if err != nil {
		return fmt.Errorf("building ssh server: %w", err)
	}

	rtClient, err := newRuntimeClient(config)
	if err != nil {
		return fmt.Errorf("building controller-runtime client: %w", err)
	}
	reap := reaper.New(rtClient, controller.Kube, "", s.opts.Namespace, s.opts.ReapInterval)

	httpServer := &http.Server{
		Addr:              s.opts.MetricsAddr,
		Handler:           metrics.NewServer(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Any one of these returning ends the whole daemon: sshServer.Serve is
	// the primary listener, reap.Run and the metrics server are support
	// goroutines that should bring the process down with it rather than
	// leave it half-alive.
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reap.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		logger.Info("serving metrics", "address", s.opts.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return sshServer.Serve(gCtx)
	})

	return g.Wait()
}

func (s *Server) buildRestConfig() (*rest.Config, error) {
	if s.opts.Kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", s.opts.Kubeconfig)
	}
	config, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		overrides := &clientcmd.ConfigOverrides{}
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	}
	return config, nil
}

func newRuntimeClient(config *rest.Config) (client.Client, error) {
	return client.New(config, client.Options{Scheme: clientgoscheme.Scheme})
}

// DynamicClient exposes the identity dynamic client for CLI subcommands
// that manage Users and Keys directly.
func DynamicClient(ctx context.Context, config *rest.Config, namespace string) (*clusterclient.Client, error) {
	return clusterclient.NewForConfig(ctx, config, namespace)
}

// BuildRestConfig resolves a rest.Config the same way Server.Run does,
// for CLI subcommands that need cluster access outside of serve.
func BuildRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	config, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		overrides := &clientcmd.ConfigOverrides{}
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	}
	return config, nil
}
