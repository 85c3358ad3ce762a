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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ktygw/kty-gateway/pkg/gateway"
)

func newServeCommand() *cobra.Command {
	opts := gateway.NewOptions()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Kubeconfig = kubeconfig

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			server, err := gateway.NewServer(opts)
			if err != nil {
				return fmt.Errorf("failed to create gateway server: %w", err)
			}

			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", opts.Address, "Address to listen on for SSH connections")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-address", opts.MetricsAddr, "Address to serve /metrics and /healthz on")
	cmd.Flags().StringVar(&opts.KeyPath, "key-path", opts.KeyPath, "Path to the ed25519 host key PEM file (empty generates an ephemeral key)")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", opts.Namespace, "Namespace holding Users, Keys, and the host key Secret")
	cmd.Flags().StringVar(&opts.OpenIDConfiguration, "openid-configuration", opts.OpenIDConfiguration, "OIDC discovery document URL (empty disables the device-code flow)")
	cmd.Flags().StringVar(&opts.Audience, "audience", opts.Audience, "Audience sent with the device-authorization request (the id_token audience is not checked)")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", opts.ClientID, "OIDC client ID used for the device-authorization grant")
	cmd.Flags().StringVar(&opts.Claim, "claim", opts.Claim, "id_token claim used as the user's identity")
	cmd.Flags().BoolVar(&opts.NoCreate, "no-create", opts.NoCreate, "Skip CRD installation and disable auto-creation of Users on first login")
	cmd.Flags().DurationVar(&opts.InactivityTimeout, "inactivity-timeout", opts.InactivityTimeout, "Close a connection after this long with no new channel opened (0 disables)")
	cmd.Flags().DurationVar(&opts.ReapInterval, "reap-interval", opts.ReapInterval, "Interval between egress Service/EndpointSlice reaper sweeps")

	return cmd
}
