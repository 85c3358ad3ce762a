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
	"text/tabwriter"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/ktygw/kty-gateway/internal/resources/install"
	"github.com/ktygw/kty-gateway/pkg/gateway"
)

var resourcesNamespace string

func newResourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Install, inspect, and remove cluster resources the gateway depends on",
	}
	cmd.PersistentFlags().StringVar(&resourcesNamespace, "namespace", "kty-gateway", "Namespace the bundle targets")

	cmd.AddCommand(
		newResourcesCRDCommand(),
		newResourcesInstallCommand(),
		newResourcesDeleteCommand(),
		newResourcesKeysCommand(),
	)

	return cmd
}

func newResourcesCRDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "crd",
		Short: "Install the users.kty.dev and keys.kty.dev CRDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := gateway.BuildRestConfig(kubeconfig)
			if err != nil {
				return fmt.Errorf("building rest config: %w", err)
			}
			return install.InstallCRDs(context.Background(), config)
		},
	}
}

func newResourcesInstallCommand() *cobra.Command {
	var dryRun bool
	var keyPath string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Apply the namespace, service account, RBAC, and host key bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			config, err := gateway.BuildRestConfig(kubeconfig)
			if err != nil {
				return fmt.Errorf("building rest config: %w", err)
			}
			kube, err := kubernetes.NewForConfig(config)
			if err != nil {
				return fmt.Errorf("building kube client: %w", err)
			}

			hostKeyPEM, err := install.Apply(ctx, kube, resourcesNamespace, dryRun)
			if err != nil {
				return fmt.Errorf("applying install bundle: %w", err)
			}
			if dryRun {
				fmt.Println("dry run: no objects were applied")
				return nil
			}
			if keyPath != "" {
				if err := os.WriteFile(keyPath, hostKeyPEM, 0o600); err != nil {
					return fmt.Errorf("writing host key to %s: %w", keyPath, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log what would be applied without writing anything")
	cmd.Flags().StringVar(&keyPath, "key-path", "", "Also write the generated host key PEM to this path, for --key-path on serve")

	return cmd
}

func newResourcesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the install bundle and CRDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			config, err := gateway.BuildRestConfig(kubeconfig)
			if err != nil {
				return fmt.Errorf("building rest config: %w", err)
			}
			kube, err := kubernetes.NewForConfig(config)
			if err != nil {
				return fmt.Errorf("building kube client: %w", err)
			}

			if err := install.Delete(ctx, kube, resourcesNamespace); err != nil {
				return fmt.Errorf("deleting install bundle: %w", err)
			}
			return install.DeleteCRDs(ctx, config)
		},
	}
}

func newResourcesKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Key management commands",
	}
	cmd.AddCommand(newResourcesKeysListCommand(), newResourcesKeysRevokeCommand())
	return cmd
}

func newResourcesKeysListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bound SSH keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			config, err := gateway.BuildRestConfig(kubeconfig)
			if err != nil {
				return fmt.Errorf("building rest config: %w", err)
			}
			client, err := gateway.DynamicClient(ctx, config, resourcesNamespace)
			if err != nil {
				return fmt.Errorf("building cluster client: %w", err)
			}

			keys, err := client.Keys(resourcesNamespace).List(ctx, metav1.ListOptions{})
			if err != nil {
				return fmt.Errorf("listing keys: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tUSER\tEXPIRATION")
			for _, k := range keys.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\n", k.Name, k.Spec.User, k.Spec.Expiration.Format("2006-01-02T15:04:05Z"))
			}
			return w.Flush()
		},
	}
}

func newResourcesKeysRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <name>",
		Short: "Delete a bound SSH key, forcing re-authentication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			config, err := gateway.BuildRestConfig(kubeconfig)
			if err != nil {
				return fmt.Errorf("building rest config: %w", err)
			}
			client, err := gateway.DynamicClient(ctx, config, resourcesNamespace)
			if err != nil {
				return fmt.Errorf("building cluster client: %w", err)
			}

			if err := client.Keys(resourcesNamespace).Delete(ctx, args[0], metav1.DeleteOptions{}); err != nil {
				return fmt.Errorf("revoking key %q: %w", args[0], err)
			}
			fmt.Printf("key/%s revoked\n", args[0])
			return nil
		},
	}
}
