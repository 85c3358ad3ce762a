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

	gatewayv1alpha1 "github.com/ktygw/kty-gateway/apis/gateway/v1alpha1"
	"github.com/ktygw/kty-gateway/internal/identity"
	"github.com/ktygw/kty-gateway/pkg/gateway"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var usersNamespace string

func newUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "User management commands",
	}
	cmd.PersistentFlags().StringVar(&usersNamespace, "namespace", "kty-gateway", "Namespace holding User resources")

	cmd.AddCommand(
		newUsersCreateCommand(),
		newUsersListCommand(),
	)

	return cmd
}

func newUsersCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <id>",
		Short: "Create a User allowed to reach the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			config, err := gateway.BuildRestConfig(kubeconfig)
			if err != nil {
				return fmt.Errorf("building rest config: %w", err)
			}
			client, err := gateway.DynamicClient(ctx, config, usersNamespace)
			if err != nil {
				return fmt.Errorf("building cluster client: %w", err)
			}

			id := args[0]
			user := &gatewayv1alpha1.User{
				ObjectMeta: metav1.ObjectMeta{Name: identity.Sanitize(id)},
				Spec:       gatewayv1alpha1.UserSpec{ID: id},
			}
			created, err := client.Users(usersNamespace).Create(ctx, user, metav1.CreateOptions{})
			if err != nil {
				return fmt.Errorf("creating user %q: %w", id, err)
			}

			fmt.Printf("user/%s created\n", created.Name)
			return nil
		},
	}
}

func newUsersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List Users",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			config, err := gateway.BuildRestConfig(kubeconfig)
			if err != nil {
				return fmt.Errorf("building rest config: %w", err)
			}
			client, err := gateway.DynamicClient(ctx, config, usersNamespace)
			if err != nil {
				return fmt.Errorf("building cluster client: %w", err)
			}

			users, err := client.Users(usersNamespace).List(ctx, metav1.ListOptions{})
			if err != nil {
				return fmt.Errorf("listing users: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tLAST LOGIN")
			for _, u := range users.Items {
				lastLogin := "<never>"
				if u.Status.LastLogin != nil {
					lastLogin = u.Status.LastLogin.Format("2006-01-02T15:04:05Z")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.Name, u.Spec.ID, lastLogin)
			}
			return w.Flush()
		},
	}
}
