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

// Package main is the entrypoint for the kty-gateway server and its
// operator CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var kubeconfig string

func main() {
	cmd := &cobra.Command{
		Use:           "kty-gateway",
		Short:         "kty-gateway - SSH-fronted access to a Kubernetes cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig file (defaults to in-cluster config, falling back to the default kubeconfig)")

	cmd.AddCommand(
		newServeCommand(),
		newUsersCommand(),
		newResourcesCommand(),
		newVersionCommand(),
	)

	if err := cmd.Execute(); err != nil {
		klog.Fatal(err)
		os.Exit(1)
	}
}
