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

package gateway

import "time"

// Options holds configuration for the gateway server.
type Options struct {
	Address           string
	MetricsAddr       string
	KeyPath           string
	Kubeconfig        string
	Namespace         string

	OpenIDConfiguration string
	Audience            string
	ClientID            string
	Claim               string

	NoCreate          bool
	InactivityTimeout time.Duration
	ReapInterval      time.Duration
}

// NewOptions returns default Options.
func NewOptions() *Options {
	return &Options{
		Address:           ":2222",
		MetricsAddr:       ":8080",
		Namespace:         "kty-gateway",
		ClientID:          "kty-gateway",
		Claim:             "email",
		InactivityTimeout: 30 * time.Minute,
		ReapInterval:      time.Minute,
	}
}
