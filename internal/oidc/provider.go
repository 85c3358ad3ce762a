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

// Package oidc implements the device-authorization grant (RFC 8628)
// against an external OpenID Connect provider: discovery, JWKS, device
// code issuance, token-endpoint polling, and signature-only JWT
// verification. Audience and expiry are not validated, and there is no
// option to turn that validation on: the id_token is used only as a
// one-shot bridge to a cluster User, and the Key it mints carries its own
// expiration.
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"k8s.io/klog/v2"
)

// TotalWait bounds how long a device code may be polled across repeated
// keyboard-interactive rounds before it is treated as expired. Enforcing
// it is the caller's job (the code is issued once and polled once per
// round, driven by the client's repeated "Enter" presses over SSH, not
// by an internal retry loop here).
const TotalWait = 10 * time.Minute

// ErrPending is returned by CheckToken when the token endpoint reports
// the device code is still awaiting user approval (HTTP 403). It is not
// a terminal error: the device code remains valid and the caller should
// try again on the next round.
var ErrPending = errors.New("oidc: authorization pending")

// DeviceCode is the RFC 8628 device-authorization response.
type DeviceCode struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// token is the token-endpoint response for a completed device-code flow.
type token struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	Scope       string `json:"scope"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// discoveryConfig is the subset of the OpenID discovery document this
// provider needs.
type discoveryConfig struct {
	TokenEndpoint               string `json:"token_endpoint"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	JWKSURI                     string `json:"jwks_uri"`
}

// Provider issues device codes, polls for tokens, and verifies id_token
// signatures against the provider's published JWKS.
type Provider struct {
	audience string
	clientID string
	config   discoveryConfig
	jwks     josejwk.JSONWebKeySet
	client   *http.Client
	logger   klog.Logger
}

// New fetches the discovery document and JWKS from configURL and jwks_uri
// respectively.
func New(ctx context.Context, audience, clientID, configURL string, httpClient *http.Client) (*Provider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var cfg discoveryConfig
	if err := getJSON(ctx, httpClient, configURL, &cfg); err != nil {
		return nil, fmt.Errorf("fetching openid configuration: %w", err)
	}

	var jwks josejwk.JSONWebKeySet
	if err := getJSON(ctx, httpClient, cfg.JWKSURI, &jwks); err != nil {
		return nil, fmt.Errorf("fetching jwks: %w", err)
	}

	return &Provider{
		audience: audience,
		clientID: clientID,
		config:   cfg,
		jwks:     jwks,
		client:   httpClient,
		logger:   klog.Background().WithName("oidc-provider"),
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RequestCode issues a new DeviceCode.
func (p *Provider) RequestCode(ctx context.Context) (*DeviceCode, error) {
	form := url.Values{
		"client_id": {p.clientID},
		"scope":     {"openid email"},
		"audience":  {p.audience},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.DeviceAuthorizationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting device code: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("device authorization endpoint returned %d", resp.StatusCode)
	}

	var dc DeviceCode
	if err := json.NewDecoder(resp.Body).Decode(&dc); err != nil {
		return nil, fmt.Errorf("decoding device code: %w", err)
	}
	return &dc, nil
}

// exchangeOnce performs a single token-endpoint exchange attempt. A 403 is
// reported as ErrPending, never as a terminal error: that is this
// provider's "still waiting for user approval" signal (RFC 8628 itself
// signals it with a 400 authorization_pending body, which is treated here
// as a terminal error like any other non-2xx status).
func (p *Provider) exchangeOnce(ctx context.Context, dc *DeviceCode) (*token, error) {
	form := url.Values{
		"client_id":   {p.clientID},
		"device_code": {dc.DeviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchanging device code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, ErrPending
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var t token
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	return &t, nil
}

// CheckToken performs a single token-endpoint exchange attempt for dc.
// On approval it returns the verified claims and the id_token's exp. A
// still-pending device code returns ErrPending (the code remains valid;
// the caller retries on the next keyboard-interactive round, typically
// no sooner than dc.Interval after the previous attempt). Any other
// error is terminal: the device code should be treated as consumed.
func (p *Provider) CheckToken(ctx context.Context, dc *DeviceCode) (map[string]interface{}, time.Time, error) {
	t, err := p.exchangeOnce(ctx, dc)
	if err != nil {
		if errors.Is(err, ErrPending) {
			return nil, time.Time{}, ErrPending
		}
		return nil, time.Time{}, err
	}
	return p.identity(t)
}

// identity verifies the id_token's signature and returns its claims plus
// the token's exp claim as the Key expiration.
func (p *Provider) identity(t *token) (map[string]interface{}, time.Time, error) {
	claims, err := p.VerifyJWT(t.IDToken)
	if err != nil {
		return nil, time.Time{}, err
	}

	expiration := time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	if exp, ok := claims["exp"].(float64); ok {
		expiration = time.Unix(int64(exp), 0)
	}

	return claims, expiration, nil
}

// VerifyJWT decodes the header, finds the JWK by kid, builds an RSA
// verification key from its n/e components, and validates the signature.
// Audience and expiry validation are deliberately left off: see the
// package doc. Unsupported algorithms fail closed.
func (p *Provider) VerifyJWT(raw string) (map[string]interface{}, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("bad_kid: malformed token header: %w", err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("bad_kid: token header has no kid")
	}

	keys := p.jwks.Key(kid)
	if len(keys) == 0 {
		return nil, fmt.Errorf("bad_kid: no jwk found for kid %q", kid)
	}

	rsaKey, ok := keys[0].Key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported_alg: jwk for kid %q is not RSA", kid)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unsupported_alg: %v", t.Header["alg"])
		}
		return rsaKey, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("sig_invalid: %w", err)
	}

	return claims, nil
}
