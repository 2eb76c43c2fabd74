// Copyright 2025 OmniFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package oauth brokers the authorization-code flow against the
// supported providers. The broker builds authorization URLs, exchanges
// codes for tokens, and in mock mode fabricates deterministic tokens
// so the full link flow works without provider apps.
package oauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"omniflow/platform/connectors/base"
)

// AppCredentials is one provider's OAuth app.
type AppCredentials struct {
	ClientID     string
	ClientSecret string
}

// Token is the normalized result of a code exchange.
type Token struct {
	AccessToken   string
	RefreshToken  string
	ExpiresAt     *time.Time
	GrantedScopes []string
	// IDToken is the raw OIDC id_token when the provider returned one.
	IDToken string
}

// endpoints per provider.
var endpoints = map[base.Provider]oauth2.Endpoint{
	base.ProviderGBP: {
		AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
	},
	base.ProviderMeta: {
		AuthURL:  "https://www.facebook.com/v19.0/dialog/oauth",
		TokenURL: "https://graph.facebook.com/v19.0/oauth/access_token",
	},
	base.ProviderLinkedIn: {
		AuthURL:  "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL: "https://www.linkedin.com/oauth/v2/accessToken",
	},
}

// RequestScopes returns the scopes requested at authorization time:
// everything the provider's publish and inbox operations need.
func RequestScopes(provider base.Provider) []string {
	seen := make(map[string]bool)
	var scopes []string
	for _, op := range []string{"publish", "inbox"} {
		for _, s := range base.RequiredScopes[provider][op] {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	return scopes
}

// Broker runs the authorization-code flow. In mock mode no provider is
// contacted and tokens are fabricated deterministically.
type Broker struct {
	creds map[base.Provider]AppCredentials
	mock  bool
}

// NewBroker builds a live broker from per-provider app credentials.
func NewBroker(creds map[base.Provider]AppCredentials) *Broker {
	return &Broker{creds: creds}
}

// NewMockBroker builds a broker that fabricates tokens.
func NewMockBroker() *Broker {
	return &Broker{mock: true}
}

// Mock reports whether this broker fabricates tokens.
func (b *Broker) Mock() bool {
	return b.mock
}

// Configured reports whether app credentials exist for provider. The
// mock broker counts as configured for every provider.
func (b *Broker) Configured(provider base.Provider) bool {
	if b.mock {
		return true
	}
	app, ok := b.creds[provider]
	return ok && app.ClientID != "" && app.ClientSecret != ""
}

func (b *Broker) config(provider base.Provider, redirectURI string) (*oauth2.Config, error) {
	endpoint, ok := endpoints[provider]
	if !ok {
		return nil, &base.NotFoundError{Kind: "provider", Key: string(provider)}
	}
	creds, ok := b.creds[provider]
	if !ok {
		return nil, &base.ConfigError{Field: string(provider) + "_oauth_app", Message: "credentials not configured"}
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURI,
		Scopes:       RequestScopes(provider),
	}, nil
}

// AuthCodeURL builds the provider authorization URL carrying state.
// Mock mode returns a local pseudo-URL the frontend can short-circuit.
func (b *Broker) AuthCodeURL(provider base.Provider, redirectURI, state string) (string, error) {
	if b.mock {
		return fmt.Sprintf("%s?state=%s&code=mock-code-%s", redirectURI, state, provider), nil
	}

	cfg, err := b.config(provider, redirectURI)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange trades an authorization code for tokens. Mock mode accepts
// any code and fabricates a deterministic token set.
func (b *Broker) Exchange(ctx context.Context, provider base.Provider, code, redirectURI string) (*Token, error) {
	if b.mock {
		return mockToken(provider), nil
	}

	cfg, err := b.config(provider, redirectURI)
	if err != nil {
		return nil, err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, &base.AuthError{Op: "exchange", Message: fmt.Sprintf("code exchange failed: %v", err)}
	}

	token := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		token.ExpiresAt = &expiry
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		token.GrantedScopes = splitScopes(scope)
	} else {
		// Providers that omit the scope echo granted what was asked.
		token.GrantedScopes = RequestScopes(provider)
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		token.IDToken = idToken
	}
	return token, nil
}

// mockToken fabricates the deterministic mock token set for provider.
func mockToken(provider base.Provider) *Token {
	expiry := time.Now().Add(time.Hour).UTC()
	return &Token{
		AccessToken:   fmt.Sprintf("mock-access-%s", provider),
		RefreshToken:  fmt.Sprintf("mock-refresh-%s", provider),
		ExpiresAt:     &expiry,
		GrantedScopes: RequestScopes(provider),
	}
}

// splitScopes handles both space- and comma-separated scope echoes.
func splitScopes(scope string) []string {
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	var scopes []string
	for _, f := range fields {
		if f != "" {
			scopes = append(scopes, f)
		}
	}
	return scopes
}
