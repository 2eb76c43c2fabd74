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

package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"omniflow/platform/connectors/base"
)

func testCreds() map[base.Provider]AppCredentials {
	return map[base.Provider]AppCredentials{
		base.ProviderLinkedIn: {ClientID: "li-client", ClientSecret: "li-secret"},
		base.ProviderMeta:     {ClientID: "fb-client", ClientSecret: "fb-secret"},
		base.ProviderGBP:      {ClientID: "g-client", ClientSecret: "g-secret"},
	}
}

func TestAuthCodeURL(t *testing.T) {
	broker := NewBroker(testCreds())

	raw, err := broker.AuthCodeURL(base.ProviderLinkedIn, "https://app.example.com/callback", "state-token")
	if err != nil {
		t.Fatalf("AuthCodeURL: %v", err)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	if parsed.Host != "www.linkedin.com" {
		t.Errorf("host = %q", parsed.Host)
	}

	query := parsed.Query()
	if query.Get("client_id") != "li-client" {
		t.Errorf("client_id = %q", query.Get("client_id"))
	}
	if query.Get("state") != "state-token" {
		t.Errorf("state = %q", query.Get("state"))
	}
	if query.Get("redirect_uri") != "https://app.example.com/callback" {
		t.Errorf("redirect_uri = %q", query.Get("redirect_uri"))
	}
	scopes := query.Get("scope")
	if !strings.Contains(scopes, "w_member_social") || !strings.Contains(scopes, "r_organization_social") {
		t.Errorf("scope = %q, missing required scopes", scopes)
	}
}

func TestAuthCodeURLUnconfiguredProvider(t *testing.T) {
	broker := NewBroker(map[base.Provider]AppCredentials{})

	_, err := broker.AuthCodeURL(base.ProviderMeta, "https://app.example.com/callback", "s")
	if err == nil {
		t.Error("expected error for missing app credentials")
	}
}

func TestMockExchangeDeterministic(t *testing.T) {
	broker := NewMockBroker()

	tok, err := broker.Exchange(context.Background(), base.ProviderGBP, "whatever", "https://app.example.com/callback")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if tok.AccessToken != "mock-access-gbp" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
	if tok.RefreshToken != "mock-refresh-gbp" {
		t.Errorf("RefreshToken = %q", tok.RefreshToken)
	}
	if len(tok.GrantedScopes) == 0 {
		t.Error("mock tokens should carry the requested scopes")
	}
	if tok.ExpiresAt == nil {
		t.Error("mock tokens should carry an expiry")
	}
}

func TestRequestScopes(t *testing.T) {
	scopes := RequestScopes(base.ProviderGBP)
	// GBP uses the same scope for publish and inbox; no duplicates.
	if len(scopes) != 1 || scopes[0] != "business.manage" {
		t.Errorf("scopes = %v", scopes)
	}

	scopes = RequestScopes(base.ProviderMeta)
	if len(scopes) != 2 {
		t.Errorf("meta should request publish and inbox scopes, got %v", scopes)
	}
}

func TestSplitScopes(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"a b c", 3},
		{"a,b,c", 3},
		{"a, b", 2},
		{"", 0},
	}
	for _, tt := range tests {
		if got := splitScopes(tt.in); len(got) != tt.want {
			t.Errorf("splitScopes(%q) = %v, want %d parts", tt.in, got, tt.want)
		}
	}
}

// buildUnsignedToken builds a JWT with alg none-style body for parser tests.
func buildUnsignedToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return header + "." + body + ".signature"
}

func TestParseIdentity(t *testing.T) {
	token := buildUnsignedToken(t, map[string]any{
		"sub":   "114091301",
		"name":  "Casey Sample",
		"email": "casey@example.com",
	})

	identity, err := ParseIdentity(token)
	if err != nil {
		t.Fatalf("ParseIdentity: %v", err)
	}
	if identity.Subject != "114091301" {
		t.Errorf("Subject = %q", identity.Subject)
	}
	if identity.Name != "Casey Sample" {
		t.Errorf("Name = %q", identity.Name)
	}
	if identity.Email != "casey@example.com" {
		t.Errorf("Email = %q", identity.Email)
	}
}

func TestParseIdentityGarbage(t *testing.T) {
	if _, err := ParseIdentity("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}
