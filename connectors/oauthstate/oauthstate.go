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

// Package oauthstate issues and consumes single-use OAuth state tokens.
// Tokens bind an in-flight authorization to the org, provider, and
// redirect URI that started it, expire after a short TTL, and can be
// consumed exactly once.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"omniflow/platform/connectors/base"
)

// DefaultTTL is how long an issued state token stays valid.
const DefaultTTL = 10 * time.Minute

// State is the payload bound to a state token.
type State struct {
	OrgID       string        `json:"org_id"`
	Provider    base.Provider `json:"provider"`
	RedirectURI string        `json:"redirect_uri"`
	IssuedAt    time.Time     `json:"issued_at"`
}

// Store issues and consumes state tokens. Consume is atomic: two
// concurrent calls with the same token yield exactly one success.
type Store interface {
	Issue(ctx context.Context, state *State) (string, error)
	Consume(ctx context.Context, token string) (*State, error)
}

// newToken returns a URL-safe random token with 256 bits of entropy.
func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
