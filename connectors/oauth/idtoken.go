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
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the subset of OIDC id_token claims used for account
// display metadata.
type Identity struct {
	Subject string
	Name    string
	Email   string
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ParseIdentity extracts display claims from an id_token. The token
// arrives over the provider's TLS token endpoint in direct response to
// our code exchange, so the signature is not re-verified here; the
// claims are used for display only, never authorization.
func ParseIdentity(idToken string) (*Identity, error) {
	var claims idTokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, &claims); err != nil {
		return nil, fmt.Errorf("parse id_token: %w", err)
	}

	return &Identity{
		Subject: claims.Subject,
		Name:    claims.Name,
		Email:   claims.Email,
	}, nil
}
