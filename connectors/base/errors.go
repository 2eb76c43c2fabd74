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

package base

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthError covers OAuth linking failures: invalid or expired state
// tokens, redirect URI mismatches, tenant mismatches. Surfaced to the
// end user as a retry-the-link-flow instruction.
type AuthError struct {
	Op      string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error in %s: %s", e.Op, e.Message)
}

// ConfigError indicates missing or malformed startup configuration
// (encryption key, redirect allow-list). Fatal at startup, never
// raised at runtime.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// IntegrityError indicates stored credential ciphertext could not be
// authenticated: tampered data or a key mismatch. The manager treats
// this as reauth_required, never as a fatal fault.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential integrity failure: %v", e.Err)
	}
	return "credential integrity failure"
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// ProviderError is a classified provider failure. Message is already
// sanitized; raw provider payloads never cross this boundary.
type ProviderError struct {
	Category     ErrorCategory
	Message      string
	HTTPStatus   int
	ProviderCode string
	ResetAt      *time.Time // rate-limit reset hint, when the provider supplied one
	Err          error
}

func (e *ProviderError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("provider error (%s, http %d): %s", e.Category, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("provider error (%s): %s", e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a classified provider error with a sanitized message
func NewProviderError(category ErrorCategory, message string) *ProviderError {
	return &ProviderError{Category: category, Message: SanitizeErrorMessage(message)}
}

// BreakerOpenError indicates a call was blocked by an open circuit
// breaker. This is an expected, audited outcome of a protective
// policy, not an exceptional condition.
type BreakerOpenError struct {
	AccountID uuid.UUID
	RetryAt   time.Time
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for account %s until %s", e.AccountID, e.RetryAt.UTC().Format(time.RFC3339))
}

// NotFoundError indicates an unknown account, provider, or state token
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}
