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

// Provider identifies a supported third-party platform
type Provider string

const (
	ProviderGBP      Provider = "gbp"      // Google Business Profile
	ProviderMeta     Provider = "meta"     // Meta (Facebook pages)
	ProviderLinkedIn Provider = "linkedin" // LinkedIn organization pages
)

// SupportedProviders lists all providers the connector layer can link
var SupportedProviders = []Provider{ProviderGBP, ProviderMeta, ProviderLinkedIn}

// ParseProvider validates a provider string from an external caller
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGBP, ProviderMeta, ProviderLinkedIn:
		return Provider(s), nil
	}
	return "", &NotFoundError{Kind: "provider", Key: s}
}

// Mode is the operating mode for connector calls
type Mode string

const (
	ModeMock Mode = "mock" // deterministic, network-free, default and CI-safe
	ModeLive Mode = "live" // calls reach the external provider
)

// AccountStatus is the lifecycle state of a connector account
type AccountStatus string

const (
	AccountPending AccountStatus = "pending"
	AccountActive  AccountStatus = "active"
	AccountRevoked AccountStatus = "revoked"
)

// BreakerState is the circuit breaker state for an account's live-call path
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// HealthState is the derived health of an account's live-call path
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// ErrorCategory is the taxonomy bucket for a classified provider failure
type ErrorCategory string

const (
	CategoryAuth       ErrorCategory = "auth"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryValidation ErrorCategory = "validation"
	CategoryNetwork    ErrorCategory = "network"
	CategoryUnknown    ErrorCategory = "unknown"
)

// AttemptOutcome is the recorded result of a publish or healthcheck attempt
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeBlocked AttemptOutcome = "blocked"
	OutcomeFailed  AttemptOutcome = "failed"
)

// ConnectorAccount represents one tenant's authorized link to one provider.
// OrgID is immutable after creation; all reads and writes are org-scoped.
// Token fields hold vault ciphertext only -- no plaintext token field
// exists anywhere outside the vault's own call.
type ConnectorAccount struct {
	ID                    uuid.UUID     `json:"id"`
	OrgID                 uuid.UUID     `json:"org_id"`
	Provider              Provider      `json:"provider"`
	AccountRef            string        `json:"account_ref"`
	DisplayName           string        `json:"display_name"`
	Status                AccountStatus `json:"status"`
	GrantedScopes         []string      `json:"granted_scopes"`
	EncryptedAccessToken  string        `json:"-"`
	EncryptedRefreshToken string        `json:"-"`
	TokenExpiresAt        *time.Time    `json:"token_expires_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// ConnectorHealth is the current status of an account's live-call path.
// Status is derived from breaker state and last error, never set
// arbitrarily. Created alongside the account, updated after every live
// call attempt and every explicit healthcheck or breaker reset.
type ConnectorHealth struct {
	AccountID            uuid.UUID     `json:"account_id"`
	Status               HealthState   `json:"health_status"`
	BreakerState         BreakerState  `json:"breaker_state"`
	ConsecutiveFailures  int           `json:"consecutive_failure_count"`
	LastErrorCategory    ErrorCategory `json:"last_error_category,omitempty"`
	LastErrorMsg         string        `json:"last_error_msg,omitempty"`
	LastHTTPStatus       int           `json:"last_http_status,omitempty"`
	LastRateLimitResetAt *time.Time    `json:"last_rate_limit_reset_at,omitempty"`
	LastCheckedAt        *time.Time    `json:"last_checked_at,omitempty"`
	ReauthRequired       bool          `json:"reauth_required"`
}

// PublishAttempt is an immutable audit row for a publish or healthcheck
// call. Write-once, used for audit trails and diagnostics, never for
// control flow.
type PublishAttempt struct {
	ID            uuid.UUID      `json:"id"`
	AccountID     uuid.UUID      `json:"account_id"`
	OrgID         uuid.UUID      `json:"org_id"`
	Operation     string         `json:"operation"` // publish | healthcheck
	Outcome       AttemptOutcome `json:"outcome"`
	ErrorCategory ErrorCategory  `json:"error_category,omitempty"`
	ExternalID    string         `json:"external_id,omitempty"`
	AttemptedAt   time.Time      `json:"attempted_at"`
}

// PublishPayload is the content handed to a provider adapter
type PublishPayload struct {
	Channel  string            `json:"channel"`
	Text     string            `json:"text"`
	LinkURL  string            `json:"link_url,omitempty"`
	MediaRef string            `json:"media_ref,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PublishResult is the typed outcome of a publish call. Exactly one of
// the three outcomes is set; the manager never lets a provider failure
// escape as a panic or unhandled error.
type PublishResult struct {
	Outcome          AttemptOutcome `json:"outcome"`
	ExternalID       string         `json:"external_id,omitempty"`
	Status           string         `json:"status,omitempty"` // queued | published
	Category         ErrorCategory  `json:"error_category,omitempty"`
	Message          string         `json:"message,omitempty"`
	RateLimitResetAt *time.Time     `json:"rate_limit_reset_at,omitempty"`
	RetryAt          *time.Time     `json:"retry_at,omitempty"` // set when Outcome is blocked
}

// OrgSettings is the read-only slice of organization settings this
// layer consumes: the org-level connector mode and the per-provider
// publish/inbox flag map (keys like "gbp_publish_enabled").
type OrgSettings struct {
	ConnectorMode Mode            `json:"connector_mode"`
	ProviderFlags map[string]bool `json:"providers_enabled"`
}

// DefaultOrgSettings returns the safe defaults applied when an org has
// no stored settings: mock mode, every provider flag off.
func DefaultOrgSettings() *OrgSettings {
	flags := make(map[string]bool, len(SupportedProviders)*2)
	for _, p := range SupportedProviders {
		flags[string(p)+"_publish_enabled"] = false
		flags[string(p)+"_inbox_enabled"] = false
	}
	return &OrgSettings{ConnectorMode: ModeMock, ProviderFlags: flags}
}

// ProviderEnabled reports whether the given operation ("publish" or
// "inbox") is flag-enabled for the provider. Unknown keys are false.
func (s *OrgSettings) ProviderEnabled(provider Provider, operation string) bool {
	if s == nil || s.ProviderFlags == nil {
		return false
	}
	op := "inbox"
	if operation == "publish" {
		op = "publish"
	}
	return s.ProviderFlags[fmt.Sprintf("%s_%s_enabled", provider, op)]
}

// RequiredScopes is the per-provider scope set needed for each
// operation. Accounts missing publish scopes are flagged reauth_required.
var RequiredScopes = map[Provider]map[string][]string{
	ProviderGBP: {
		"publish": {"business.manage"},
		"inbox":   {"business.manage"},
	},
	ProviderMeta: {
		"publish": {"pages_manage_posts"},
		"inbox":   {"pages_messaging"},
	},
	ProviderLinkedIn: {
		"publish": {"w_member_social"},
		"inbox":   {"r_organization_social"},
	},
}

// MissingScopes returns the required scopes for provider/operation that
// are absent from granted, sorted order preserved from RequiredScopes.
func MissingScopes(provider Provider, operation string, granted []string) []string {
	required := RequiredScopes[provider][operation]
	if len(required) == 0 {
		return nil
	}
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
