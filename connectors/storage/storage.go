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

// Package storage persists connector accounts, health, attempts, and
// the audit/event streams. The PostgreSQL backend is used in
// production; the in-memory backend backs tests and single-node demo
// runs. All account reads and writes are org-scoped.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"omniflow/platform/connectors/base"
)

// AuditRecord is one append-only audit trail entry.
type AuditRecord struct {
	ID        uuid.UUID         `json:"id"`
	OrgID     uuid.UUID         `json:"org_id"`
	Action    string            `json:"action"` // e.g. connector.linked, token.stored
	AccountID uuid.UUID         `json:"account_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// EventRecord is one domain event emitted for downstream consumers.
type EventRecord struct {
	ID        uuid.UUID         `json:"id"`
	OrgID     uuid.UUID         `json:"org_id"`
	Type      string            `json:"type"` // e.g. CONNECTOR_LINKED
	AccountID uuid.UUID         `json:"account_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store is the persistence surface for the connector layer.
type Store interface {
	// CreateAccount inserts a new account and its initial health row.
	CreateAccount(ctx context.Context, account *base.ConnectorAccount) error
	// GetAccount fetches an account scoped to orgID. A row owned by a
	// different org is a *base.NotFoundError, never a leak.
	GetAccount(ctx context.Context, orgID, accountID uuid.UUID) (*base.ConnectorAccount, error)
	// FindAccount locates an account by provider and provider-side ref
	// within one org.
	FindAccount(ctx context.Context, orgID uuid.UUID, provider base.Provider, accountRef string) (*base.ConnectorAccount, error)
	// ListAccounts returns all of an org's accounts.
	ListAccounts(ctx context.Context, orgID uuid.UUID) ([]*base.ConnectorAccount, error)
	// UpdateAccount persists mutable account fields (status, display
	// name, scopes, token expiry).
	UpdateAccount(ctx context.Context, account *base.ConnectorAccount) error

	// SaveTokens replaces the encrypted token ciphertexts.
	SaveTokens(ctx context.Context, orgID, accountID uuid.UUID, encryptedAccess, encryptedRefresh string, expiresAt *time.Time) error
	// DestroyTokens erases the ciphertexts, leaving the account row in
	// place for audit history.
	DestroyTokens(ctx context.Context, orgID, accountID uuid.UUID) error

	GetHealth(ctx context.Context, accountID uuid.UUID) (*base.ConnectorHealth, error)
	SaveHealth(ctx context.Context, health *base.ConnectorHealth) error

	AppendAttempt(ctx context.Context, attempt *base.PublishAttempt) error
	ListAttempts(ctx context.Context, orgID, accountID uuid.UUID, limit int) ([]*base.PublishAttempt, error)

	AppendAudit(ctx context.Context, record *AuditRecord) error
	AppendEvent(ctx context.Context, record *EventRecord) error

	// GetOrgSettings returns the org's connector settings, or the safe
	// defaults when none are stored.
	GetOrgSettings(ctx context.Context, orgID uuid.UUID) (*base.OrgSettings, error)
	// SaveOrgSettings upserts the org's connector settings.
	SaveOrgSettings(ctx context.Context, orgID uuid.UUID, settings *base.OrgSettings) error

	Close() error
}
