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

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"omniflow/platform/connectors/base"
)

// MemoryStore implements Store in process memory. Used by tests and
// demo runs without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*base.ConnectorAccount
	health   map[uuid.UUID]*base.ConnectorHealth
	attempts []*base.PublishAttempt
	audits   []*AuditRecord
	events   []*EventRecord
	settings map[uuid.UUID]*base.OrgSettings
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*base.ConnectorAccount),
		health:   make(map[uuid.UUID]*base.ConnectorHealth),
		settings: make(map[uuid.UUID]*base.OrgSettings),
	}
}

func copyAccount(a *base.ConnectorAccount) *base.ConnectorAccount {
	c := *a
	c.GrantedScopes = append([]string(nil), a.GrantedScopes...)
	return &c
}

func copyHealth(h *base.ConnectorHealth) *base.ConnectorHealth {
	c := *h
	return &c
}

// CreateAccount inserts the account and its initial health row.
func (s *MemoryStore) CreateAccount(ctx context.Context, account *base.ConnectorAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.ID] = copyAccount(account)
	s.health[account.ID] = &base.ConnectorHealth{
		AccountID:    account.ID,
		Status:       base.HealthUnknown,
		BreakerState: base.BreakerClosed,
	}
	return nil
}

// GetAccount fetches an account scoped to orgID.
func (s *MemoryStore) GetAccount(ctx context.Context, orgID, accountID uuid.UUID) (*base.ConnectorAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok || account.OrgID != orgID {
		return nil, &base.NotFoundError{Kind: "connector account", Key: accountID.String()}
	}
	return copyAccount(account), nil
}

// FindAccount locates an account by provider and account ref.
func (s *MemoryStore) FindAccount(ctx context.Context, orgID uuid.UUID, provider base.Provider, accountRef string) (*base.ConnectorAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if account.OrgID == orgID && account.Provider == provider && account.AccountRef == accountRef {
			return copyAccount(account), nil
		}
	}
	return nil, &base.NotFoundError{Kind: "connector account", Key: accountRef}
}

// ListAccounts returns all of an org's accounts, newest first.
func (s *MemoryStore) ListAccounts(ctx context.Context, orgID uuid.UUID) ([]*base.ConnectorAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []*base.ConnectorAccount
	for _, account := range s.accounts {
		if account.OrgID == orgID {
			accounts = append(accounts, copyAccount(account))
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.After(accounts[j].CreatedAt)
	})
	return accounts, nil
}

// UpdateAccount persists mutable account fields.
func (s *MemoryStore) UpdateAccount(ctx context.Context, account *base.ConnectorAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[account.ID]
	if !ok || existing.OrgID != account.OrgID {
		return &base.NotFoundError{Kind: "connector account", Key: account.ID.String()}
	}

	existing.DisplayName = account.DisplayName
	existing.Status = account.Status
	existing.GrantedScopes = append([]string(nil), account.GrantedScopes...)
	existing.TokenExpiresAt = account.TokenExpiresAt
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveTokens replaces the encrypted token ciphertexts.
func (s *MemoryStore) SaveTokens(ctx context.Context, orgID, accountID uuid.UUID, encryptedAccess, encryptedRefresh string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok || account.OrgID != orgID {
		return &base.NotFoundError{Kind: "connector account", Key: accountID.String()}
	}

	account.EncryptedAccessToken = encryptedAccess
	account.EncryptedRefreshToken = encryptedRefresh
	account.TokenExpiresAt = expiresAt
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// DestroyTokens erases the ciphertexts and marks the account revoked.
func (s *MemoryStore) DestroyTokens(ctx context.Context, orgID, accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok || account.OrgID != orgID {
		return &base.NotFoundError{Kind: "connector account", Key: accountID.String()}
	}

	account.EncryptedAccessToken = ""
	account.EncryptedRefreshToken = ""
	account.TokenExpiresAt = nil
	account.Status = base.AccountRevoked
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// GetHealth fetches the health row for an account.
func (s *MemoryStore) GetHealth(ctx context.Context, accountID uuid.UUID) (*base.ConnectorHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health, ok := s.health[accountID]
	if !ok {
		return nil, &base.NotFoundError{Kind: "connector health", Key: accountID.String()}
	}
	return copyHealth(health), nil
}

// SaveHealth upserts the health row for an account.
func (s *MemoryStore) SaveHealth(ctx context.Context, health *base.ConnectorHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health[health.AccountID] = copyHealth(health)
	return nil
}

// AppendAttempt writes one attempt row.
func (s *MemoryStore) AppendAttempt(ctx context.Context, attempt *base.PublishAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *attempt
	s.attempts = append(s.attempts, &copied)
	return nil
}

// ListAttempts returns recent attempts for an account, newest first.
func (s *MemoryStore) ListAttempts(ctx context.Context, orgID, accountID uuid.UUID, limit int) ([]*base.PublishAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	var attempts []*base.PublishAttempt
	for i := len(s.attempts) - 1; i >= 0 && len(attempts) < limit; i-- {
		a := s.attempts[i]
		if a.AccountID == accountID && a.OrgID == orgID {
			copied := *a
			attempts = append(attempts, &copied)
		}
	}
	return attempts, nil
}

// AppendAudit writes one audit trail entry.
func (s *MemoryStore) AppendAudit(ctx context.Context, record *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.audits = append(s.audits, &copied)
	return nil
}

// AppendEvent writes one domain event.
func (s *MemoryStore) AppendEvent(ctx context.Context, record *EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.events = append(s.events, &copied)
	return nil
}

// Audits returns a copy of the audit trail; test helper.
func (s *MemoryStore) Audits() []*AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*AuditRecord(nil), s.audits...)
}

// Events returns a copy of the event stream; test helper.
func (s *MemoryStore) Events() []*EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*EventRecord(nil), s.events...)
}

// GetOrgSettings returns the org's stored settings or the defaults.
func (s *MemoryStore) GetOrgSettings(ctx context.Context, orgID uuid.UUID) (*base.OrgSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[orgID]
	if !ok {
		return base.DefaultOrgSettings(), nil
	}

	flags := make(map[string]bool, len(settings.ProviderFlags))
	for k, v := range settings.ProviderFlags {
		flags[k] = v
	}
	return &base.OrgSettings{ConnectorMode: settings.ConnectorMode, ProviderFlags: flags}, nil
}

// SaveOrgSettings upserts the org's settings.
func (s *MemoryStore) SaveOrgSettings(ctx context.Context, orgID uuid.UUID, settings *base.OrgSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags := make(map[string]bool, len(settings.ProviderFlags))
	for k, v := range settings.ProviderFlags {
		flags[k] = v
	}
	s.settings[orgID] = &base.OrgSettings{ConnectorMode: settings.ConnectorMode, ProviderFlags: flags}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
