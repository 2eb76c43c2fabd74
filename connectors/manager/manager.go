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

// Package manager orchestrates the connector layer: OAuth account
// linking, mode resolution, publishing through provider adapters with
// circuit breaking and retries, healthchecks, diagnostics, and
// disconnects. It is the only package that sees decrypted tokens, and
// only inside a single call frame.
package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"omniflow/platform/connectors/base"
	"omniflow/platform/connectors/breaker"
	"omniflow/platform/connectors/oauth"
	"omniflow/platform/connectors/oauthstate"
	"omniflow/platform/connectors/providers"
	"omniflow/platform/connectors/storage"
	"omniflow/platform/connectors/vault"
	"omniflow/platform/shared/logger"
)

// Options wires a Manager.
type Options struct {
	Store    storage.Store
	Vault    *vault.Vault
	Breakers *breaker.Registry
	Adapters *providers.Registry
	Broker   *oauth.Broker
	States   oauthstate.Store

	// Retry overrides the publish retry policy when non-nil.
	Retry *providers.RetryConfig
	// LiveTimeout caps one live provider call. Defaults to 30s.
	LiveTimeout time.Duration
	// ServerMode is the deployment-level mode gate. Live calls happen
	// only when this is live AND the org opted in.
	ServerMode base.Mode
	// RedirectAllowList is the exact-match set of permitted OAuth
	// redirect URIs.
	RedirectAllowList []string

	Logger *logger.Logger
}

// Manager is the connector layer facade.
type Manager struct {
	store    storage.Store
	vault    *vault.Vault
	breakers *breaker.Registry
	adapters *providers.Registry
	broker   *oauth.Broker
	states   oauthstate.Store

	retry       *providers.RetryConfig
	liveTimeout time.Duration
	serverMode  base.Mode
	allowList   []string

	log *logger.Logger
	now func() time.Time
}

// New builds a Manager and hooks breaker transitions into metrics.
func New(opts Options) *Manager {
	if opts.Retry == nil {
		opts.Retry = providers.DefaultRetryConfig()
	}
	if opts.LiveTimeout <= 0 {
		opts.LiveTimeout = 30 * time.Second
	}
	if opts.ServerMode == "" {
		opts.ServerMode = base.ModeMock
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("connector-manager")
	}

	m := &Manager{
		store:       opts.Store,
		vault:       opts.Vault,
		breakers:    opts.Breakers,
		adapters:    opts.Adapters,
		broker:      opts.Broker,
		states:      opts.States,
		retry:       opts.Retry,
		liveTimeout: opts.LiveTimeout,
		serverMode:  opts.ServerMode,
		allowList:   opts.RedirectAllowList,
		log:         opts.Logger,
		now:         time.Now,
	}

	if m.breakers != nil {
		m.breakers.OnTransition = func(accountID string, from, to base.BreakerState) {
			promBreakerTransitions.WithLabelValues(string(from), string(to)).Inc()
		}
	}

	return m
}

// StartLink validates the redirect URI, issues a single-use state
// token, and returns the provider authorization URL.
func (m *Manager) StartLink(ctx context.Context, orgID uuid.UUID, provider base.Provider, redirectURI string) (string, error) {
	if err := base.ValidateRedirectURI(redirectURI, m.allowList); err != nil {
		return "", err
	}

	token, err := m.states.Issue(ctx, &oauthstate.State{
		OrgID:       orgID.String(),
		Provider:    provider,
		RedirectURI: redirectURI,
		IssuedAt:    m.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("issue state: %w", err)
	}

	authURL, err := m.broker.AuthCodeURL(provider, redirectURI, token)
	if err != nil {
		return "", err
	}

	m.log.Info(orgID.String(), "", "OAuth link started", map[string]interface{}{
		"provider": string(provider),
	})
	return authURL, nil
}

// LinkRequest carries the callback parameters for CompleteLink.
type LinkRequest struct {
	StateToken string
	Code       string
	// AccountRef optionally pins the provider-side account (page id,
	// location resource, organization URN). Falls back to the OIDC
	// subject when empty.
	AccountRef string
	// DisplayName optionally overrides the display name derived from
	// the id_token.
	DisplayName string
}

// CompleteLink consumes the state token, exchanges the code, encrypts
// and stores the tokens, and upserts the connector account. Replayed
// or expired state tokens fail with *base.NotFoundError.
func (m *Manager) CompleteLink(ctx context.Context, orgID uuid.UUID, req *LinkRequest) (*base.ConnectorAccount, error) {
	state, err := m.states.Consume(ctx, req.StateToken)
	if err != nil {
		return nil, err
	}
	if state.OrgID != orgID.String() {
		// The state was issued for another org; treat as unknown
		// rather than confirming it exists.
		return nil, &base.NotFoundError{Kind: "oauth state", Key: req.StateToken}
	}

	provider := state.Provider
	token, err := m.broker.Exchange(ctx, provider, req.Code, state.RedirectURI)
	if err != nil {
		return nil, err
	}

	displayName := req.DisplayName
	accountRef := req.AccountRef
	if token.IDToken != "" {
		if identity, err := oauth.ParseIdentity(token.IDToken); err == nil {
			if displayName == "" {
				displayName = identity.Name
			}
			if accountRef == "" {
				accountRef = identity.Subject
			}
		}
	}
	if accountRef == "" {
		accountRef = fmt.Sprintf("%s-account", provider)
	}
	if displayName == "" {
		displayName = fmt.Sprintf("%s account", provider)
	}

	encryptedAccess, err := m.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	encryptedRefresh := ""
	if token.RefreshToken != "" {
		encryptedRefresh, err = m.vault.Encrypt(token.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	now := m.now().UTC()
	account, err := m.store.FindAccount(ctx, orgID, provider, accountRef)
	if err == nil {
		// Re-link of an existing account: refresh scopes and tokens.
		account.DisplayName = displayName
		account.Status = base.AccountActive
		account.GrantedScopes = token.GrantedScopes
		account.TokenExpiresAt = token.ExpiresAt
		if err := m.store.UpdateAccount(ctx, account); err != nil {
			return nil, err
		}
	} else {
		account = &base.ConnectorAccount{
			ID:             uuid.New(),
			OrgID:          orgID,
			Provider:       provider,
			AccountRef:     accountRef,
			DisplayName:    displayName,
			Status:         base.AccountActive,
			GrantedScopes:  token.GrantedScopes,
			TokenExpiresAt: token.ExpiresAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := m.store.CreateAccount(ctx, account); err != nil {
			return nil, err
		}
	}

	if err := m.store.SaveTokens(ctx, orgID, account.ID, encryptedAccess, encryptedRefresh, token.ExpiresAt); err != nil {
		return nil, err
	}
	account.EncryptedAccessToken = encryptedAccess
	account.EncryptedRefreshToken = encryptedRefresh

	// Accounts linked without the publish scopes need re-auth before
	// live publishing.
	missing := base.MissingScopes(provider, "publish", token.GrantedScopes)
	if health, err := m.store.GetHealth(ctx, account.ID); err == nil {
		health.ReauthRequired = len(missing) > 0
		if len(missing) > 0 {
			health.LastErrorCategory = base.CategoryAuth
			health.LastErrorMsg = base.SanitizeErrorMessage("missing scopes: " + strings.Join(missing, ", "))
		} else {
			health.LastErrorCategory = ""
			health.LastErrorMsg = ""
		}
		_ = m.store.SaveHealth(ctx, health)
	}

	m.audit(ctx, orgID, "connector.linked", account.ID, map[string]string{
		"provider":    string(provider),
		"account_ref": accountRef,
	})
	m.audit(ctx, orgID, "token.stored", account.ID, map[string]string{
		"provider": string(provider),
	})
	m.event(ctx, orgID, "CONNECTOR_LINKED", account.ID, map[string]string{
		"provider": string(provider),
	})
	promLinksTotal.WithLabelValues(string(provider)).Inc()

	m.log.Info(orgID.String(), "", "Connector account linked", map[string]interface{}{
		"provider":       string(provider),
		"account_id":     account.ID.String(),
		"missing_scopes": len(missing),
	})
	return account, nil
}

// ListAccounts returns the org's connector accounts.
func (m *Manager) ListAccounts(ctx context.Context, orgID uuid.UUID) ([]*base.ConnectorAccount, error) {
	return m.store.ListAccounts(ctx, orgID)
}

// AccountHealth pairs an account with its current health row.
type AccountHealth struct {
	Account *base.ConnectorAccount `json:"account"`
	Health  *base.ConnectorHealth  `json:"health"`
}

// ListHealth returns health for every account of the org.
func (m *Manager) ListHealth(ctx context.Context, orgID uuid.UUID) ([]*AccountHealth, error) {
	accounts, err := m.store.ListAccounts(ctx, orgID)
	if err != nil {
		return nil, err
	}

	out := make([]*AccountHealth, 0, len(accounts))
	for _, account := range accounts {
		health, err := m.store.GetHealth(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &AccountHealth{Account: account, Health: health})
	}
	return out, nil
}

// ProviderStatus is one row of the provider catalogue for an org.
type ProviderStatus struct {
	Provider       base.Provider       `json:"provider"`
	EffectiveMode  base.Mode           `json:"effective_mode"`
	Configured     bool                `json:"configured"`
	RequiredScopes map[string][]string `json:"required_scopes"`
}

// ProviderCatalogue reports, per supported provider, the mode a
// publish for orgID would run in and whether OAuth app credentials
// are configured.
func (m *Manager) ProviderCatalogue(ctx context.Context, orgID uuid.UUID) ([]*ProviderStatus, error) {
	out := make([]*ProviderStatus, 0, len(base.SupportedProviders))
	for _, provider := range base.SupportedProviders {
		mode, _, err := m.ResolveEffectiveMode(ctx, orgID, provider, "publish")
		if err != nil {
			return nil, err
		}
		out = append(out, &ProviderStatus{
			Provider:       provider,
			EffectiveMode:  mode,
			Configured:     m.broker.Configured(provider),
			RequiredScopes: base.RequiredScopes[provider],
		})
	}
	return out, nil
}

// Revoke destroys the stored tokens, marks the account revoked, and
// emits the disconnect audit and event records. The account row stays
// for audit history.
func (m *Manager) Revoke(ctx context.Context, orgID, accountID uuid.UUID) error {
	account, err := m.store.GetAccount(ctx, orgID, accountID)
	if err != nil {
		return err
	}

	if err := m.store.DestroyTokens(ctx, orgID, accountID); err != nil {
		return err
	}

	account.Status = base.AccountRevoked
	if err := m.store.UpdateAccount(ctx, account); err != nil {
		return err
	}

	if health, err := m.store.GetHealth(ctx, accountID); err == nil {
		health.Status = base.HealthUnknown
		health.ReauthRequired = false
		_ = m.store.SaveHealth(ctx, health)
	}

	m.audit(ctx, orgID, "connector.disconnected", accountID, map[string]string{
		"provider": string(account.Provider),
	})
	m.event(ctx, orgID, "CONNECTOR_UNLINKED", accountID, map[string]string{
		"provider": string(account.Provider),
	})

	m.log.Info(orgID.String(), "", "Connector account disconnected", map[string]interface{}{
		"provider":   string(account.Provider),
		"account_id": accountID.String(),
	})
	return nil
}

// ResetBreaker forces the account's breaker closed. Operator action,
// always audited.
func (m *Manager) ResetBreaker(ctx context.Context, orgID, accountID uuid.UUID) error {
	account, err := m.store.GetAccount(ctx, orgID, accountID)
	if err != nil {
		return err
	}

	m.breakers.Reset(accountID.String())

	if health, err := m.store.GetHealth(ctx, accountID); err == nil {
		health.BreakerState = base.BreakerClosed
		health.ConsecutiveFailures = 0
		_ = m.store.SaveHealth(ctx, health)
	}

	m.audit(ctx, orgID, "connector.breaker_reset", accountID, map[string]string{
		"provider": string(account.Provider),
	})
	m.event(ctx, orgID, "CONNECTOR_BREAKER_RESET", accountID, map[string]string{
		"provider": string(account.Provider),
	})
	return nil
}

// Diagnostics is the support view for one account.
type Diagnostics struct {
	Account        *base.ConnectorAccount `json:"account"`
	Health         *base.ConnectorHealth  `json:"health"`
	EffectiveMode  base.Mode              `json:"effective_mode"`
	MissingScopes  []string               `json:"missing_scopes,omitempty"`
	RecentAttempts []*base.PublishAttempt `json:"recent_attempts"`
	Breaker        breaker.Snapshot       `json:"breaker"`
}

// Diagnose assembles the diagnostics view for one account.
func (m *Manager) Diagnose(ctx context.Context, orgID, accountID uuid.UUID) (*Diagnostics, error) {
	account, err := m.store.GetAccount(ctx, orgID, accountID)
	if err != nil {
		return nil, err
	}

	health, err := m.store.GetHealth(ctx, accountID)
	if err != nil {
		return nil, err
	}

	attempts, err := m.store.ListAttempts(ctx, orgID, accountID, 20)
	if err != nil {
		return nil, err
	}

	mode, _, err := m.ResolveEffectiveMode(ctx, orgID, account.Provider, "publish")
	if err != nil {
		return nil, err
	}

	return &Diagnostics{
		Account:        account,
		Health:         health,
		EffectiveMode:  mode,
		MissingScopes:  base.MissingScopes(account.Provider, "publish", account.GrantedScopes),
		RecentAttempts: attempts,
		Breaker:        m.breakers.Snapshot(accountID.String()),
	}, nil
}

func (m *Manager) audit(ctx context.Context, orgID uuid.UUID, action string, accountID uuid.UUID, details map[string]string) {
	err := m.store.AppendAudit(ctx, &storage.AuditRecord{
		ID:        uuid.New(),
		OrgID:     orgID,
		Action:    action,
		AccountID: accountID,
		Details:   details,
		CreatedAt: m.now().UTC(),
	})
	if err != nil {
		m.log.Error(orgID.String(), "", "Failed to append audit record", map[string]interface{}{
			"action": action,
			"error":  err.Error(),
		})
	}
}

func (m *Manager) event(ctx context.Context, orgID uuid.UUID, eventType string, accountID uuid.UUID, payload map[string]string) {
	err := m.store.AppendEvent(ctx, &storage.EventRecord{
		ID:        uuid.New(),
		OrgID:     orgID,
		Type:      eventType,
		AccountID: accountID,
		Payload:   payload,
		CreatedAt: m.now().UTC(),
	})
	if err != nil {
		m.log.Error(orgID.String(), "", "Failed to append event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}
