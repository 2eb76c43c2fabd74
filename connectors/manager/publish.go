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

package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"omniflow/platform/connectors/base"
	"omniflow/platform/connectors/breaker"
	"omniflow/platform/connectors/providers"
)

// ResolveEffectiveMode computes the mode a call for this provider and
// operation actually runs in. Live requires every gate open: the
// deployment-level mode, the org-level mode, and the per-provider
// operation flag. blocked is true when the org asked for live but a
// gate forced mock; the caller must audit that, never serve it
// silently.
func (m *Manager) ResolveEffectiveMode(ctx context.Context, orgID uuid.UUID, provider base.Provider, operation string) (mode base.Mode, blocked bool, err error) {
	settings, err := m.store.GetOrgSettings(ctx, orgID)
	if err != nil {
		return "", false, err
	}

	if settings.ConnectorMode != base.ModeLive {
		return base.ModeMock, false, nil
	}
	if m.serverMode != base.ModeLive || !settings.ProviderEnabled(provider, operation) {
		return base.ModeMock, true, nil
	}
	return base.ModeLive, false, nil
}

// Publish sends the payload through the account's provider. The result
// is always a typed PublishResult; provider failures, open breakers,
// and token corruption all come back as structured outcomes, never as
// a panic or a bare error. The returned error is reserved for caller
// mistakes (unknown account, invalid payload).
func (m *Manager) Publish(ctx context.Context, orgID, accountID uuid.UUID, payload *base.PublishPayload) (*base.PublishResult, error) {
	if err := providers.ValidatePayload(payload); err != nil {
		return nil, err
	}

	account, err := m.store.GetAccount(ctx, orgID, accountID)
	if err != nil {
		return nil, err
	}

	if account.Status == base.AccountRevoked {
		result := &base.PublishResult{
			Outcome:  base.OutcomeFailed,
			Category: base.CategoryAuth,
			Message:  "account is revoked; re-link required",
		}
		m.recordAttempt(ctx, account, "publish", result)
		return result, nil
	}

	mode, blocked, err := m.ResolveEffectiveMode(ctx, orgID, account.Provider, "publish")
	if err != nil {
		return nil, err
	}
	if blocked {
		m.audit(ctx, orgID, "connector.live_blocked", accountID, map[string]string{
			"provider":  string(account.Provider),
			"operation": "publish",
		})
		m.event(ctx, orgID, "PUBLISH_LIVE_BLOCKED", accountID, map[string]string{
			"provider": string(account.Provider),
		})
	}

	start := m.now()
	var result *base.PublishResult
	if mode == base.ModeMock {
		result = m.publishMock(ctx, account, payload)
	} else {
		result = m.publishLive(ctx, account, payload)
	}

	promPublishTotal.WithLabelValues(string(account.Provider), string(mode), string(result.Outcome)).Inc()
	promPublishDuration.WithLabelValues(string(account.Provider), string(mode)).
		Observe(float64(m.now().Sub(start).Milliseconds()))

	return result, nil
}

// publishMock serves the deterministic mock path. It records the
// attempt row but touches neither the breaker nor health: mock
// traffic must not distort live-path signals.
func (m *Manager) publishMock(ctx context.Context, account *base.ConnectorAccount, payload *base.PublishPayload) *base.PublishResult {
	mock := providers.NewMockAdapter(account.Provider)
	res, err := mock.Publish(ctx, account, "", payload)
	if err != nil {
		// The mock adapter never fails on a validated payload.
		pe := base.Classify(err)
		result := &base.PublishResult{
			Outcome:  base.OutcomeFailed,
			Category: pe.Category,
			Message:  base.SanitizeErrorMessage(pe.Message),
		}
		m.recordAttempt(ctx, account, "publish", result)
		return result
	}

	result := &base.PublishResult{
		Outcome:    base.OutcomeSuccess,
		ExternalID: res.ExternalID,
		Status:     res.Status,
	}
	m.recordAttempt(ctx, account, "publish", result)
	return result
}

func (m *Manager) publishLive(ctx context.Context, account *base.ConnectorAccount, payload *base.PublishPayload) (result *base.PublishResult) {
	// Set once Acquire hands out a call slot. A panic past that point
	// must be reported as a failure or a half-open trial slot would
	// stay occupied forever.
	breakerEngaged := false
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(account.OrgID.String(), "", "Panic during live publish", map[string]interface{}{
				"account_id": account.ID.String(),
				"panic":      fmt.Sprint(r),
			})
			if breakerEngaged {
				m.breakers.RecordFailure(account.ID.String(), base.CategoryUnknown)
			}
			result = &base.PublishResult{
				Outcome:  base.OutcomeFailed,
				Category: base.CategoryUnknown,
				Message:  "internal error during publish",
			}
			m.recordAttempt(ctx, account, "publish", result)
		}
	}()

	accessToken, result := m.decryptAccessToken(ctx, account)
	if result != nil {
		m.recordAttempt(ctx, account, "publish", result)
		return result
	}

	adapter, err := m.adapters.Get(account.Provider)
	if err != nil {
		return m.failLive(ctx, account, "publish", base.Classify(err))
	}

	decision, retryAt := m.breakers.Acquire(account.ID.String())
	if decision == breaker.Blocked {
		result = &base.PublishResult{
			Outcome: base.OutcomeBlocked,
			Message: "circuit breaker open",
			RetryAt: &retryAt,
		}
		m.recordAttempt(ctx, account, "publish", result)
		return result
	}
	breakerEngaged = true

	callCtx, cancel := context.WithTimeout(ctx, m.liveTimeout)
	defer cancel()

	res, err := providers.WithRetry(callCtx, m.retry, func() (*providers.Result, error) {
		return adapter.Publish(callCtx, account, accessToken, payload)
	})
	if err != nil {
		return m.failLive(ctx, account, "publish", base.Classify(err))
	}

	m.breakers.RecordSuccess(account.ID.String())
	m.updateHealthSuccess(ctx, account)

	result = &base.PublishResult{
		Outcome:    base.OutcomeSuccess,
		ExternalID: res.ExternalID,
		Status:     res.Status,
	}
	m.recordAttempt(ctx, account, "publish", result)
	return result
}

// Healthcheck probes the account's live credentials and refreshes the
// stored health row. In mock mode it only stamps the check time.
func (m *Manager) Healthcheck(ctx context.Context, orgID, accountID uuid.UUID) (*base.ConnectorHealth, error) {
	account, err := m.store.GetAccount(ctx, orgID, accountID)
	if err != nil {
		return nil, err
	}

	mode, _, err := m.ResolveEffectiveMode(ctx, orgID, account.Provider, "publish")
	if err != nil {
		return nil, err
	}

	health, err := m.store.GetHealth(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if mode == base.ModeMock {
		health.Status = base.HealthHealthy
		health.LastCheckedAt = &now
		if err := m.store.SaveHealth(ctx, health); err != nil {
			return nil, err
		}
		promHealthchecksTotal.WithLabelValues(string(account.Provider), "ok").Inc()
		m.event(ctx, orgID, "CONNECTOR_HEALTH_OK", accountID, map[string]string{
			"provider": string(account.Provider),
			"mode":     string(base.ModeMock),
		})
		return health, nil
	}

	accessToken, failure := m.decryptAccessToken(ctx, account)
	if failure != nil {
		m.recordAttempt(ctx, account, "healthcheck", failure)
		promHealthchecksTotal.WithLabelValues(string(account.Provider), "failed").Inc()
		return m.store.GetHealth(ctx, accountID)
	}

	adapter, err := m.adapters.Get(account.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.liveTimeout)
	defer cancel()

	if err := adapter.Healthcheck(callCtx, account, accessToken); err != nil {
		pe := base.Classify(err)
		m.failLive(ctx, account, "healthcheck", pe)
		promHealthchecksTotal.WithLabelValues(string(account.Provider), "failed").Inc()
		return m.store.GetHealth(ctx, accountID)
	}

	m.breakers.RecordSuccess(account.ID.String())
	m.updateHealthSuccess(ctx, account)
	m.recordAttempt(ctx, account, "healthcheck", &base.PublishResult{Outcome: base.OutcomeSuccess})
	promHealthchecksTotal.WithLabelValues(string(account.Provider), "ok").Inc()
	m.event(ctx, orgID, "CONNECTOR_HEALTH_OK", accountID, map[string]string{
		"provider": string(account.Provider),
	})
	return m.store.GetHealth(ctx, accountID)
}

// decryptAccessToken resolves the plaintext access token for a live
// call. A missing or corrupt ciphertext comes back as a failed auth
// result with re-auth flagged; the token never leaves the call frame.
func (m *Manager) decryptAccessToken(ctx context.Context, account *base.ConnectorAccount) (string, *base.PublishResult) {
	if account.EncryptedAccessToken == "" {
		m.flagReauth(ctx, account)
		return "", &base.PublishResult{
			Outcome:  base.OutcomeFailed,
			Category: base.CategoryAuth,
			Message:  "no stored access token; re-link required",
		}
	}

	token, err := m.vault.Decrypt(account.EncryptedAccessToken)
	if err != nil {
		var integrity *base.IntegrityError
		if errors.As(err, &integrity) {
			m.log.Error(account.OrgID.String(), "", "Stored token failed integrity check", map[string]interface{}{
				"account_id": account.ID.String(),
			})
		}
		m.flagReauth(ctx, account)
		return "", &base.PublishResult{
			Outcome:  base.OutcomeFailed,
			Category: base.CategoryAuth,
			Message:  "stored token could not be decrypted; re-link required",
		}
	}
	return token, nil
}

func (m *Manager) flagReauth(ctx context.Context, account *base.ConnectorAccount) {
	health, err := m.store.GetHealth(ctx, account.ID)
	if err != nil {
		return
	}
	health.Status = base.HealthUnhealthy
	health.ReauthRequired = true
	health.LastErrorCategory = base.CategoryAuth
	if err := m.store.SaveHealth(ctx, health); err != nil {
		m.log.Error(account.OrgID.String(), "", "Failed to save health", map[string]interface{}{
			"account_id": account.ID.String(),
			"error":      err.Error(),
		})
	}
}

// failLive records a classified live-call failure: breaker bookkeeping,
// health row, attempt row, and the typed result.
func (m *Manager) failLive(ctx context.Context, account *base.ConnectorAccount, operation string, pe *base.ProviderError) *base.PublishResult {
	m.breakers.RecordFailure(account.ID.String(), pe.Category)
	snap := m.breakers.Snapshot(account.ID.String())

	now := m.now().UTC()
	if health, err := m.store.GetHealth(ctx, account.ID); err == nil {
		health.BreakerState = snap.State
		health.ConsecutiveFailures = snap.ConsecutiveFailures
		health.LastErrorCategory = pe.Category
		health.LastErrorMsg = base.SanitizeErrorMessage(pe.Message)
		health.LastHTTPStatus = pe.HTTPStatus
		health.LastRateLimitResetAt = pe.ResetAt
		health.LastCheckedAt = &now
		switch {
		case snap.State == base.BreakerOpen:
			health.Status = base.HealthUnhealthy
		case pe.Category == base.CategoryAuth:
			health.Status = base.HealthUnhealthy
			health.ReauthRequired = true
		default:
			health.Status = base.HealthDegraded
		}
		if err := m.store.SaveHealth(ctx, health); err != nil {
			m.log.Error(account.OrgID.String(), "", "Failed to save health", map[string]interface{}{
				"account_id": account.ID.String(),
				"error":      err.Error(),
			})
		}
	}

	result := &base.PublishResult{
		Outcome:          base.OutcomeFailed,
		Category:         pe.Category,
		Message:          base.SanitizeErrorMessage(pe.Message),
		RateLimitResetAt: pe.ResetAt,
	}
	m.recordAttempt(ctx, account, operation, result)

	m.log.Warn(account.OrgID.String(), "", "Live provider call failed", map[string]interface{}{
		"account_id":    account.ID.String(),
		"provider":      string(account.Provider),
		"operation":     operation,
		"category":      string(pe.Category),
		"breaker_state": string(snap.State),
	})
	return result
}

func (m *Manager) updateHealthSuccess(ctx context.Context, account *base.ConnectorAccount) {
	health, err := m.store.GetHealth(ctx, account.ID)
	if err != nil {
		return
	}
	now := m.now().UTC()
	health.Status = base.HealthHealthy
	health.BreakerState = base.BreakerClosed
	health.ConsecutiveFailures = 0
	health.LastErrorCategory = ""
	health.LastErrorMsg = ""
	health.LastHTTPStatus = 0
	health.LastRateLimitResetAt = nil
	health.LastCheckedAt = &now
	health.ReauthRequired = false
	if err := m.store.SaveHealth(ctx, health); err != nil {
		m.log.Error(account.OrgID.String(), "", "Failed to save health", map[string]interface{}{
			"account_id": account.ID.String(),
			"error":      err.Error(),
		})
	}
}

func (m *Manager) recordAttempt(ctx context.Context, account *base.ConnectorAccount, operation string, result *base.PublishResult) {
	attempt := &base.PublishAttempt{
		ID:            uuid.New(),
		AccountID:     account.ID,
		OrgID:         account.OrgID,
		Operation:     operation,
		Outcome:       result.Outcome,
		ErrorCategory: result.Category,
		ExternalID:    result.ExternalID,
		AttemptedAt:   m.now().UTC(),
	}
	if err := m.store.AppendAttempt(ctx, attempt); err != nil {
		m.log.Error(account.OrgID.String(), "", "Failed to append publish attempt", map[string]interface{}{
			"account_id": account.ID.String(),
			"error":      err.Error(),
		})
	}
}
