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
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"omniflow/platform/connectors/base"
)

func newTestAccount(orgID uuid.UUID, provider base.Provider) *base.ConnectorAccount {
	now := time.Now().UTC()
	return &base.ConnectorAccount{
		ID:            uuid.New(),
		OrgID:         orgID,
		Provider:      provider,
		AccountRef:    "ref-" + uuid.NewString()[:8],
		DisplayName:   "Test Account",
		Status:        base.AccountActive,
		GrantedScopes: []string{"w_member_social"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemoryAccountLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	orgID := uuid.New()

	account := newTestAccount(orgID, base.ProviderLinkedIn)
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	got, err := store.GetAccount(ctx, orgID, account.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.AccountRef != account.AccountRef || got.Provider != base.ProviderLinkedIn {
		t.Errorf("account mismatch: %+v", got)
	}

	// Creating an account seeds a health row.
	health, err := store.GetHealth(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetHealth: %v", err)
	}
	if health.Status != base.HealthUnknown || health.BreakerState != base.BreakerClosed {
		t.Errorf("initial health should be unknown/closed, got %+v", health)
	}

	got.DisplayName = "Renamed"
	got.Status = base.AccountActive
	if err := store.UpdateAccount(ctx, got); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	got, _ = store.GetAccount(ctx, orgID, account.ID)
	if got.DisplayName != "Renamed" {
		t.Errorf("DisplayName = %q", got.DisplayName)
	}
}

func TestMemoryOrgScoping(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	orgA, orgB := uuid.New(), uuid.New()

	account := newTestAccount(orgA, base.ProviderMeta)
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	// Another org cannot see, update, or revoke the account.
	_, err := store.GetAccount(ctx, orgB, account.ID)
	var notFound *base.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("cross-org read should be not-found, got %v", err)
	}
	if err := store.SaveTokens(ctx, orgB, account.ID, "x", "y", nil); !errors.As(err, &notFound) {
		t.Errorf("cross-org token write should be not-found, got %v", err)
	}
	if err := store.DestroyTokens(ctx, orgB, account.ID); !errors.As(err, &notFound) {
		t.Errorf("cross-org revoke should be not-found, got %v", err)
	}

	accounts, _ := store.ListAccounts(ctx, orgB)
	if len(accounts) != 0 {
		t.Errorf("org B should see no accounts, got %d", len(accounts))
	}
}

func TestMemoryTokens(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	orgID := uuid.New()
	account := newTestAccount(orgID, base.ProviderGBP)
	store.CreateAccount(ctx, account)

	expires := time.Now().Add(time.Hour).UTC()
	if err := store.SaveTokens(ctx, orgID, account.ID, "v1:access", "v1:refresh", &expires); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}

	got, _ := store.GetAccount(ctx, orgID, account.ID)
	if got.EncryptedAccessToken != "v1:access" || got.EncryptedRefreshToken != "v1:refresh" {
		t.Errorf("tokens not stored: %+v", got)
	}

	if err := store.DestroyTokens(ctx, orgID, account.ID); err != nil {
		t.Fatalf("DestroyTokens: %v", err)
	}
	got, _ = store.GetAccount(ctx, orgID, account.ID)
	if got.EncryptedAccessToken != "" || got.EncryptedRefreshToken != "" {
		t.Error("ciphertexts should be erased")
	}
	if got.Status != base.AccountRevoked {
		t.Errorf("Status = %s, want revoked", got.Status)
	}
}

func TestMemoryFindAccount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	orgID := uuid.New()
	account := newTestAccount(orgID, base.ProviderMeta)
	store.CreateAccount(ctx, account)

	got, err := store.FindAccount(ctx, orgID, base.ProviderMeta, account.AccountRef)
	if err != nil {
		t.Fatalf("FindAccount: %v", err)
	}
	if got.ID != account.ID {
		t.Errorf("wrong account: %s", got.ID)
	}

	_, err = store.FindAccount(ctx, orgID, base.ProviderGBP, account.AccountRef)
	var notFound *base.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("different provider should be not-found, got %v", err)
	}
}

func TestMemoryAttempts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	orgID := uuid.New()
	account := newTestAccount(orgID, base.ProviderLinkedIn)
	store.CreateAccount(ctx, account)

	for i := 0; i < 5; i++ {
		err := store.AppendAttempt(ctx, &base.PublishAttempt{
			ID:          uuid.New(),
			AccountID:   account.ID,
			OrgID:       orgID,
			Operation:   "publish",
			Outcome:     base.OutcomeSuccess,
			AttemptedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AppendAttempt: %v", err)
		}
	}

	attempts, err := store.ListAttempts(ctx, orgID, account.ID, 3)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Errorf("expected 3 attempts with the limit, got %d", len(attempts))
	}

	// Cross-org read is empty.
	attempts, _ = store.ListAttempts(ctx, uuid.New(), account.ID, 10)
	if len(attempts) != 0 {
		t.Errorf("cross-org attempts should be empty, got %d", len(attempts))
	}
}

func TestMemoryOrgSettings(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	orgID := uuid.New()

	// No stored settings yields the defaults: mock mode, flags off.
	settings, err := store.GetOrgSettings(ctx, orgID)
	if err != nil {
		t.Fatalf("GetOrgSettings: %v", err)
	}
	if settings.ConnectorMode != base.ModeMock {
		t.Errorf("default mode = %s, want mock", settings.ConnectorMode)
	}
	if settings.ProviderEnabled(base.ProviderMeta, "publish") {
		t.Error("flags should default to off")
	}

	settings.ConnectorMode = base.ModeLive
	settings.ProviderFlags["meta_publish_enabled"] = true
	if err := store.SaveOrgSettings(ctx, orgID, settings); err != nil {
		t.Fatalf("SaveOrgSettings: %v", err)
	}

	got, _ := store.GetOrgSettings(ctx, orgID)
	if got.ConnectorMode != base.ModeLive {
		t.Errorf("mode = %s, want live", got.ConnectorMode)
	}
	if !got.ProviderEnabled(base.ProviderMeta, "publish") {
		t.Error("meta publish flag should be on")
	}
}

func TestMemoryAuditAndEvents(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	orgID := uuid.New()

	err := store.AppendAudit(ctx, &AuditRecord{
		ID:        uuid.New(),
		OrgID:     orgID,
		Action:    "connector.linked",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	err = store.AppendEvent(ctx, &EventRecord{
		ID:        uuid.New(),
		OrgID:     orgID,
		Type:      "CONNECTOR_LINKED",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	if audits := store.Audits(); len(audits) != 1 || audits[0].Action != "connector.linked" {
		t.Errorf("unexpected audit trail: %+v", audits)
	}
	if events := store.Events(); len(events) != 1 || events[0].Type != "CONNECTOR_LINKED" {
		t.Errorf("unexpected event stream: %+v", events)
	}
}
