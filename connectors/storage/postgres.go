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
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"omniflow/platform/connectors/base"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresStore connects to PostgreSQL and initializes the schema.
// Connection attempts retry with backoff to ride out container DNS and
// database startup delays.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	maxRetries := 5
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt*2) * time.Second
			log.Printf("[ConnectorStorage] Database connection failed (attempt %d/%d): %v, retrying in %v",
				attempt, maxRetries, err, backoff)
			time.Sleep(backoff)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	store := &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[ConnectorStorage] ", log.LstdFlags),
	}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store.logger.Println("PostgreSQL connector storage initialized")
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection; used in tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[ConnectorStorage] ", log.LstdFlags),
	}
}

func (s *PostgresStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS connector_accounts (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		provider VARCHAR(20) NOT NULL,
		account_ref VARCHAR(255) NOT NULL,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		granted_scopes JSONB NOT NULL DEFAULT '[]'::jsonb,
		encrypted_access_token TEXT NOT NULL DEFAULT '',
		encrypted_refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(org_id, provider, account_ref)
	);

	CREATE INDEX IF NOT EXISTS idx_connector_accounts_org ON connector_accounts(org_id);

	CREATE TABLE IF NOT EXISTS connector_health (
		account_id UUID PRIMARY KEY REFERENCES connector_accounts(id),
		health_status VARCHAR(20) NOT NULL DEFAULT 'unknown',
		breaker_state VARCHAR(20) NOT NULL DEFAULT 'closed',
		consecutive_failure_count INT NOT NULL DEFAULT 0,
		last_error_category VARCHAR(20),
		last_error_msg TEXT,
		last_http_status INT,
		last_rate_limit_reset_at TIMESTAMPTZ,
		last_checked_at TIMESTAMPTZ,
		reauth_required BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS publish_attempts (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL,
		org_id UUID NOT NULL,
		operation VARCHAR(20) NOT NULL,
		outcome VARCHAR(20) NOT NULL,
		error_category VARCHAR(20),
		external_id VARCHAR(255),
		attempted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_publish_attempts_account ON publish_attempts(account_id, attempted_at DESC);

	CREATE TABLE IF NOT EXISTS connector_audit (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		action VARCHAR(50) NOT NULL,
		account_id UUID,
		details JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_connector_audit_org ON connector_audit(org_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS connector_events (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		type VARCHAR(50) NOT NULL,
		account_id UUID,
		payload JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS org_connector_settings (
		org_id UUID PRIMARY KEY,
		connector_mode VARCHAR(10) NOT NULL DEFAULT 'mock',
		provider_flags JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Println("Connector schema initialized")
	return nil
}

const accountColumns = `id, org_id, provider, account_ref, display_name, status, granted_scopes,
	encrypted_access_token, encrypted_refresh_token, token_expires_at, created_at, updated_at`

// CreateAccount inserts the account and its initial health row in one
// transaction.
func (s *PostgresStore) CreateAccount(ctx context.Context, account *base.ConnectorAccount) error {
	scopesJSON, err := json.Marshal(account.GrantedScopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO connector_accounts (id, org_id, provider, account_ref, display_name, status,
			granted_scopes, encrypted_access_token, encrypted_refresh_token, token_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		account.ID, account.OrgID, account.Provider, account.AccountRef, account.DisplayName,
		account.Status, scopesJSON, account.EncryptedAccessToken, account.EncryptedRefreshToken,
		account.TokenExpiresAt, account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO connector_health (account_id, health_status, breaker_state)
		VALUES ($1, 'unknown', 'closed')`,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert health row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Printf("Created connector account %s (provider: %s, org: %s)", account.ID, account.Provider, account.OrgID)
	return nil
}

func scanAccount(row *sql.Row) (*base.ConnectorAccount, error) {
	var account base.ConnectorAccount
	var scopesJSON []byte

	err := row.Scan(
		&account.ID, &account.OrgID, &account.Provider, &account.AccountRef,
		&account.DisplayName, &account.Status, &scopesJSON,
		&account.EncryptedAccessToken, &account.EncryptedRefreshToken,
		&account.TokenExpiresAt, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(scopesJSON, &account.GrantedScopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	return &account, nil
}

// GetAccount fetches an account by id within orgID.
func (s *PostgresStore) GetAccount(ctx context.Context, orgID, accountID uuid.UUID) (*base.ConnectorAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM connector_accounts
		WHERE id = $1 AND org_id = $2`,
		accountID, orgID,
	)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, &base.NotFoundError{Kind: "connector account", Key: accountID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// FindAccount locates an account by provider and account ref.
func (s *PostgresStore) FindAccount(ctx context.Context, orgID uuid.UUID, provider base.Provider, accountRef string) (*base.ConnectorAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM connector_accounts
		WHERE org_id = $1 AND provider = $2 AND account_ref = $3`,
		orgID, provider, accountRef,
	)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, &base.NotFoundError{Kind: "connector account", Key: accountRef}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// ListAccounts returns all of an org's accounts, newest first.
func (s *PostgresStore) ListAccounts(ctx context.Context, orgID uuid.UUID) ([]*base.ConnectorAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM connector_accounts
		WHERE org_id = $1
		ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*base.ConnectorAccount
	for rows.Next() {
		var account base.ConnectorAccount
		var scopesJSON []byte
		err := rows.Scan(
			&account.ID, &account.OrgID, &account.Provider, &account.AccountRef,
			&account.DisplayName, &account.Status, &scopesJSON,
			&account.EncryptedAccessToken, &account.EncryptedRefreshToken,
			&account.TokenExpiresAt, &account.CreatedAt, &account.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(scopesJSON, &account.GrantedScopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
		accounts = append(accounts, &account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return accounts, nil
}

// UpdateAccount persists mutable account fields.
func (s *PostgresStore) UpdateAccount(ctx context.Context, account *base.ConnectorAccount) error {
	scopesJSON, err := json.Marshal(account.GrantedScopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE connector_accounts
		SET display_name = $3, status = $4, granted_scopes = $5, token_expires_at = $6, updated_at = NOW()
		WHERE id = $1 AND org_id = $2`,
		account.ID, account.OrgID, account.DisplayName, account.Status, scopesJSON, account.TokenExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return &base.NotFoundError{Kind: "connector account", Key: account.ID.String()}
	}
	return nil
}

// SaveTokens replaces the encrypted token ciphertexts.
func (s *PostgresStore) SaveTokens(ctx context.Context, orgID, accountID uuid.UUID, encryptedAccess, encryptedRefresh string, expiresAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE connector_accounts
		SET encrypted_access_token = $3, encrypted_refresh_token = $4, token_expires_at = $5, updated_at = NOW()
		WHERE id = $1 AND org_id = $2`,
		accountID, orgID, encryptedAccess, encryptedRefresh, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return &base.NotFoundError{Kind: "connector account", Key: accountID.String()}
	}

	s.logger.Printf("Stored tokens for account %s", accountID)
	return nil
}

// DestroyTokens erases the ciphertexts and marks the account revoked.
func (s *PostgresStore) DestroyTokens(ctx context.Context, orgID, accountID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE connector_accounts
		SET encrypted_access_token = '', encrypted_refresh_token = '', token_expires_at = NULL,
			status = 'revoked', updated_at = NOW()
		WHERE id = $1 AND org_id = $2`,
		accountID, orgID,
	)
	if err != nil {
		return fmt.Errorf("failed to destroy tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return &base.NotFoundError{Kind: "connector account", Key: accountID.String()}
	}

	s.logger.Printf("Destroyed tokens for account %s", accountID)
	return nil
}

// GetHealth fetches the health row for an account.
func (s *PostgresStore) GetHealth(ctx context.Context, accountID uuid.UUID) (*base.ConnectorHealth, error) {
	var health base.ConnectorHealth
	var category, msg sql.NullString
	var httpStatus sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, health_status, breaker_state, consecutive_failure_count,
			last_error_category, last_error_msg, last_http_status, last_rate_limit_reset_at,
			last_checked_at, reauth_required
		FROM connector_health
		WHERE account_id = $1`,
		accountID,
	).Scan(
		&health.AccountID, &health.Status, &health.BreakerState, &health.ConsecutiveFailures,
		&category, &msg, &httpStatus, &health.LastRateLimitResetAt,
		&health.LastCheckedAt, &health.ReauthRequired,
	)
	if err == sql.ErrNoRows {
		return nil, &base.NotFoundError{Kind: "connector health", Key: accountID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health: %w", err)
	}

	health.LastErrorCategory = base.ErrorCategory(category.String)
	health.LastErrorMsg = msg.String
	health.LastHTTPStatus = int(httpStatus.Int64)
	return &health, nil
}

// SaveHealth upserts the health row for an account.
func (s *PostgresStore) SaveHealth(ctx context.Context, health *base.ConnectorHealth) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_health (account_id, health_status, breaker_state, consecutive_failure_count,
			last_error_category, last_error_msg, last_http_status, last_rate_limit_reset_at,
			last_checked_at, reauth_required)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id) DO UPDATE SET
			health_status = EXCLUDED.health_status,
			breaker_state = EXCLUDED.breaker_state,
			consecutive_failure_count = EXCLUDED.consecutive_failure_count,
			last_error_category = EXCLUDED.last_error_category,
			last_error_msg = EXCLUDED.last_error_msg,
			last_http_status = EXCLUDED.last_http_status,
			last_rate_limit_reset_at = EXCLUDED.last_rate_limit_reset_at,
			last_checked_at = EXCLUDED.last_checked_at,
			reauth_required = EXCLUDED.reauth_required`,
		health.AccountID, health.Status, health.BreakerState, health.ConsecutiveFailures,
		nullString(string(health.LastErrorCategory)), nullString(health.LastErrorMsg),
		nullInt(health.LastHTTPStatus), health.LastRateLimitResetAt,
		health.LastCheckedAt, health.ReauthRequired,
	)
	if err != nil {
		return fmt.Errorf("failed to save health: %w", err)
	}
	return nil
}

// AppendAttempt writes one attempt row. Attempt rows are never updated.
func (s *PostgresStore) AppendAttempt(ctx context.Context, attempt *base.PublishAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publish_attempts (id, account_id, org_id, operation, outcome, error_category, external_id, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		attempt.ID, attempt.AccountID, attempt.OrgID, attempt.Operation, attempt.Outcome,
		nullString(string(attempt.ErrorCategory)), nullString(attempt.ExternalID), attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

// ListAttempts returns recent attempts for an account, newest first.
func (s *PostgresStore) ListAttempts(ctx context.Context, orgID, accountID uuid.UUID, limit int) ([]*base.PublishAttempt, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, org_id, operation, outcome, error_category, external_id, attempted_at
		FROM publish_attempts
		WHERE account_id = $1 AND org_id = $2
		ORDER BY attempted_at DESC
		LIMIT $3`,
		accountID, orgID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []*base.PublishAttempt
	for rows.Next() {
		var attempt base.PublishAttempt
		var category, externalID sql.NullString
		err := rows.Scan(
			&attempt.ID, &attempt.AccountID, &attempt.OrgID, &attempt.Operation,
			&attempt.Outcome, &category, &externalID, &attempt.AttemptedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		attempt.ErrorCategory = base.ErrorCategory(category.String)
		attempt.ExternalID = externalID.String
		attempts = append(attempts, &attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return attempts, nil
}

// AppendAudit writes one audit trail entry.
func (s *PostgresStore) AppendAudit(ctx context.Context, record *AuditRecord) error {
	detailsJSON, err := json.Marshal(record.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connector_audit (id, org_id, action, account_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.OrgID, record.Action, nullUUID(record.AccountID), detailsJSON, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// AppendEvent writes one domain event.
func (s *PostgresStore) AppendEvent(ctx context.Context, record *EventRecord) error {
	payloadJSON, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connector_events (id, org_id, type, account_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.OrgID, record.Type, nullUUID(record.AccountID), payloadJSON, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetOrgSettings returns the org's stored settings or the defaults.
func (s *PostgresStore) GetOrgSettings(ctx context.Context, orgID uuid.UUID) (*base.OrgSettings, error) {
	var mode string
	var flagsJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT connector_mode, provider_flags
		FROM org_connector_settings
		WHERE org_id = $1`,
		orgID,
	).Scan(&mode, &flagsJSON)
	if err == sql.ErrNoRows {
		return base.DefaultOrgSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get org settings: %w", err)
	}

	var flags map[string]bool
	if err := json.Unmarshal(flagsJSON, &flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provider flags: %w", err)
	}

	return &base.OrgSettings{ConnectorMode: base.Mode(mode), ProviderFlags: flags}, nil
}

// SaveOrgSettings upserts the org's settings.
func (s *PostgresStore) SaveOrgSettings(ctx context.Context, orgID uuid.UUID, settings *base.OrgSettings) error {
	flagsJSON, err := json.Marshal(settings.ProviderFlags)
	if err != nil {
		return fmt.Errorf("failed to marshal provider flags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO org_connector_settings (org_id, connector_mode, provider_flags, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (org_id) DO UPDATE SET
			connector_mode = EXCLUDED.connector_mode,
			provider_flags = EXCLUDED.provider_flags,
			updated_at = NOW()`,
		orgID, settings.ConnectorMode, flagsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save org settings: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

var _ Store = (*PostgresStore)(nil)
