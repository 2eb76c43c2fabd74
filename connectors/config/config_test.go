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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"omniflow/platform/connectors/base"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONNECTORS_CONFIG_FILE", "")
	t.Setenv("CONNECTOR_MODE", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Mode != base.ModeMock {
		t.Errorf("default mode = %q, want mock", cfg.Mode)
	}
	if cfg.Port != 8084 {
		t.Errorf("default port = %d, want 8084", cfg.Port)
	}
	if cfg.StateTTL != 10*time.Minute {
		t.Errorf("default state TTL = %v, want 10m", cfg.StateTTL)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("default failure threshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("default retry attempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONNECTORS_CONFIG_FILE", "")
	t.Setenv("PORT", "9090")
	t.Setenv("CONNECTOR_MODE", "mock")
	t.Setenv("OAUTH_REDIRECT_ALLOW_LIST", "https://a.example.com/cb, https://b.example.com/cb")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "3")
	t.Setenv("BREAKER_COOLDOWN", "1m")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("GBP_CLIENT_ID", "gbp-id")
	t.Setenv("GBP_CLIENT_SECRET", "gbp-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if len(cfg.RedirectAllowList) != 2 || cfg.RedirectAllowList[1] != "https://b.example.com/cb" {
		t.Errorf("allow list = %v", cfg.RedirectAllowList)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("failure threshold = %d, want 3", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Cooldown != time.Minute {
		t.Errorf("cooldown = %v, want 1m", cfg.Breaker.Cooldown)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("retry attempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	app, ok := cfg.OAuthApps[base.ProviderGBP]
	if !ok || app.ClientID != "gbp-id" || app.ClientSecret != "gbp-secret" {
		t.Errorf("gbp app = %+v", app)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "not-a-port"},
		{"bad mode", "CONNECTOR_MODE", "dry-run"},
		{"bad cooldown", "BREAKER_COOLDOWN", "five minutes"},
		{"zero threshold", "BREAKER_FAILURE_THRESHOLD", "0"},
		{"bad rate limit flag", "BREAKER_COUNT_RATE_LIMITED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONNECTORS_CONFIG_FILE", "")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			var cfgErr *base.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Load() error = %v, want *base.ConfigError", err)
			}
		})
	}
}

func TestLoadLiveModeRequiresInfra(t *testing.T) {
	t.Setenv("CONNECTORS_CONFIG_FILE", "")
	t.Setenv("CONNECTOR_MODE", "live")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	var cfgErr *base.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *base.ConfigError", err)
	}
	if cfgErr.Field != "DATABASE_URL" {
		t.Errorf("failing field = %q, want DATABASE_URL", cfgErr.Field)
	}
}

func TestLoadLiveModeRequiresCompleteOAuthApps(t *testing.T) {
	t.Setenv("CONNECTORS_CONFIG_FILE", "")
	t.Setenv("CONNECTOR_MODE", "live")
	t.Setenv("DATABASE_URL", "postgres://localhost/connectors")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("OAUTH_REDIRECT_ALLOW_LIST", "https://app.example.com/cb")
	t.Setenv("META_CLIENT_ID", "meta-id")
	// Secret deliberately missing.
	t.Setenv("META_CLIENT_SECRET", "")

	_, err := Load()
	var cfgErr *base.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *base.ConfigError", err)
	}
}

func TestLoadYAMLFileWithEnvSubstitution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connectors.yaml")
	content := `
server:
  port: 9191
connector_mode: mock
oauth:
  redirect_allow_list:
    - https://app.example.com/oauth/callback
  state_ttl: 5m
  providers:
    linkedin:
      client_id: li-id
      client_secret: ${LI_SECRET}
breaker:
  failure_threshold: 7
  count_rate_limited: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONNECTORS_CONFIG_FILE", path)
	t.Setenv("LI_SECRET", "li-secret-from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Port)
	}
	if cfg.StateTTL != 5*time.Minute {
		t.Errorf("state TTL = %v, want 5m", cfg.StateTTL)
	}
	if cfg.Breaker.FailureThreshold != 7 {
		t.Errorf("failure threshold = %d, want 7", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.CountRateLimit {
		t.Error("count_rate_limited: false not honored")
	}
	app := cfg.OAuthApps[base.ProviderLinkedIn]
	if app.ClientSecret != "li-secret-from-env" {
		t.Errorf("client secret = %q, want env-substituted value", app.ClientSecret)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connectors.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONNECTORS_CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("port = %d, want 7070 (environment must beat file)", cfg.Port)
	}
}
