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
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"omniflow/platform/connectors/base"
	"omniflow/platform/connectors/breaker"
	"omniflow/platform/connectors/oauth"
	"omniflow/platform/connectors/providers"
)

// Config is the full configuration of the connector service.
type Config struct {
	// Port the HTTP API listens on.
	Port int
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string
	// RedisURL is the Redis connection string for OAuth state.
	RedisURL string

	// Mode is the deployment-level connector mode gate.
	Mode base.Mode
	// LiveTimeout caps one live provider call.
	LiveTimeout time.Duration
	// StateTTL is the OAuth state token lifetime.
	StateTTL time.Duration

	// RedirectAllowList is the exact-match set of permitted OAuth
	// redirect URIs.
	RedirectAllowList []string
	// CORSOrigins are allowed browser origins for the HTTP API.
	CORSOrigins []string

	// TokenKeySecretARN, when set, sources the token encryption key
	// from AWS Secrets Manager instead of TOKEN_ENCRYPTION_KEY.
	TokenKeySecretARN string
	// AWSRegion is used for the Secrets Manager client.
	AWSRegion string
	// RetiredKeys maps old ciphertext versions to their hex keys, for
	// decrypting tokens sealed before a rotation.
	RetiredKeys map[string]string

	// OAuthApps holds per-provider app credentials. Providers without
	// credentials can only be linked in mock mode.
	OAuthApps map[base.Provider]oauth.AppCredentials

	Breaker breaker.Settings
	Retry   providers.RetryConfig
}

// duration lets the YAML file use Go duration strings like "5m".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig is the YAML file shape. Every field is optional; the
// environment wins on conflict.
type fileConfig struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	DatabaseURL   string `yaml:"database_url"`
	RedisURL      string `yaml:"redis_url"`
	ConnectorMode string `yaml:"connector_mode"`
	OAuth         struct {
		RedirectAllowList []string `yaml:"redirect_allow_list"`
		StateTTL          duration `yaml:"state_ttl"`
		Providers         map[string]struct {
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
		} `yaml:"providers"`
	} `yaml:"oauth"`
	Vault struct {
		SecretARN   string            `yaml:"secret_arn"`
		AWSRegion   string            `yaml:"aws_region"`
		RetiredKeys map[string]string `yaml:"retired_keys"`
	} `yaml:"vault"`
	Breaker struct {
		FailureThreshold int      `yaml:"failure_threshold"`
		Cooldown         duration `yaml:"cooldown"`
		MaxCooldown      duration `yaml:"max_cooldown"`
		CountRateLimit   *bool    `yaml:"count_rate_limited"`
	} `yaml:"breaker"`
	Retry struct {
		MaxAttempts     int      `yaml:"max_attempts"`
		InitialInterval duration `yaml:"initial_interval"`
		MaxInterval     duration `yaml:"max_interval"`
	} `yaml:"retry"`
	LiveTimeout duration `yaml:"live_timeout"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load builds the configuration from the optional YAML file named by
// CONNECTORS_CONFIG_FILE plus the environment, validates it, and
// returns it.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONNECTORS_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:        8084,
		Mode:        base.ModeMock,
		LiveTimeout: 30 * time.Second,
		StateTTL:    10 * time.Minute,
		OAuthApps:   make(map[base.Provider]oauth.AppCredentials),
		Breaker:     breaker.DefaultSettings(),
		Retry:       *providers.DefaultRetryConfig(),
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &base.ConfigError{Field: "CONNECTORS_CONFIG_FILE", Message: err.Error()}
	}

	var file fileConfig
	if err := yaml.Unmarshal(expandEnvVars(data), &file); err != nil {
		return &base.ConfigError{Field: "CONNECTORS_CONFIG_FILE", Message: fmt.Sprintf("parse %s: %v", path, err)}
	}

	if file.Server.Port > 0 {
		c.Port = file.Server.Port
	}
	if len(file.Server.CORSOrigins) > 0 {
		c.CORSOrigins = file.Server.CORSOrigins
	}
	if file.DatabaseURL != "" {
		c.DatabaseURL = file.DatabaseURL
	}
	if file.RedisURL != "" {
		c.RedisURL = file.RedisURL
	}
	if file.ConnectorMode != "" {
		c.Mode = base.Mode(file.ConnectorMode)
	}
	if len(file.OAuth.RedirectAllowList) > 0 {
		c.RedirectAllowList = file.OAuth.RedirectAllowList
	}
	if file.OAuth.StateTTL > 0 {
		c.StateTTL = time.Duration(file.OAuth.StateTTL)
	}
	for name, app := range file.OAuth.Providers {
		provider := base.Provider(name)
		if app.ClientID != "" || app.ClientSecret != "" {
			c.OAuthApps[provider] = oauth.AppCredentials{
				ClientID:     app.ClientID,
				ClientSecret: app.ClientSecret,
			}
		}
	}
	if file.Vault.SecretARN != "" {
		c.TokenKeySecretARN = file.Vault.SecretARN
	}
	if file.Vault.AWSRegion != "" {
		c.AWSRegion = file.Vault.AWSRegion
	}
	if len(file.Vault.RetiredKeys) > 0 {
		c.RetiredKeys = file.Vault.RetiredKeys
	}
	if file.Breaker.FailureThreshold > 0 {
		c.Breaker.FailureThreshold = file.Breaker.FailureThreshold
	}
	if file.Breaker.Cooldown > 0 {
		c.Breaker.Cooldown = time.Duration(file.Breaker.Cooldown)
	}
	if file.Breaker.MaxCooldown > 0 {
		c.Breaker.MaxCooldown = time.Duration(file.Breaker.MaxCooldown)
	}
	if file.Breaker.CountRateLimit != nil {
		c.Breaker.CountRateLimit = *file.Breaker.CountRateLimit
	}
	if file.Retry.MaxAttempts > 0 {
		c.Retry.MaxAttempts = file.Retry.MaxAttempts
	}
	if file.Retry.InitialInterval > 0 {
		c.Retry.InitialInterval = time.Duration(file.Retry.InitialInterval)
	}
	if file.Retry.MaxInterval > 0 {
		c.Retry.MaxInterval = time.Duration(file.Retry.MaxInterval)
	}
	if file.LiveTimeout > 0 {
		c.LiveTimeout = time.Duration(file.LiveTimeout)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &base.ConfigError{Field: "PORT", Message: "must be an integer"}
		}
		c.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("CONNECTOR_MODE"); v != "" {
		c.Mode = base.Mode(v)
	}
	if v := os.Getenv("OAUTH_REDIRECT_ALLOW_LIST"); v != "" {
		c.RedirectAllowList = splitList(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("TOKEN_KEY_SECRET_ARN"); v != "" {
		c.TokenKeySecretARN = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWSRegion = v
	}

	for _, provider := range base.SupportedProviders {
		prefix := strings.ToUpper(string(provider))
		id := os.Getenv(prefix + "_CLIENT_ID")
		secret := os.Getenv(prefix + "_CLIENT_SECRET")
		if id != "" || secret != "" {
			c.OAuthApps[provider] = oauth.AppCredentials{ClientID: id, ClientSecret: secret}
		}
	}

	var err error
	if c.LiveTimeout, err = envDuration("LIVE_CALL_TIMEOUT", c.LiveTimeout); err != nil {
		return err
	}
	if c.StateTTL, err = envDuration("OAUTH_STATE_TTL", c.StateTTL); err != nil {
		return err
	}
	if c.Breaker.Cooldown, err = envDuration("BREAKER_COOLDOWN", c.Breaker.Cooldown); err != nil {
		return err
	}
	if c.Breaker.MaxCooldown, err = envDuration("BREAKER_MAX_COOLDOWN", c.Breaker.MaxCooldown); err != nil {
		return err
	}
	if c.Retry.InitialInterval, err = envDuration("RETRY_INITIAL_INTERVAL", c.Retry.InitialInterval); err != nil {
		return err
	}
	if c.Retry.MaxInterval, err = envDuration("RETRY_MAX_INTERVAL", c.Retry.MaxInterval); err != nil {
		return err
	}

	if v := os.Getenv("BREAKER_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return &base.ConfigError{Field: "BREAKER_FAILURE_THRESHOLD", Message: "must be a positive integer"}
		}
		c.Breaker.FailureThreshold = n
	}
	if v := os.Getenv("BREAKER_COUNT_RATE_LIMITED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &base.ConfigError{Field: "BREAKER_COUNT_RATE_LIMITED", Message: "must be a boolean"}
		}
		c.Breaker.CountRateLimit = b
	}
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return &base.ConfigError{Field: "RETRY_MAX_ATTEMPTS", Message: "must be a positive integer"}
		}
		c.Retry.MaxAttempts = n
	}

	return nil
}

func (c *Config) validate() error {
	if c.Mode != base.ModeMock && c.Mode != base.ModeLive {
		return &base.ConfigError{Field: "CONNECTOR_MODE", Message: fmt.Sprintf("unknown mode %q", c.Mode)}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &base.ConfigError{Field: "PORT", Message: "must be between 1 and 65535"}
	}

	// Live mode hard-requires the pieces mock mode can do without.
	if c.Mode == base.ModeLive {
		if c.DatabaseURL == "" {
			return &base.ConfigError{Field: "DATABASE_URL", Message: "required in live mode"}
		}
		if c.RedisURL == "" {
			return &base.ConfigError{Field: "REDIS_URL", Message: "required in live mode"}
		}
		if len(c.RedirectAllowList) == 0 {
			return &base.ConfigError{Field: "OAUTH_REDIRECT_ALLOW_LIST", Message: "required in live mode"}
		}
		if len(c.OAuthApps) == 0 {
			return &base.ConfigError{Field: "OAUTH_APPS", Message: "at least one provider's client credentials required in live mode"}
		}
		for provider, app := range c.OAuthApps {
			if app.ClientID == "" || app.ClientSecret == "" {
				return &base.ConfigError{
					Field:   strings.ToUpper(string(provider)) + "_CLIENT_ID",
					Message: "client id and secret must both be set",
				}
			}
		}
	}

	return nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &base.ConfigError{Field: name, Message: fmt.Sprintf("invalid duration %q", v)}
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
