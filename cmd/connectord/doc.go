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

/*
Command connectord runs the OmniFlow connector service.

The connector service is the integration layer between OmniFlow and
external publishing providers. It owns the OAuth account-linking flows,
the encrypted credential vault, mock/live mode resolution, and the
per-account circuit breakers that protect tenants from flaky provider
APIs.

# Usage

	connectord

# Environment Variables

Required in live mode:
  - DATABASE_URL: PostgreSQL connection string
  - REDIS_URL: Redis connection string for OAuth state
  - OAUTH_REDIRECT_ALLOW_LIST: comma-separated redirect URIs
  - <PROVIDER>_CLIENT_ID / <PROVIDER>_CLIENT_SECRET: OAuth app
    credentials per provider (GBP, META, LINKEDIN)

Optional:
  - PORT: HTTP server port (default: 8084)
  - CONNECTOR_MODE: mock or live (default: mock)
  - CONNECTORS_CONFIG_FILE: YAML config file path
  - TOKEN_ENCRYPTION_KEY: hex-encoded 32-byte AES key
  - TOKEN_KEY_SECRET_ARN: AWS Secrets Manager ARN holding the key
  - BREAKER_FAILURE_THRESHOLD, BREAKER_COOLDOWN, BREAKER_MAX_COOLDOWN
  - RETRY_MAX_ATTEMPTS, RETRY_INITIAL_INTERVAL, RETRY_MAX_INTERVAL

# Endpoints

  - GET /health - service health
  - GET /prometheus - Prometheus metrics
  - /api/v1/connectors/... - connector API (X-Org-ID scoped)
*/
package main
