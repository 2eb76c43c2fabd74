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

// Package main is the entry point for the OmniFlow connector service.
//
// The connector service brokers OAuth links to external publishing
// providers (Google Business Profile, Meta, LinkedIn), stores tokens
// encrypted at rest, and fronts every live provider call with
// per-account circuit breaking and classified retries.
//
// Usage:
//
//	./connectord
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8084)
//	CONNECTOR_MODE - mock or live (default: mock)
//	DATABASE_URL - PostgreSQL connection string (required in live mode)
//	REDIS_URL - Redis connection string (required in live mode)
//	TOKEN_ENCRYPTION_KEY - hex-encoded 32-byte AES key
//	TOKEN_KEY_SECRET_ARN - AWS Secrets Manager ARN for the key (optional)
package main

import (
	"omniflow/platform/connectors/api"
)

func main() {
	api.Run()
}
