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
Package base defines the shared types for the OmniFlow connector
integration layer: connector accounts, health records, publish
payloads/results, the error taxonomy, and the failure classifier that
maps raw provider errors onto that taxonomy.

Every other connector package depends on base; base depends on nothing
above the standard library except the uuid package.

# Error Taxonomy

Provider failures are classified into exactly one of five categories:

  - auth: the stored credentials are invalid or lack required scopes
  - rate_limit: the provider is throttling the account
  - validation: the request payload was rejected by the provider
  - network: transport-level failure (timeout, DNS, connection reset)
  - unknown: anything that could not be recognized

Only network, unknown and (configurably) rate_limit failures count
toward the per-account circuit breaker. Auth and validation failures
are caller or configuration errors, not transient infrastructure
failures, and must never trip the breaker.
*/
package base
