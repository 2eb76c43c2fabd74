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

// Package config loads the connector service configuration.
//
// Configuration is environment-first: every setting has an environment
// variable, and CONNECTORS_CONFIG_FILE may point at a YAML file that
// supplies defaults which the environment then overrides. Values in the
// YAML file support ${VAR} substitution from the environment, so
// secrets can stay out of the file.
//
// The service defaults to mock mode. Live mode must be switched on
// explicitly via CONNECTOR_MODE=live.
package config
