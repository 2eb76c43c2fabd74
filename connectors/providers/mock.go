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

package providers

import (
	"context"

	"omniflow/platform/connectors/base"
)

// MockAdapter serves publishes for any provider without network calls.
// Results are deterministic so demo environments and tests see stable
// output.
type MockAdapter struct {
	provider base.Provider
}

// NewMockAdapter creates a mock adapter posing as provider.
func NewMockAdapter(provider base.Provider) *MockAdapter {
	return &MockAdapter{provider: provider}
}

// Provider returns the provider this mock stands in for.
func (m *MockAdapter) Provider() base.Provider {
	return m.provider
}

// Publish returns a canned result keyed by the payload channel. The
// payload is still validated so mock mode catches empty posts.
func (m *MockAdapter) Publish(ctx context.Context, account *base.ConnectorAccount, accessToken string, payload *base.PublishPayload) (*Result, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	channel := payload.Channel
	if channel == "" {
		channel = string(m.provider)
	}

	return &Result{
		ExternalID: "mock-" + channel,
		Status:     "queued",
	}, nil
}

// Healthcheck always succeeds in mock mode.
func (m *MockAdapter) Healthcheck(ctx context.Context, account *base.ConnectorAccount, accessToken string) error {
	return nil
}
