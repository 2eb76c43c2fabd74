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

// Package providers holds the per-provider adapters that talk to
// Google Business Profile, Meta, and LinkedIn, plus a mock adapter
// used whenever an account's effective mode is mock. Adapters never
// see encrypted tokens and never touch storage or breakers; they take
// a decrypted access token and return a classified result.
package providers

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"omniflow/platform/connectors/base"
)

// Result is the provider-side outcome of a successful publish.
type Result struct {
	// ExternalID is the provider's id for the created post.
	ExternalID string
	// Status is the provider's lifecycle hint, e.g. "queued" or "live".
	Status string
}

// Adapter is one provider integration. Publish and Healthcheck return
// *base.ProviderError (possibly wrapped) on provider-side failures so
// callers can classify without sniffing HTTP details.
type Adapter interface {
	Provider() base.Provider
	Publish(ctx context.Context, account *base.ConnectorAccount, accessToken string, payload *base.PublishPayload) (*Result, error)
	Healthcheck(ctx context.Context, account *base.ConnectorAccount, accessToken string) error
}

// ValidatePayload rejects payloads no provider would accept, before
// any network call is made.
func ValidatePayload(payload *base.PublishPayload) error {
	if payload == nil {
		return base.NewProviderError(base.CategoryValidation, "payload required")
	}
	if payload.Text == "" {
		return base.NewProviderError(base.CategoryValidation, "text must not be empty")
	}
	return nil
}

// Registry maps providers to adapters. Thread-safe for concurrent
// access.
type Registry struct {
	adapters map[base.Provider]Adapter
	mu       sync.RWMutex
	logger   *log.Logger
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[base.Provider]Adapter),
		logger:   log.New(os.Stdout, "[PROVIDERS] ", log.LstdFlags),
	}
}

// Register adds an adapter, replacing any previous one for the same
// provider.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Provider()] = adapter
	r.logger.Printf("Registered adapter: %s", adapter.Provider())
}

// Get returns the adapter for provider.
func (r *Registry) Get(provider base.Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", provider)
	}
	return adapter, nil
}

// List returns the registered providers.
func (r *Registry) List() []base.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]base.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		providers = append(providers, p)
	}
	return providers
}
