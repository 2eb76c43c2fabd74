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

package oauthstate

import (
	"context"
	"sync"
	"time"

	"omniflow/platform/connectors/base"
)

type memoryEntry struct {
	state     *State
	expiresAt time.Time
}

// MemoryStore is a process-local Store for single-node and mock-mode
// deployments. Multi-node deployments need the Redis store so the
// callback can land on any node.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore builds a MemoryStore. A non-positive ttl falls back
// to DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Issue(ctx context.Context, state *State) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.entries[token] = memoryEntry{state: state, expiresAt: s.now().Add(s.ttl)}
	return token, nil
}

func (s *MemoryStore) Consume(ctx context.Context, token string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	if !ok || s.now().After(entry.expiresAt) {
		return nil, &base.NotFoundError{Kind: "oauth state", Key: token}
	}
	return entry.state, nil
}

// sweep drops expired entries. Called with the lock held.
func (s *MemoryStore) sweep() {
	now := s.now()
	for token, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, token)
		}
	}
}
