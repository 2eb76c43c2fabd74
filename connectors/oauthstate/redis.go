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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"omniflow/platform/connectors/base"
)

const keyPrefix = "oauth:state:"

// consumeScript reads and deletes a state key in one round trip so a
// replayed token cannot win a race against the first consumer.
var consumeScript = redis.NewScript(`
local value = redis.call("GET", KEYS[1])
if value then
	redis.call("DEL", KEYS[1])
end
return value
`)

// RedisStore keeps state tokens in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL overrides DefaultTTL when positive.
	TTL    time.Duration
	Logger *log.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[OAUTH_STATE] ", log.LstdFlags)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping Redis: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	logger.Printf("Connected to Redis at %s (db=%d, state_ttl=%v)", opts.Addr, opts.DB, ttl)

	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client; used in tests.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: log.New(os.Stdout, "[OAUTH_STATE] ", log.LstdFlags),
	}
}

// Issue writes the state under a fresh token. SET NX guards against
// the vanishingly unlikely token collision.
func (s *RedisStore) Issue(ctx context.Context, state *State) (string, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		token, err := newToken()
		if err != nil {
			return "", err
		}

		ok, err := s.client.SetNX(ctx, keyPrefix+token, payload, s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("store state: %w", err)
		}
		if ok {
			return token, nil
		}
	}

	return "", fmt.Errorf("store state: token collision")
}

// Consume atomically fetches and deletes the state for token. Expired,
// unknown, and already-consumed tokens all return *base.NotFoundError.
func (s *RedisStore) Consume(ctx context.Context, token string) (*State, error) {
	result, err := consumeScript.Run(ctx, s.client, []string{keyPrefix + token}).Result()
	if err == redis.Nil {
		return nil, &base.NotFoundError{Kind: "oauth state", Key: token}
	}
	if err != nil {
		return nil, fmt.Errorf("consume state: %w", err)
	}

	raw, ok := result.(string)
	if !ok {
		return nil, &base.NotFoundError{Kind: "oauth state", Key: token}
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}

	return &state, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
