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
	"math/rand"
	"time"

	"omniflow/platform/connectors/base"
)

// RetryConfig configures retry behavior for live provider calls.
type RetryConfig struct {
	MaxAttempts     int           // Total attempts including the first
	InitialInterval time.Duration // Initial wait interval
	MaxInterval     time.Duration // Maximum wait interval
	Multiplier      float64       // Backoff multiplier
	Jitter          float64       // Jitter factor (0-1)
}

// DefaultRetryConfig returns the production retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.1,
	}
}

// retryable says whether a classified error is worth another attempt.
// Auth and validation failures are deterministic and never retried.
func retryable(category base.ErrorCategory) bool {
	switch category {
	case base.CategoryNetwork, base.CategoryUnknown, base.CategoryRateLimit:
		return true
	default:
		return false
	}
}

// RetryFunc is one provider call attempt.
type RetryFunc func() (*Result, error)

// WithRetry runs fn with exponential backoff. Errors are classified
// and only transient categories retry; a rate-limit reset hint
// overrides the computed backoff. The last classified error is
// returned when attempts run out.
func WithRetry(ctx context.Context, config *RetryConfig, fn RetryFunc) (*Result, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	interval := config.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, base.Classify(ctx.Err())
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		pe := base.Classify(err)
		lastErr = pe

		if !retryable(pe.Category) || attempt >= config.MaxAttempts {
			return nil, pe
		}

		waitTime := interval
		if pe.ResetAt != nil {
			until := time.Until(*pe.ResetAt)
			if until > config.MaxInterval {
				// Reset is too far out to wait for in-request;
				// surface the rate limit to the caller.
				return nil, pe
			}
			if until > waitTime {
				waitTime = until
			}
		}

		if config.Jitter > 0 {
			jitter := waitTime.Seconds() * config.Jitter * (rand.Float64()*2 - 1)
			waitTime += time.Duration(jitter * float64(time.Second))
		}
		if waitTime > config.MaxInterval {
			waitTime = config.MaxInterval
		}

		select {
		case <-ctx.Done():
			return nil, base.Classify(ctx.Err())
		case <-time.After(waitTime):
		}

		interval = time.Duration(float64(interval) * config.Multiplier)
		if interval > config.MaxInterval {
			interval = config.MaxInterval
		}
	}

	return nil, base.Classify(lastErr)
}
