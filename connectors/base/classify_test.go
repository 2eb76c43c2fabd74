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

package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		providerCode string
		expected     ErrorCategory
	}{
		{"401 unauthorized", 401, "", CategoryAuth},
		{"403 forbidden", 403, "", CategoryAuth},
		{"scope error code overrides status", 400, "insufficient_scope", CategoryAuth},
		{"expired token code", 200, "ACCESS_TOKEN_EXPIRED", CategoryAuth},
		{"429 throttled", 429, "", CategoryRateLimit},
		{"provider throttle code", 400, "rate_limit_exceeded", CategoryRateLimit},
		{"400 bad request", 400, "", CategoryValidation},
		{"422 unprocessable", 422, "", CategoryValidation},
		{"500 server error", 500, "", CategoryNetwork},
		{"503 unavailable", 503, "", CategoryNetwork},
		{"unexpected 3xx", 302, "", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := ClassifyHTTP(tt.status, tt.providerCode, "boom", "")
			if pe.Category != tt.expected {
				t.Errorf("expected category %s, got %s", tt.expected, pe.Category)
			}
			if pe.HTTPStatus != tt.status {
				t.Errorf("expected http status %d, got %d", tt.status, pe.HTTPStatus)
			}
		})
	}
}

func TestClassifyHTTPRateLimitResetHint(t *testing.T) {
	pe := ClassifyHTTP(429, "", "slow down", "120")
	if pe.Category != CategoryRateLimit {
		t.Fatalf("expected rate_limit, got %s", pe.Category)
	}
	if pe.ResetAt == nil {
		t.Fatal("expected a reset-at hint from Retry-After")
	}
	until := time.Until(*pe.ResetAt)
	if until < 110*time.Second || until > 130*time.Second {
		t.Errorf("reset-at hint should be ~120s out, got %v", until)
	}

	// HTTP-date form
	date := time.Now().Add(5 * time.Minute).UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	pe = ClassifyHTTP(429, "", "slow down", date)
	if pe.ResetAt == nil {
		t.Error("expected a reset-at hint from an HTTP date")
	}

	// Garbage is ignored, not an error
	pe = ClassifyHTTP(429, "", "slow down", "whenever")
	if pe.ResetAt != nil {
		t.Error("unparseable Retry-After should yield no hint")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: operation timed out" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransportErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{"context deadline", context.DeadlineExceeded, CategoryNetwork},
		{"net timeout", timeoutErr{}, CategoryNetwork},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.example.com"}, CategoryNetwork},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, CategoryNetwork},
		{"reset by message", fmt.Errorf("read: connection reset by peer"), CategoryNetwork},
		{"unrecognized", errors.New("something odd happened"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify(tt.err)
			if pe.Category != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, pe.Category)
			}
		})
	}
}

func TestClassifyPassthrough(t *testing.T) {
	orig := &ProviderError{Category: CategoryValidation, Message: "text required"}
	wrapped := fmt.Errorf("publish failed: %w", orig)

	pe := Classify(wrapped)
	if pe != orig {
		t.Error("already-classified errors should pass through unchanged")
	}
}

func TestCountsTowardBreaker(t *testing.T) {
	tests := []struct {
		category         ErrorCategory
		includeRateLimit bool
		expected         bool
	}{
		{CategoryNetwork, false, true},
		{CategoryUnknown, false, true},
		{CategoryRateLimit, true, true},
		{CategoryRateLimit, false, false},
		{CategoryAuth, true, false},
		{CategoryValidation, true, false},
	}

	for _, tt := range tests {
		if got := CountsTowardBreaker(tt.category, tt.includeRateLimit); got != tt.expected {
			t.Errorf("CountsTowardBreaker(%s, %v) = %v, expected %v", tt.category, tt.includeRateLimit, got, tt.expected)
		}
	}
}
