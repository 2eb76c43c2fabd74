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
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// providerScopeCodes are provider-specific error codes that indicate a
// scope or permission problem regardless of the HTTP status
var providerScopeCodes = map[string]bool{
	"insufficient_scope":   true,
	"invalid_grant":        true,
	"token_expired":        true,
	"permission_denied":    true,
	"ACCESS_TOKEN_EXPIRED": true,
}

// providerRateLimitCodes are provider-specific throttle codes
var providerRateLimitCodes = map[string]bool{
	"rate_limit_exceeded": true,
	"RATE_LIMITED":        true,
	"throttled":           true,
	"quota_exceeded":      true,
}

// ClassifyHTTP maps an HTTP response from a provider onto the error
// taxonomy. retryAfter is the raw Retry-After header value, parsed as
// either delta-seconds or an HTTP date when present.
func ClassifyHTTP(status int, providerCode, message, retryAfter string) *ProviderError {
	pe := &ProviderError{
		HTTPStatus:   status,
		ProviderCode: providerCode,
		Message:      SanitizeErrorMessage(message),
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || providerScopeCodes[providerCode]:
		pe.Category = CategoryAuth
	case status == http.StatusTooManyRequests || providerRateLimitCodes[providerCode]:
		pe.Category = CategoryRateLimit
		pe.ResetAt = parseRetryAfter(retryAfter, time.Now())
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		pe.Category = CategoryValidation
	case status >= 500:
		// Provider-side failure; transient from our point of view
		pe.Category = CategoryNetwork
	default:
		pe.Category = CategoryUnknown
	}

	return pe
}

// Classify maps an arbitrary error from a live provider call onto the
// taxonomy. Already-classified *ProviderError values pass through
// unchanged. Transport failures (timeouts, DNS, connection resets)
// become network; everything unrecognized becomes unknown.
func Classify(err error) *ProviderError {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Category: CategoryNetwork, Message: "provider call timed out", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Category: CategoryNetwork, Message: "provider call timed out", Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ProviderError{Category: CategoryNetwork, Message: "provider host resolution failed", Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ProviderError{Category: CategoryNetwork, Message: "provider connection failed", Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "no such host", "i/o timeout"} {
		if strings.Contains(msg, pattern) {
			return &ProviderError{Category: CategoryNetwork, Message: "provider connection failed", Err: err}
		}
	}

	return &ProviderError{Category: CategoryUnknown, Message: SanitizeErrorMessage(err.Error()), Err: err}
}

// CountsTowardBreaker reports whether a failure of the given category
// qualifies as a breaker failure. Auth and validation are caller or
// configuration problems and never qualify; rate_limit is configurable.
func CountsTowardBreaker(category ErrorCategory, includeRateLimit bool) bool {
	switch category {
	case CategoryNetwork, CategoryUnknown:
		return true
	case CategoryRateLimit:
		return includeRateLimit
	}
	return false
}

// parseRetryAfter handles both forms the header allows: delta-seconds
// and an HTTP date. Returns nil when the value is absent or unparseable.
func parseRetryAfter(value string, now time.Time) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		t := now.Add(time.Duration(secs) * time.Second)
		return &t
	}
	if t, err := http.ParseTime(value); err == nil {
		return &t
	}
	return nil
}
