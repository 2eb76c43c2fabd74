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

// Package breaker tracks per-account circuit breakers for live provider
// calls. A breaker opens after consecutive qualifying failures, cools
// down with exponential backoff, and admits a single trial call in
// half-open before closing again.
package breaker

import (
	"sync"
	"time"

	"omniflow/platform/connectors/base"
)

// Settings tunes breaker behavior. The zero value is not usable; call
// DefaultSettings.
type Settings struct {
	// FailureThreshold is the consecutive qualifying failures that
	// open the breaker.
	FailureThreshold int
	// Cooldown is the initial open interval.
	Cooldown time.Duration
	// MaxCooldown caps the exponential backoff.
	MaxCooldown time.Duration
	// CountRateLimit includes rate_limit errors in the failure count.
	CountRateLimit bool
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		Cooldown:         5 * time.Minute,
		MaxCooldown:      time.Hour,
		CountRateLimit:   true,
	}
}

// Decision is the admission verdict for one call attempt.
type Decision int

const (
	// Allow admits the call normally (breaker closed).
	Allow Decision = iota
	// AllowTrial admits the single half-open probe. The caller must
	// report the outcome via RecordSuccess or RecordFailure.
	AllowTrial
	// Blocked rejects the call (breaker open or trial in flight).
	Blocked
)

// Snapshot is a point-in-time view of one account's breaker.
type Snapshot struct {
	State               base.BreakerState
	ConsecutiveFailures int
	OpenedAt            time.Time
	RetryAt             time.Time
	// CurrentCooldown is the open interval in force, after doubling.
	CurrentCooldown time.Duration
}

type account struct {
	mu       sync.Mutex
	state    base.BreakerState
	failures int
	openedAt time.Time
	retryAt  time.Time
	cooldown time.Duration
	// trialInFlight is true while the half-open probe is out.
	trialInFlight bool
}

// Registry holds breakers keyed by account id. Locks are per account
// and never held across provider I/O.
type Registry struct {
	mu       sync.Mutex
	accounts map[string]*account
	settings Settings
	now      func() time.Time

	// OnTransition, when set, is called on every state change with the
	// account id, previous state, and new state. It runs under the
	// account lock, so it must not call back into the Registry.
	OnTransition func(accountID string, from, to base.BreakerState)
}

// NewRegistry builds a Registry with the given settings.
func NewRegistry(settings Settings) *Registry {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 5 * time.Minute
	}
	if settings.MaxCooldown <= 0 {
		settings.MaxCooldown = time.Hour
	}
	return &Registry{
		accounts: make(map[string]*account),
		settings: settings,
		now:      time.Now,
	}
}

func (r *Registry) get(accountID string) *account {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		a = &account{
			state:    base.BreakerClosed,
			cooldown: r.settings.Cooldown,
		}
		r.accounts[accountID] = a
	}
	return a
}

// Acquire decides whether a live call for accountID may proceed. When
// it returns Blocked, retryAt is when the next attempt becomes
// eligible.
func (r *Registry) Acquire(accountID string) (Decision, time.Time) {
	a := r.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case base.BreakerClosed:
		return Allow, time.Time{}

	case base.BreakerOpen:
		now := r.now()
		if now.Before(a.retryAt) {
			return Blocked, a.retryAt
		}
		// Cooldown elapsed: move to half-open and hand out the probe.
		a.state = base.BreakerHalfOpen
		a.trialInFlight = true
		r.notify(accountID, base.BreakerOpen, base.BreakerHalfOpen)
		return AllowTrial, time.Time{}

	case base.BreakerHalfOpen:
		if a.trialInFlight {
			return Blocked, a.retryAt
		}
		a.trialInFlight = true
		return AllowTrial, time.Time{}
	}

	return Blocked, a.retryAt
}

// RecordSuccess reports a successful call. In half-open this closes
// the breaker and resets the cooldown to its initial value.
func (r *Registry) RecordSuccess(accountID string) {
	a := r.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	from := a.state
	a.failures = 0
	a.trialInFlight = false
	a.state = base.BreakerClosed
	a.cooldown = r.settings.Cooldown
	a.openedAt = time.Time{}
	a.retryAt = time.Time{}

	if from != base.BreakerClosed {
		r.notify(accountID, from, base.BreakerClosed)
	}
}

// RecordFailure reports a failed call classified as category. Failures
// that do not qualify (auth, validation, and rate_limit when excluded)
// never trip the breaker; in half-open they release the probe slot
// without reopening.
func (r *Registry) RecordFailure(accountID string, category base.ErrorCategory) {
	a := r.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	qualifies := base.CountsTowardBreaker(category, r.settings.CountRateLimit)

	switch a.state {
	case base.BreakerClosed:
		if !qualifies {
			return
		}
		a.failures++
		if a.failures >= r.settings.FailureThreshold {
			r.open(accountID, a, base.BreakerClosed)
		}

	case base.BreakerHalfOpen:
		a.trialInFlight = false
		if !qualifies {
			// The probe reached the provider; the account's own
			// problem (auth, validation) says nothing about the
			// transport, so stay half-open for the next attempt.
			return
		}
		// Failed probe: reopen with a doubled cooldown.
		a.cooldown *= 2
		if a.cooldown > r.settings.MaxCooldown {
			a.cooldown = r.settings.MaxCooldown
		}
		r.open(accountID, a, base.BreakerHalfOpen)

	case base.BreakerOpen:
		// Late result from a call admitted before opening; ignore.
	}
}

// open transitions a (locked) account to open. Caller holds a.mu.
func (r *Registry) open(accountID string, a *account, from base.BreakerState) {
	now := r.now()
	a.state = base.BreakerOpen
	a.openedAt = now
	a.retryAt = now.Add(a.cooldown)
	a.trialInFlight = false
	r.notify(accountID, from, base.BreakerOpen)
}

// Reset forces the breaker closed and clears the failure count.
func (r *Registry) Reset(accountID string) {
	a := r.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	from := a.state
	a.state = base.BreakerClosed
	a.failures = 0
	a.trialInFlight = false
	a.cooldown = r.settings.Cooldown
	a.openedAt = time.Time{}
	a.retryAt = time.Time{}

	if from != base.BreakerClosed {
		r.notify(accountID, from, base.BreakerClosed)
	}
}

// Snapshot returns the current view of one account's breaker.
func (r *Registry) Snapshot(accountID string) Snapshot {
	a := r.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	return Snapshot{
		State:               a.state,
		ConsecutiveFailures: a.failures,
		OpenedAt:            a.openedAt,
		RetryAt:             a.retryAt,
		CurrentCooldown:     a.cooldown,
	}
}

func (r *Registry) notify(accountID string, from, to base.BreakerState) {
	if r.OnTransition != nil {
		r.OnTransition(accountID, from, to)
	}
}
