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

package breaker

import (
	"sync"
	"testing"
	"time"

	"omniflow/platform/connectors/base"
)

func newTestRegistry(settings Settings) (*Registry, *time.Time) {
	r := NewRegistry(settings)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func failN(r *Registry, accountID string, n int, category base.ErrorCategory) {
	for i := 0; i < n; i++ {
		r.RecordFailure(accountID, category)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	r, _ := newTestRegistry(DefaultSettings())

	failN(r, "acct", 4, base.CategoryNetwork)
	if snap := r.Snapshot("acct"); snap.State != base.BreakerClosed {
		t.Fatalf("breaker should stay closed below the threshold, got %s", snap.State)
	}

	r.RecordFailure("acct", base.CategoryNetwork)
	snap := r.Snapshot("acct")
	if snap.State != base.BreakerOpen {
		t.Fatalf("breaker should open at the threshold, got %s", snap.State)
	}
	if snap.RetryAt.Sub(snap.OpenedAt) != 5*time.Minute {
		t.Errorf("initial cooldown should be 5m, got %v", snap.RetryAt.Sub(snap.OpenedAt))
	}

	decision, retryAt := r.Acquire("acct")
	if decision != Blocked {
		t.Errorf("open breaker should block, got %v", decision)
	}
	if retryAt.IsZero() {
		t.Error("blocked decision should carry a retry-at time")
	}
}

func TestNonQualifyingFailuresDoNotTrip(t *testing.T) {
	r, _ := newTestRegistry(DefaultSettings())

	failN(r, "acct", 20, base.CategoryAuth)
	failN(r, "acct", 20, base.CategoryValidation)

	if snap := r.Snapshot("acct"); snap.State != base.BreakerClosed || snap.ConsecutiveFailures != 0 {
		t.Errorf("auth/validation must not count, got %+v", snap)
	}
}

func TestRateLimitCountsOnlyWhenConfigured(t *testing.T) {
	settings := DefaultSettings()
	settings.CountRateLimit = false
	r, _ := newTestRegistry(settings)

	failN(r, "acct", 10, base.CategoryRateLimit)
	if snap := r.Snapshot("acct"); snap.State != base.BreakerClosed {
		t.Errorf("rate_limit should not count when excluded, got %s", snap.State)
	}

	r2, _ := newTestRegistry(DefaultSettings())
	failN(r2, "acct", 5, base.CategoryRateLimit)
	if snap := r2.Snapshot("acct"); snap.State != base.BreakerOpen {
		t.Errorf("rate_limit should count by default, got %s", snap.State)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	r, _ := newTestRegistry(DefaultSettings())

	failN(r, "acct", 4, base.CategoryNetwork)
	r.RecordSuccess("acct")
	failN(r, "acct", 4, base.CategoryNetwork)

	if snap := r.Snapshot("acct"); snap.State != base.BreakerClosed {
		t.Errorf("success should zero the streak, got %s", snap.State)
	}
}

func TestHalfOpenSingleTrial(t *testing.T) {
	r, now := newTestRegistry(DefaultSettings())

	failN(r, "acct", 5, base.CategoryNetwork)
	*now = now.Add(6 * time.Minute)

	decision, _ := r.Acquire("acct")
	if decision != AllowTrial {
		t.Fatalf("first acquire after cooldown should be the trial, got %v", decision)
	}
	if snap := r.Snapshot("acct"); snap.State != base.BreakerHalfOpen {
		t.Fatalf("breaker should be half-open, got %s", snap.State)
	}

	// While the trial is out, everyone else is blocked.
	if d, _ := r.Acquire("acct"); d != Blocked {
		t.Errorf("second acquire during trial should block, got %v", d)
	}
}

func TestHalfOpenConcurrentAcquire(t *testing.T) {
	r, now := newTestRegistry(DefaultSettings())
	failN(r, "acct", 5, base.CategoryNetwork)
	*now = now.Add(6 * time.Minute)

	const racers = 20
	var wg sync.WaitGroup
	decisions := make(chan Decision, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := r.Acquire("acct")
			decisions <- d
		}()
	}
	wg.Wait()
	close(decisions)

	trials := 0
	for d := range decisions {
		if d == AllowTrial {
			trials++
		}
	}
	if trials != 1 {
		t.Errorf("exactly one racer should win the trial slot, got %d", trials)
	}
}

func TestTrialSuccessCloses(t *testing.T) {
	r, now := newTestRegistry(DefaultSettings())
	failN(r, "acct", 5, base.CategoryNetwork)
	*now = now.Add(6 * time.Minute)

	if d, _ := r.Acquire("acct"); d != AllowTrial {
		t.Fatal("expected trial")
	}
	r.RecordSuccess("acct")

	snap := r.Snapshot("acct")
	if snap.State != base.BreakerClosed {
		t.Errorf("successful trial should close, got %s", snap.State)
	}
	if snap.CurrentCooldown != 5*time.Minute {
		t.Errorf("closing should reset the cooldown, got %v", snap.CurrentCooldown)
	}
	if d, _ := r.Acquire("acct"); d != Allow {
		t.Errorf("closed breaker should allow, got %v", d)
	}
}

func TestTrialFailureDoublesCooldown(t *testing.T) {
	r, now := newTestRegistry(DefaultSettings())
	failN(r, "acct", 5, base.CategoryNetwork)

	expected := []time.Duration{10 * time.Minute, 20 * time.Minute, 40 * time.Minute, time.Hour, time.Hour}
	for _, want := range expected {
		snap := r.Snapshot("acct")
		*now = snap.RetryAt.Add(time.Second)

		if d, _ := r.Acquire("acct"); d != AllowTrial {
			t.Fatal("expected trial")
		}
		r.RecordFailure("acct", base.CategoryNetwork)

		snap = r.Snapshot("acct")
		if snap.State != base.BreakerOpen {
			t.Fatalf("failed trial should reopen, got %s", snap.State)
		}
		if snap.CurrentCooldown != want {
			t.Errorf("cooldown should be %v (doubling, capped at 1h), got %v", want, snap.CurrentCooldown)
		}
	}
}

func TestTrialNonQualifyingFailureStaysHalfOpen(t *testing.T) {
	r, now := newTestRegistry(DefaultSettings())
	failN(r, "acct", 5, base.CategoryNetwork)
	*now = now.Add(6 * time.Minute)

	if d, _ := r.Acquire("acct"); d != AllowTrial {
		t.Fatal("expected trial")
	}
	// The probe reached the provider but the account has an auth
	// problem; the transport is fine.
	r.RecordFailure("acct", base.CategoryAuth)

	snap := r.Snapshot("acct")
	if snap.State != base.BreakerHalfOpen {
		t.Fatalf("auth failure during trial should stay half-open, got %s", snap.State)
	}

	// The slot is free again for the next attempt.
	if d, _ := r.Acquire("acct"); d != AllowTrial {
		t.Errorf("next acquire should get the trial slot, got %v", d)
	}
}

func TestResetClosesAndClears(t *testing.T) {
	r, _ := newTestRegistry(DefaultSettings())
	failN(r, "acct", 5, base.CategoryNetwork)

	r.Reset("acct")

	snap := r.Snapshot("acct")
	if snap.State != base.BreakerClosed || snap.ConsecutiveFailures != 0 {
		t.Errorf("reset should close and clear, got %+v", snap)
	}
	if snap.CurrentCooldown != 5*time.Minute {
		t.Errorf("reset should restore the initial cooldown, got %v", snap.CurrentCooldown)
	}
	if d, _ := r.Acquire("acct"); d != Allow {
		t.Errorf("reset breaker should allow, got %v", d)
	}
}

func TestAccountsAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(DefaultSettings())

	failN(r, "acct-a", 5, base.CategoryNetwork)

	if d, _ := r.Acquire("acct-b"); d != Allow {
		t.Errorf("other accounts must be unaffected, got %v", d)
	}
}

func TestOnTransitionFires(t *testing.T) {
	r, now := newTestRegistry(DefaultSettings())

	type transition struct{ from, to base.BreakerState }
	var seen []transition
	r.OnTransition = func(accountID string, from, to base.BreakerState) {
		seen = append(seen, transition{from, to})
	}

	failN(r, "acct", 5, base.CategoryNetwork)
	*now = now.Add(6 * time.Minute)
	r.Acquire("acct")
	r.RecordSuccess("acct")

	want := []transition{
		{base.BreakerClosed, base.BreakerOpen},
		{base.BreakerOpen, base.BreakerHalfOpen},
		{base.BreakerHalfOpen, base.BreakerClosed},
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %+v", len(want), len(seen), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: got %+v, want %+v", i, seen[i], want[i])
		}
	}
}
