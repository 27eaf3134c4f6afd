// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import (
	"testing"
	"time"
)

func newTestBreaker() *Breaker {
	return New("llm", Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	})
}

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	b := newTestBreaker()
	now := time.Now()

	for i := 0; i < 4; i++ {
		if !b.Allow(now) {
			t.Fatalf("call %d should be allowed while closed", i)
		}
		b.RecordFailure(now)
		if b.State() != StateClosed {
			t.Fatalf("breaker opened after only %d failures", i+1)
		}
	}

	if !b.Allow(now) {
		t.Fatal("fifth call should still be allowed")
	}
	b.RecordFailure(now)
	if b.State() != StateOpen {
		t.Errorf("state = %s, want OPEN after 5 consecutive failures", b.State())
	}
}

func TestBreaker_OpenShortCircuits(t *testing.T) {
	b := newTestBreaker()
	now := time.Now()
	b.ForceOpen(now)

	if b.Allow(now.Add(time.Second)) {
		t.Error("open breaker must short-circuit before the cooldown")
	}
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	b := newTestBreaker()
	now := time.Now()
	b.ForceOpen(now)

	after := now.Add(31 * time.Second)
	if !b.Allow(after) {
		t.Fatal("cooldown elapsed: probe should be allowed")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", b.State())
	}
	// While the probe is in flight, everyone else is rejected.
	if b.Allow(after) {
		t.Error("second caller must not get a probe slot")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b := newTestBreaker()
	now := time.Now()
	b.ForceOpen(now)

	after := now.Add(31 * time.Second)
	if !b.Allow(after) {
		t.Fatal("probe should be allowed")
	}
	b.RecordSuccess(after)

	if b.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED after probe success", b.State())
	}
	snap := b.Snapshot()
	if snap.Failures != 0 {
		t.Errorf("failures = %d, want counters reset on close", snap.Failures)
	}
}

func TestBreaker_ProbeFailureReopensAndRestartsCooldown(t *testing.T) {
	b := newTestBreaker()
	now := time.Now()
	b.ForceOpen(now)

	probeAt := now.Add(31 * time.Second)
	if !b.Allow(probeAt) {
		t.Fatal("probe should be allowed")
	}
	b.RecordFailure(probeAt)

	if b.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN after probe failure", b.State())
	}
	// Cooldown restarted from the probe failure, not the original trip.
	if b.Allow(now.Add(45 * time.Second)) {
		t.Error("cooldown must restart from the failed probe")
	}
	if !b.Allow(probeAt.Add(31 * time.Second)) {
		t.Error("a new probe should be allowed after the restarted cooldown")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker()
	now := time.Now()

	for i := 0; i < 4; i++ {
		b.Allow(now)
		b.RecordFailure(now)
	}
	b.Allow(now)
	b.RecordSuccess(now)
	// Four more failures must not trip it: the streak was broken.
	for i := 0; i < 4; i++ {
		b.Allow(now)
		b.RecordFailure(now)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, non-consecutive failures must not open", b.State())
	}
}

func TestRegistry_IndependentDependencies(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	now := time.Now()

	llm := r.Get("llm")
	llm.ForceOpen(now)

	if r.Get("database").State() != StateClosed {
		t.Error("database breaker must be unaffected by the llm outage")
	}
	if r.Get("llm") != llm {
		t.Error("registry must return the same breaker per name")
	}

	snaps := r.Snapshots()
	if len(snaps) != 2 {
		t.Errorf("len(Snapshots()) = %d, want 2", len(snaps))
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	changes := make(chan State, 4)
	b := New("llm", Config{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		OnStateChange: func(name string, from, to State) {
			changes <- to
		},
	})

	now := time.Now()
	b.Allow(now)
	b.RecordFailure(now)

	select {
	case to := <-changes:
		if to != StateOpen {
			t.Errorf("callback to = %s, want OPEN", to)
		}
	case <-time.After(time.Second):
		t.Error("OnStateChange was not invoked")
	}
}
