// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker implements per-dependency circuit breaking. Each
// downstream failure domain ("llm", "database", "cache", "messaging") gets
// its own breaker so one outage never blocks calls to healthy
// dependencies.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[probe ok]◄── HALF_OPEN ◄─┘
//	                     [cooldown]
type State int

const (
	// StateClosed is normal operation: calls pass through, failures count.
	StateClosed State = iota

	// StateOpen short-circuits every call with ErrOpen; no downstream
	// call is made until the cooldown elapses.
	StateOpen

	// StateHalfOpen allows exactly one probe call through. Probe success
	// closes the breaker; probe failure reopens it and restarts the
	// cooldown.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ErrOpen is returned when a call is short-circuited.
var ErrOpen = errors.New("circuit breaker is open")

// Config controls how a breaker trips and recovers.
type Config struct {
	// FailureThreshold is consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is consecutive half-open probe successes required
	// to close. Default: 1
	SuccessThreshold int

	// Cooldown is how long to stay open before allowing a probe.
	// Default: 30 seconds
	Cooldown time.Duration

	// OnStateChange is invoked on every transition. Called without the
	// breaker lock held; keep it fast or dispatch internally.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// Snapshot is a point-in-time view of one breaker for the admin surface.
type Snapshot struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	LastTransition time.Time `json:"last_transition"`
}

// Breaker tracks consecutive failures for one named dependency.
//
// # Thread Safety
//
// Safe for concurrent use. Only the half-open probe slot is serialized:
// while a probe is in flight every other caller gets ErrOpen.
type Breaker struct {
	name   string
	config Config

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	lastFailure    time.Time
	lastTransition time.Time
	probeInFlight  bool
}

// New creates a breaker in the closed state. Zero config values fall back
// to defaults.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:           name,
		config:         config,
		state:          StateClosed,
		lastTransition: time.Now(),
	}
}

// Allow reports whether a call may proceed right now, reserving the
// half-open probe slot when applicable. Every Allow that returns true MUST
// be paired with exactly one RecordSuccess or RecordFailure; the recovery
// orchestrator owns that pairing.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.lastFailure) >= b.config.Cooldown {
			b.transitionTo(StateHalfOpen, now)
			b.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful downstream call.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probeInFlight = false
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.failures = 0
			b.transitionTo(StateClosed, now)
		}
	}
}

// RecordFailure reports a failed downstream call.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.successes = 0
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen, now)
		}
	case StateHalfOpen:
		// A failed probe reopens and restarts the cooldown.
		b.probeInFlight = false
		b.transitionTo(StateOpen, now)
	}
}

// ForceOpen trips the breaker immediately. Used by the startup manager for
// optional services that failed initialization: the dependency starts
// pre-opened and recovers through the normal half-open probe path.
func (b *Breaker) ForceOpen(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = now
	b.failures = b.config.FailureThreshold
	if b.state != StateOpen {
		b.transitionTo(StateOpen, now)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the admin view of this breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:           b.name,
		State:          b.state.String(),
		Failures:       b.failures,
		LastTransition: b.lastTransition,
	}
}

// transitionTo is called with b.mu held.
func (b *Breaker) transitionTo(state State, now time.Time) {
	if b.state == state {
		return
	}
	from := b.state
	b.state = state
	b.successes = 0
	b.lastTransition = now

	if b.config.OnStateChange != nil {
		// Callback runs outside the lock to prevent deadlocks.
		go b.config.OnStateChange(b.name, from, state)
	}
}

// =============================================================================
// Registry
// =============================================================================

// Registry manages breakers for multiple dependency names, creating them
// on demand with a shared default configuration.
//
// # Thread Safety
//
// Safe for concurrent use. Entries are independently locked; the registry
// map has its own lock so hot paths never contend across dependencies.
type Registry struct {
	defaultConfig Config
	mu            sync.RWMutex
	breakers      map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry(defaultConfig Config) *Registry {
	return &Registry{
		defaultConfig: defaultConfig,
		breakers:      make(map[string]*Breaker),
	}
}

// Get returns the breaker for a dependency name, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = New(name, r.defaultConfig)
	r.breakers[name] = b
	return b
}

// Snapshots returns the state of every registered breaker, for the admin
// API and engagectl.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
