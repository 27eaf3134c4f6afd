// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit implements sliding-window admission control per
// customer identity.
package ratelimit

import (
	"sync"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config controls the sliding window.
type Config struct {
	// Limit is the maximum number of admitted events per window.
	// Default: 50
	Limit int

	// Window is the rolling window duration.
	// Default: 1 hour
	Window time.Duration
}

// DefaultConfig returns the production default of 50 events per hour.
func DefaultConfig() Config {
	return Config{
		Limit:  50,
		Window: time.Hour,
	}
}

// =============================================================================
// Sliding Window Limiter
// =============================================================================

// window is the rolling event record for one identity. Timestamps are kept
// in arrival order; pruning drops everything older than now minus the
// configured window.
type window struct {
	mu     sync.Mutex
	events []time.Time
}

// Limiter tracks a sliding window of event timestamps per identity.
//
// # Thread Safety
//
// Safe for concurrent use across identities. Each identity's window has
// its own mutex, so contention is limited to callers hitting the same
// identity; the registry map is guarded separately.
type Limiter struct {
	config  Config
	mu      sync.RWMutex
	windows map[string]*window
}

// NewLimiter creates a limiter. Zero config values fall back to defaults.
func NewLimiter(config Config) *Limiter {
	if config.Limit <= 0 {
		config.Limit = 50
	}
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	return &Limiter{
		config:  config,
		windows: make(map[string]*window),
	}
}

// CheckAndRecord prunes stale events for the identity and, if the window
// has room, records now and admits. A denied call records nothing, so a
// throttled customer cannot extend their own penalty by retrying.
func (l *Limiter) CheckAndRecord(identity string, now time.Time) bool {
	w := l.getWindow(identity)

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-l.config.Window)
	kept := w.events[:0]
	for _, ts := range w.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.events = kept

	if len(w.events) >= l.config.Limit {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// Count returns the number of live events for an identity at time now.
// Intended for tests and the admin surface; it does not prune.
func (l *Limiter) Count(identity string, now time.Time) int {
	l.mu.RLock()
	w, ok := l.windows[identity]
	l.mu.RUnlock()
	if !ok {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-l.config.Window)
	n := 0
	for _, ts := range w.events {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// EvictIdle removes windows whose newest event is older than one full
// window. Run periodically so one-off identities do not accumulate.
func (l *Limiter) EvictIdle(now time.Time) int {
	cutoff := now.Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for identity, w := range l.windows {
		w.mu.Lock()
		idle := len(w.events) == 0 || !w.events[len(w.events)-1].After(cutoff)
		w.mu.Unlock()
		if idle {
			delete(l.windows, identity)
			evicted++
		}
	}
	return evicted
}

// Size returns the number of tracked identities, evicted or not.
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

func (l *Limiter) getWindow(identity string) *window {
	l.mu.RLock()
	w, ok := l.windows[identity]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock
	if w, ok = l.windows[identity]; ok {
		return w
	}
	w = &window{}
	l.windows[identity] = w
	return w
}
