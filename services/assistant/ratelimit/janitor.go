// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Janitor periodically evicts idle identities from a Limiter so one-off
// senders do not accumulate window entries forever. Uses the ticker +
// done channel pattern for graceful shutdown.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine; Start is a no-op
// while the sweep loop is already running.
type Janitor struct {
	limiter  *Limiter
	interval time.Duration

	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewJanitor creates a janitor over the limiter. A non-positive interval
// falls back to the limiter's window: an identity becomes evictable one
// full window after its last event, so sweeping faster gains nothing.
func NewJanitor(limiter *Limiter, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = limiter.config.Window
	}
	return &Janitor{
		limiter:  limiter,
		interval: interval,
	}
}

// Start launches the sweep loop.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.done = make(chan struct{})
	go j.loop(j.done)
	slog.Info("rate limit janitor started", "interval", j.interval)
}

// Stop terminates the sweep loop.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	j.running = false
	close(j.done)
}

func (j *Janitor) loop(done chan struct{}) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if evicted := j.limiter.EvictIdle(time.Now()); evicted > 0 {
				slog.Debug("evicted idle rate limit windows", "count", evicted)
			}
		case <-done:
			return
		}
	}
}
