// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"log/slog"
	"sync"
	"time"
)

// ArchiverConfig holds the background archival sweep settings.
type ArchiverConfig struct {
	// Interval is how often the sweep runs. Default: 1 hour.
	Interval time.Duration

	// IdleAfter is the inactivity age after which a conversation moves
	// to the archive keyspace. Default: 30 days.
	IdleAfter time.Duration
}

// DefaultArchiverConfig returns production defaults.
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		Interval:  time.Hour,
		IdleAfter: 30 * 24 * time.Hour,
	}
}

// Archiver periodically moves idle conversations out of the live
// keyspace. Uses the ticker + done channel pattern for graceful shutdown.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine; Start is a no-op
// while the sweep loop is already running.
type Archiver struct {
	conversations *ConversationStore
	config        ArchiverConfig

	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewArchiver creates an archiver over the conversation store.
func NewArchiver(conversations *ConversationStore, config ArchiverConfig) *Archiver {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.IdleAfter <= 0 {
		config.IdleAfter = 30 * 24 * time.Hour
	}
	return &Archiver{
		conversations: conversations,
		config:        config,
	}
}

// Start launches the sweep loop. A stopped archiver can be started again.
func (a *Archiver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.done = make(chan struct{})
	go a.loop(a.done)
	slog.Info("conversation archiver started",
		"interval", a.config.Interval, "idle_after", a.config.IdleAfter)
}

// Stop terminates the sweep loop.
func (a *Archiver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	close(a.done)
}

func (a *Archiver) loop(done chan struct{}) {
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.sweep()
		case <-done:
			return
		}
	}
}

// sweep archives everything idle past the cutoff. Errors are logged and
// retried on the next tick.
func (a *Archiver) sweep() {
	cutoff := time.Now().Add(-a.config.IdleAfter)
	archived, err := a.conversations.ArchiveIdle(cutoff)
	if err != nil {
		slog.Error("archival sweep failed", "error", err)
		return
	}
	if archived > 0 {
		slog.Info("archived idle conversations", "count", archived)
	}
}
