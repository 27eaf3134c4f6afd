// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package startup brings dependencies up in ordered tiers. Services in
// the same tier start concurrently; a tier begins only after every
// service in the previous tier has resolved. A required service that
// stays down is fatal; an optional one leaves the process in degraded
// mode with its circuit breaker forced open.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianEngage/services/assistant/breaker"
)

// Probe checks one dependency. It must return nil only when the
// dependency is actually usable, not merely reachable.
type Probe func(ctx context.Context) error

// Service describes one dependency in the tier graph.
type Service struct {
	Name string

	// Tier orders bring-up; lower tiers start first.
	Tier int

	// Required marks services whose failure aborts startup entirely.
	Required bool

	Probe Probe

	// Breaker, when set, names the circuit breaker to force open if this
	// optional service fails, so callers short-circuit immediately
	// instead of timing out against a dead dependency.
	Breaker string
}

// ServiceState is the resolved bring-up state of one service.
type ServiceState string

const (
	StatePending  ServiceState = "pending"
	StateUp       ServiceState = "up"
	StateDegraded ServiceState = "degraded"
	StateFailed   ServiceState = "failed"
)

// Status is the externally visible bring-up record, served on the admin
// surface.
type Status struct {
	Name     string       `json:"name"`
	Tier     int          `json:"tier"`
	Required bool         `json:"required"`
	State    ServiceState `json:"state"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}

// Config controls per-service retry behavior.
type Config struct {
	// MaxAttempts bounds probe attempts per service. Default: 3.
	MaxAttempts int

	// BaseBackoff is the pause after the first failed attempt; it doubles
	// per subsequent attempt. Default: 500ms.
	BaseBackoff time.Duration

	// ProbeTimeout bounds each individual probe call. Default: 5s.
	ProbeTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseBackoff:  500 * time.Millisecond,
		ProbeTimeout: 5 * time.Second,
	}
}

// Manager evaluates the tier graph.
//
// # Thread Safety
//
// Register must complete before Run. Ready and Statuses are safe to call
// concurrently with Run.
type Manager struct {
	config   Config
	registry *breaker.Registry
	services []Service

	ready atomic.Bool

	mu       sync.Mutex
	statuses map[string]*Status
}

// NewManager creates a manager. registry may be nil when no service
// declares a breaker.
func NewManager(config Config, registry *breaker.Registry) *Manager {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 500 * time.Millisecond
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	return &Manager{
		config:   config,
		registry: registry,
		statuses: make(map[string]*Status),
	}
}

// Register adds a service to the tier graph.
func (m *Manager) Register(s Service) {
	m.services = append(m.services, s)
	m.statuses[s.Name] = &Status{
		Name:     s.Name,
		Tier:     s.Tier,
		Required: s.Required,
		State:    StatePending,
	}
}

// Ready reports whether every required service came up. The preprocessor
// rejects messages with service_unavailable until this turns true.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// Statuses returns a snapshot of all service bring-up records, ordered by
// tier then name.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Run brings up every tier in ascending order and flips the readiness
// gate on success. A required-service failure aborts the remaining tiers
// and returns an error; optional failures are absorbed as degraded mode.
func (m *Manager) Run(ctx context.Context) error {
	tiers := m.tiers()
	for _, tier := range tiers {
		group, groupCtx := errgroup.WithContext(ctx)
		for _, svc := range m.byTier(tier) {
			group.Go(func() error {
				return m.bringUp(groupCtx, svc)
			})
		}
		if err := group.Wait(); err != nil {
			return fmt.Errorf("startup aborted at tier %d: %w", tier, err)
		}
		slog.Info("startup tier complete", "tier", tier)
	}
	m.ready.Store(true)
	return nil
}

func (m *Manager) tiers() []int {
	seen := make(map[int]bool)
	var tiers []int
	for _, s := range m.services {
		if !seen[s.Tier] {
			seen[s.Tier] = true
			tiers = append(tiers, s.Tier)
		}
	}
	sort.Ints(tiers)
	return tiers
}

func (m *Manager) byTier(tier int) []Service {
	var out []Service
	for _, s := range m.services {
		if s.Tier == tier {
			out = append(out, s)
		}
	}
	return out
}

// bringUp probes one service with bounded retries and doubling backoff.
func (m *Manager) bringUp(ctx context.Context, svc Service) error {
	var lastErr error
	backoff := m.config.BaseBackoff

	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		m.setStatus(svc.Name, func(s *Status) { s.Attempts = attempt })

		probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		lastErr = svc.Probe(probeCtx)
		cancel()

		if lastErr == nil {
			m.setStatus(svc.Name, func(s *Status) {
				s.State = StateUp
				s.Error = ""
			})
			slog.Info("service up", "service", svc.Name, "tier", svc.Tier, "attempts", attempt)
			return nil
		}

		slog.Warn("service probe failed",
			"service", svc.Name, "attempt", attempt,
			"max_attempts", m.config.MaxAttempts, "error", lastErr)

		if attempt < m.config.MaxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	if svc.Required {
		m.setStatus(svc.Name, func(s *Status) {
			s.State = StateFailed
			s.Error = lastErr.Error()
		})
		return fmt.Errorf("required service %q did not come up: %w", svc.Name, lastErr)
	}

	// Optional service: degrade instead of failing the tier.
	m.setStatus(svc.Name, func(s *Status) {
		s.State = StateDegraded
		s.Error = lastErr.Error()
	})
	if svc.Breaker != "" && m.registry != nil {
		m.registry.Get(svc.Breaker).ForceOpen(time.Now())
	}
	slog.Warn("continuing in degraded mode",
		"service", svc.Name, "breaker", svc.Breaker, "error", lastErr)
	return nil
}

func (m *Manager) setStatus(name string, update func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.statuses[name]; ok {
		update(s)
	}
}
