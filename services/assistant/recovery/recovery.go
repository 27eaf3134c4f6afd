// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery classifies downstream failures and drives circuit
// breaker state. It is the single place that maps raw errors to
// retry/fallback/fatal decisions.
//
// # Failure Categories
//
//   - Transient: network timeout, 5xx (retried once with backoff)
//   - Permanent: 4xx auth/validation (never retried)
//   - Exhausted: quota/budget (surfaced as permanent + operational alert)
//   - Unavailable: breaker open, no downstream call attempted
//
// The orchestrator never mutates conversation state; it only returns a
// classified outcome to the caller.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/AleutianAI/AleutianEngage/services/assistant/breaker"
)

// =============================================================================
// Classification
// =============================================================================

// Class is the failure classification of a downstream error.
type Class string

const (
	ClassTransient   Class = "transient"
	ClassPermanent   Class = "permanent"
	ClassExhausted   Class = "exhausted"
	ClassUnavailable Class = "unavailable"
)

// HTTPStatusError lets downstream clients expose a provider HTTP status
// without this package importing provider SDKs.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// Classify maps a raw downstream error to a failure class.
//
// Timeouts, cancellations, and 5xx responses are Transient. 429 is
// Exhausted. Other 4xx responses are Permanent. Unknown errors default to
// Transient so the breaker still learns from them.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatus()
		switch {
		case code == 429:
			return ClassExhausted
		case code >= 500:
			return ClassTransient
		case code >= 400:
			return ClassPermanent
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassTransient
}

// Failure is the classified outcome surfaced to callers.
type Failure struct {
	Dependency string
	Class      Class
	// Retried is true when a transient failure was retried locally and
	// the retry also failed.
	Retried bool
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure on dependency %q: %v", f.Class, f.Dependency, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsUnavailable reports whether err is a short-circuited or exhausted-
// retry failure, i.e. the caller should emit a fallback reply without
// advancing conversation state.
func IsUnavailable(err error) bool {
	var f *Failure
	if !errors.As(err, &f) {
		return false
	}
	return f.Class == ClassUnavailable || (f.Class == ClassTransient && f.Retried)
}

// IsPermanent reports whether err is a permanent (non-retryable) failure.
func IsPermanent(err error) bool {
	var f *Failure
	if !errors.As(err, &f) {
		return false
	}
	return f.Class == ClassPermanent || f.Class == ClassExhausted
}

// =============================================================================
// Orchestrator
// =============================================================================

// AlertFunc is the operational alert hook for resource-exhaustion
// failures. Implementations must not block.
type AlertFunc func(ctx context.Context, dependency string, err error)

// Config controls retry and timeout behavior.
type Config struct {
	// CallTimeout bounds every downstream call. Default: 5 seconds,
	// aligned with the end-to-end response budget.
	CallTimeout time.Duration

	// RetryBackoff is the pause before the single local retry of a
	// transient failure. Default: 200ms.
	RetryBackoff time.Duration

	// Alert is invoked on resource-exhaustion failures. Optional.
	Alert AlertFunc

	// Observe, when set, receives the total duration of every Do call,
	// including the local retry. Used for latency metrics.
	Observe func(dependency string, seconds float64, success bool)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:  5 * time.Second,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// Orchestrator executes downstream calls through the breaker registry,
// applying the classification policy above.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the breaker registry.
type Orchestrator struct {
	registry *breaker.Registry
	config   Config
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator over a breaker registry.
func NewOrchestrator(registry *breaker.Registry, config Config) *Orchestrator {
	if config.CallTimeout <= 0 {
		config.CallTimeout = 5 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 200 * time.Millisecond
	}
	return &Orchestrator{
		registry: registry,
		config:   config,
		now:      time.Now,
	}
}

// Do runs fn against the named dependency through its circuit breaker.
//
// # Description
//
// If the breaker is open the call is short-circuited with an Unavailable
// failure and fn is never invoked. Otherwise fn runs under the call
// timeout; a transient failure is reported to the breaker and retried
// once after a short backoff (taking a fresh breaker slot), a permanent
// or exhausted failure is surfaced immediately. Exhausted failures also
// fire the alert hook.
//
// The per-call timeout is derived from context.Background, not from ctx's
// deadline, so an upstream client disconnect does not abort an in-flight
// state-affecting call; cancellation is honored between attempts.
func (o *Orchestrator) Do(ctx context.Context, dependency string, fn func(ctx context.Context) error) (retErr error) {
	if o.config.Observe != nil {
		start := o.now()
		defer func() {
			o.config.Observe(dependency, o.now().Sub(start).Seconds(), retErr == nil)
		}()
	}
	err := o.attempt(dependency, fn)
	if err == nil {
		return nil
	}

	var f *Failure
	if !errors.As(err, &f) || f.Class != ClassTransient {
		return err
	}

	// One local retry with backoff before surfacing.
	select {
	case <-time.After(o.config.RetryBackoff):
	case <-ctx.Done():
		f.Retried = true
		return f
	}

	retryErr := o.attempt(dependency, fn)
	if retryErr == nil {
		return nil
	}
	if errors.As(retryErr, &f) {
		f.Retried = true
	}
	return retryErr
}

// attempt performs a single breaker-guarded call.
func (o *Orchestrator) attempt(dependency string, fn func(ctx context.Context) error) error {
	b := o.registry.Get(dependency)
	now := o.now()

	if !b.Allow(now) {
		return &Failure{
			Dependency: dependency,
			Class:      ClassUnavailable,
			Err:        breaker.ErrOpen,
		}
	}

	callCtx, cancel := context.WithTimeout(context.Background(), o.config.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		b.RecordSuccess(o.now())
		return nil
	}

	b.RecordFailure(o.now())
	class := Classify(err)
	if class == ClassExhausted && o.config.Alert != nil {
		o.config.Alert(callCtx, dependency, err)
	}
	return &Failure{
		Dependency: dependency,
		Class:      class,
		Err:        err,
	}
}

// Breakers exposes the underlying registry for the admin surface.
func (o *Orchestrator) Breakers() *breaker.Registry {
	return o.registry
}
