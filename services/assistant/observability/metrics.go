// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the assistant.
//
// # Description
//
// Metrics cover the message admission pipeline, the dialogue state
// machine, the circuit breakers, and inference latency. Exposed on the
// /metrics endpoint for Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
)

const metricsNamespace = "engage"

const assistantSubsystem = "assistant"

// Metrics holds all Prometheus metrics for the assistant.
//
// # Fields
//
//   - VerdictsTotal: Counter of admission verdicts by outcome
//   - TransitionsTotal: Counter of stage transitions by from/to pair
//   - BreakerTransitionsTotal: Counter of breaker state changes
//   - InferenceSeconds: Histogram of inference call latency
//   - ActiveConversations: Gauge of non-terminal conversations
//   - RepliesTotal: Counter of outbound reply attempts by result
type Metrics struct {
	// VerdictsTotal counts preprocessor verdicts.
	// Labels: outcome (admitted, or the rejection reason)
	VerdictsTotal *prometheus.CounterVec

	// TransitionsTotal counts committed stage transitions.
	// Labels: from, to (stage wire names)
	TransitionsTotal *prometheus.CounterVec

	// BreakerTransitionsTotal counts circuit breaker state changes.
	// Labels: dependency, state (closed, open, half_open)
	BreakerTransitionsTotal *prometheus.CounterVec

	// InferenceSeconds measures end-to-end inference call latency,
	// including the local retry when one happens.
	// Labels: status (success, error)
	InferenceSeconds *prometheus.HistogramVec

	// ActiveConversations tracks conversations not yet completed or
	// escalated.
	ActiveConversations prometheus.Gauge

	// RepliesTotal counts outbound delivery attempts.
	// Labels: result (delivered, failed)
	RepliesTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics registers all metrics on the default registry. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics registers all metrics on the given registerer. Tests pass a
// fresh registry to avoid duplicate-registration panics.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "verdicts_total",
				Help:      "Admission verdicts by outcome",
			},
			[]string{"outcome"},
		),

		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "stage_transitions_total",
				Help:      "Committed conversation stage transitions",
			},
			[]string{"from", "to"},
		),

		BreakerTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state changes by dependency",
			},
			[]string{"dependency", "state"},
		),

		InferenceSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "inference_seconds",
				Help:      "Inference call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"status"},
		),

		ActiveConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "active_conversations",
				Help:      "Conversations not yet completed or escalated",
			},
		),

		RepliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "replies_total",
				Help:      "Outbound reply delivery attempts by result",
			},
			[]string{"result"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordVerdict records one admission verdict.
func (m *Metrics) RecordVerdict(v datatypes.Verdict) {
	outcome := "admitted"
	if !v.Admitted {
		outcome = string(v.Reason)
	}
	m.VerdictsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition records one committed stage transition and maintains
// the active-conversations gauge.
func (m *Metrics) RecordTransition(from, to datatypes.Stage) {
	m.TransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	if !from.Terminal() && to.Terminal() {
		m.ActiveConversations.Dec()
	}
}

// ConversationStarted bumps the active-conversations gauge.
func (m *Metrics) ConversationStarted() {
	m.ActiveConversations.Inc()
}

// RecordBreakerTransition records a breaker state change.
func (m *Metrics) RecordBreakerTransition(dependency, state string) {
	m.BreakerTransitionsTotal.WithLabelValues(dependency, state).Inc()
}

// RecordInference records one inference call's latency.
func (m *Metrics) RecordInference(seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.InferenceSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordReply records one outbound delivery attempt.
func (m *Metrics) RecordReply(delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.RepliesTotal.WithLabelValues(result).Inc()
}
