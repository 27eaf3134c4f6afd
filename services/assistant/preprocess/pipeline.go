// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package preprocess is the sole gate in front of stateful processing:
// no message reaches the dialog machine without passing through the Gate.
//
// Pipeline order: dedup → readiness → sanitation → rate limit →
// operating hours. The first violated rule determines the rejection
// reason, which gives the required reason priority of
// sanitation > rate limit > operating hours.
package preprocess

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianEngage/services/assistant/ratelimit"
	"github.com/AleutianAI/AleutianEngage/services/assistant/rules"
	"github.com/AleutianAI/AleutianEngage/services/assistant/store"
)

// Replies holds the canned user-facing texts for rejections. These are
// deliberately generic: internal failure detail never leaks into them.
type Replies struct {
	InvalidInput string `yaml:"invalid_input" json:"invalid_input"`
	RateLimited  string `yaml:"rate_limited" json:"rate_limited"`
	OutsideHours string `yaml:"outside_hours" json:"outside_hours"`
	Unavailable  string `yaml:"unavailable" json:"unavailable"`
}

// DefaultReplies returns the stock reply texts.
func DefaultReplies() Replies {
	return Replies{
		InvalidInput: "Sorry, we couldn't process that message. Please rephrase and try again.",
		RateLimited:  "You've sent quite a few messages in a short time. Please wait a bit and try again.",
		OutsideHours: "Thanks for reaching out! We're currently closed (Mon-Fri 8:00-12:00 and 14:00-18:00). We'll get back to you during business hours.",
		Unavailable:  "We're experiencing a temporary issue. Please try again in a few minutes.",
	}
}

// Gate composes the admission checks for one inbound message.
//
// # Thread Safety
//
// Safe for concurrent use: the sanitizer is immutable, the limiter and
// dedup set lock internally, and the schedule provider must return a
// consistent snapshot (the config watcher swaps it atomically).
type Gate struct {
	sanitizer *rules.Sanitizer
	limiter   *ratelimit.Limiter
	dedup     *store.DedupSet
	audit     *store.AuditLog
	schedule  func() rules.Schedule
	ready     func() bool
	replies   Replies
}

// NewGate wires the admission pipeline.
//
// # Inputs
//
//   - sanitizer: compiled injection pattern checks
//   - limiter: per-identity sliding window
//   - dedup: persisted message-id markers
//   - audit: append-only audit sink (every verdict is recorded)
//   - schedule: returns the current operating-hours table
//   - ready: reports whether all required startup tiers are up
func NewGate(
	sanitizer *rules.Sanitizer,
	limiter *ratelimit.Limiter,
	dedup *store.DedupSet,
	audit *store.AuditLog,
	schedule func() rules.Schedule,
	ready func() bool,
	replies Replies,
) *Gate {
	return &Gate{
		sanitizer: sanitizer,
		limiter:   limiter,
		dedup:     dedup,
		audit:     audit,
		schedule:  schedule,
		ready:     ready,
		replies:   replies,
	}
}

// Process produces the admit/reject verdict for one inbound message.
//
// Duplicate deliveries are detected first and dropped silently, so a
// redelivered webhook can never consume rate-limit budget or produce a
// second reply. Every non-duplicate verdict is appended to the audit log;
// out-of-hours messages are therefore recorded for human follow-up even
// though they never reach the dialog machine.
func (g *Gate) Process(msg datatypes.InboundMessage) datatypes.Verdict {
	now := msg.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	seen, err := g.dedup.Seen(msg.MessageID)
	if err != nil {
		slog.Error("dedup check failed, processing message anyway",
			"message_id", msg.MessageID, "error", err)
	} else if seen {
		slog.Debug("dropping duplicate delivery", "message_id", msg.MessageID)
		return datatypes.Reject(datatypes.ReasonDuplicate, "")
	}

	verdict := g.evaluate(msg, now)
	g.record(msg, verdict)
	return verdict
}

func (g *Gate) evaluate(msg datatypes.InboundMessage, now time.Time) datatypes.Verdict {
	if g.ready != nil && !g.ready() {
		return datatypes.Reject(datatypes.ReasonUnavailable, g.replies.Unavailable)
	}

	if err := msg.Validate(); err != nil {
		slog.Warn("rejecting malformed envelope", "message_id", msg.MessageID, "error", err)
		return datatypes.Reject(datatypes.ReasonInvalidInput, g.replies.InvalidInput)
	}
	if err := g.sanitizer.Check(msg.Text); err != nil {
		// The reason stays internal; the reply must not reflect input.
		slog.Warn("rejecting unsafe message", "identity", msg.Identity, "reason", err)
		return datatypes.Reject(datatypes.ReasonInvalidInput, g.replies.InvalidInput)
	}

	if !g.limiter.CheckAndRecord(msg.Identity, now) {
		return datatypes.Reject(datatypes.ReasonRateLimited, g.replies.RateLimited)
	}

	if !g.schedule().Open(now) {
		return datatypes.Reject(datatypes.ReasonOutsideHours, g.replies.OutsideHours)
	}

	return datatypes.Admit()
}

func (g *Gate) record(msg datatypes.InboundMessage, verdict datatypes.Verdict) {
	detail := "admitted"
	if !verdict.Admitted {
		detail = "rejected:" + string(verdict.Reason)
	}
	err := g.audit.Append(store.AuditRecord{
		Kind:      store.AuditVerdict,
		Identity:  msg.Identity,
		MessageID: msg.MessageID,
		Detail:    detail,
	})
	if err != nil {
		slog.Error("failed to append verdict audit record",
			"message_id", msg.MessageID, "error", err)
	}
}
