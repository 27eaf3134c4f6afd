// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures shared across the assistant
// service: the inbound message envelope, preprocessor verdicts, and the
// conversation state record.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageBytes is the maximum size of a single inbound message body.
	// Messages over this limit are rejected before any stateful processing.
	MaxMessageBytes = 4 * 1024 // 4KB

	// MaxIdentityLength is the maximum length of a customer identity
	// (an E.164 phone number is at most 15 digits plus the leading '+').
	MaxIdentityLength = 32
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// envelopeValidate is the validator instance for inbound envelopes.
var envelopeValidate *validator.Validate

func init() {
	envelopeValidate = validator.New()
	_ = envelopeValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageBytes on string fields. Byte length,
// not rune count, so oversized multi-byte payloads cannot slip through.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageBytes
}

// =============================================================================
// Inbound Envelope
// =============================================================================

// InboundMessage is the envelope delivered by the messaging webhook.
//
// # Description
//
// One inbound customer message. MessageID is the provider's delivery id and
// is the dedup key for duplicate webhook deliveries. Identity is the stable
// customer handle (phone number) used as the partition key for rate
// limiting, conversation state, and locking.
type InboundMessage struct {
	MessageID  string    `json:"message_id" validate:"required,max=128"`
	Identity   string    `json:"identity" validate:"required,max=32"`
	Text       string    `json:"text" validate:"required,maxbytes"`
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks the envelope against its struct tags.
func (m *InboundMessage) Validate() error {
	return envelopeValidate.Struct(m)
}

// =============================================================================
// Preprocessor Verdict
// =============================================================================

// RejectReason identifies why the preprocessor refused a message.
type RejectReason string

const (
	// ReasonInvalidInput covers sanitation failures (injection patterns,
	// oversized payloads, malformed envelopes). No detail is echoed back.
	ReasonInvalidInput RejectReason = "invalid_input"

	// ReasonRateLimited means the identity exceeded its sliding window.
	ReasonRateLimited RejectReason = "rate_limited"

	// ReasonOutsideHours means the message arrived outside configured
	// operating hours. The message is still recorded for follow-up.
	ReasonOutsideHours RejectReason = "outside_hours"

	// ReasonUnavailable means a required startup tier is not ready.
	ReasonUnavailable RejectReason = "service_unavailable"

	// ReasonDuplicate means the message id was already processed. The
	// duplicate is dropped silently: no reply is sent.
	ReasonDuplicate RejectReason = "duplicate"
)

// Verdict is the preprocessor's admit/reject decision for one message.
// It is transient and never persisted (the audit log records its outcome).
type Verdict struct {
	Admitted bool
	Reason   RejectReason
	// Reply is the canned user-facing reply for a rejection. Empty for
	// admissions and for silently dropped duplicates.
	Reply string
}

// Admit returns the admission verdict.
func Admit() Verdict {
	return Verdict{Admitted: true}
}

// Reject returns a rejection verdict with a canned reply.
func Reject(reason RejectReason, reply string) Verdict {
	return Verdict{Admitted: false, Reason: reason, Reply: reply}
}

// Silent reports whether the rejection should produce no outbound reply.
func (v Verdict) Silent() bool {
	return !v.Admitted && v.Reason == ReasonDuplicate
}
