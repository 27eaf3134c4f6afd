// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package messaging delivers replies back to the customer.
package messaging

import (
	"context"
	"log/slog"
)

// OutboundReply carries the data required to push a message to the user.
type OutboundReply struct {
	// To is the recipient identity (E.164 phone number).
	To string

	// InReplyTo is the inbound message id this reply answers, kept for
	// audit correlation.
	InReplyTo string

	Body string
}

// Messenger delivers assistant replies back to the end user.
type Messenger interface {
	SendReply(ctx context.Context, reply OutboundReply) error
}

// NoopMessenger logs instead of sending. Used in development and tests,
// and as the fallback when no provider credentials are configured.
type NoopMessenger struct{}

func (NoopMessenger) SendReply(_ context.Context, reply OutboundReply) error {
	slog.Info("outbound reply (noop messenger)",
		"to", reply.To, "in_reply_to", reply.InReplyTo, "bytes", len(reply.Body))
	return nil
}
