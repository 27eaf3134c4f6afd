// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianEngage/services/assistant/dialog"
	"github.com/AleutianAI/AleutianEngage/services/assistant/messaging"
	"github.com/AleutianAI/AleutianEngage/services/assistant/observability"
	"github.com/AleutianAI/AleutianEngage/services/assistant/preprocess"
	"github.com/AleutianAI/AleutianEngage/services/assistant/recovery"
	"github.com/AleutianAI/AleutianEngage/services/assistant/store"
)

// whatsappDependency is the breaker name outbound delivery runs under.
const whatsappDependency = "whatsapp"

// WebhookDeps carries everything the webhook needs. All fields are
// required except Metrics.
type WebhookDeps struct {
	Gate         *preprocess.Gate
	Machine      *dialog.Machine
	Messenger    messaging.Messenger
	Orchestrator *recovery.Orchestrator
	Audit        *store.AuditLog
	Metrics      *observability.Metrics
}

// =============================================================================
// Webhook Payload
// =============================================================================

// Inbound webhook shape, per the WhatsApp Cloud API. Only text messages
// are handled; everything else is acknowledged and dropped.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

// VerifyWebhook answers the provider's subscription handshake: echo the
// challenge when the verify token matches.
func VerifyWebhook(verifyToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := c.Query("hub.mode")
		token := c.Query("hub.verify_token")
		challenge := c.Query("hub.challenge")

		if mode == "subscribe" && token != "" && token == verifyToken {
			c.String(http.StatusOK, challenge)
			return
		}
		c.Status(http.StatusForbidden)
	}
}

// HandleWebhook ingests one webhook delivery.
//
// # Description
//
// Every message in the payload gets an admission verdict synchronously,
// then the delivery is acknowledged with 200; the provider redelivers on
// anything else, and verdicts are idempotent. Admitted messages continue
// through the dialog machine on a background goroutine so inference
// latency never holds the webhook connection open.
func HandleWebhook(deps WebhookDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload webhookPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
			return
		}

		accepted := 0
		for _, msg := range flatten(payload) {
			verdict := deps.Gate.Process(msg)
			if deps.Metrics != nil && !verdict.Silent() {
				deps.Metrics.RecordVerdict(verdict)
			}

			switch {
			case verdict.Admitted:
				accepted++
				go deps.processAdmitted(msg)
			case verdict.Silent():
				// Duplicate delivery: no reply, no metrics.
			case verdict.Reply != "":
				go deps.deliver(msg.Identity, msg.MessageID, verdict.Reply)
			}
		}

		c.JSON(http.StatusOK, gin.H{"accepted": accepted})
	}
}

// flatten extracts text messages from the nested webhook envelope.
func flatten(payload webhookPayload) []datatypes.InboundMessage {
	var out []datatypes.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" {
					slog.Debug("ignoring non-text message", "type", msg.Type, "message_id", msg.ID)
					continue
				}
				out = append(out, datatypes.InboundMessage{
					MessageID:  msg.ID,
					Identity:   msg.From,
					Text:       msg.Text.Body,
					ReceivedAt: parseTimestamp(msg.Timestamp),
				})
			}
		}
	}
	return out
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(secs, 0)
}

// processAdmitted runs the dialogue and delivers the reply. Detached from
// the webhook request context: the provider has already been acked.
func (deps WebhookDeps) processAdmitted(msg datatypes.InboundMessage) {
	outcome, err := deps.Machine.ProcessMessage(context.Background(), msg)
	if err != nil {
		slog.Error("dialog processing failed",
			"identity", msg.Identity, "message_id", msg.MessageID, "error", err)
		return
	}
	if outcome.Reply != "" {
		deps.deliver(msg.Identity, msg.MessageID, outcome.Reply)
	}
}

// deliver pushes one reply through the messenger's circuit breaker and
// records the attempt.
func (deps WebhookDeps) deliver(identity, inReplyTo, body string) {
	err := deps.Orchestrator.Do(context.Background(), whatsappDependency, func(ctx context.Context) error {
		return deps.Messenger.SendReply(ctx, messaging.OutboundReply{
			To:        identity,
			InReplyTo: inReplyTo,
			Body:      body,
		})
	})
	if err != nil {
		slog.Error("reply delivery failed",
			"identity", identity, "in_reply_to", inReplyTo, "error", err)
	}
	if deps.Metrics != nil {
		deps.Metrics.RecordReply(err == nil)
	}

	detail := "delivered"
	if err != nil {
		detail = "failed"
	}
	auditErr := deps.Audit.Append(store.AuditRecord{
		Kind:      store.AuditReply,
		Identity:  identity,
		MessageID: inReplyTo,
		Detail:    detail,
	})
	if auditErr != nil {
		slog.Error("failed to append reply audit record",
			"identity", identity, "error", auditErr)
	}
}
