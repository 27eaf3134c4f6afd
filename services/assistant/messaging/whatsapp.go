// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DeliveryError is a failed provider call carrying the HTTP status, so
// the recovery orchestrator can classify it without importing this
// package's provider details.
type DeliveryError struct {
	Status int
	Body   string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("message delivery failed with status %d: %s", e.Status, e.Body)
}

// HTTPStatus implements the classification hook.
func (e *DeliveryError) HTTPStatus() int { return e.Status }

// WhatsAppConfig holds WhatsApp Cloud API credentials and pacing.
type WhatsAppConfig struct {
	// BaseURL is the Graph API root. Default: https://graph.facebook.com/v20.0
	BaseURL string `yaml:"base_url" json:"base_url"`

	// PhoneNumberID is the business phone number id messages are sent from.
	PhoneNumberID string `yaml:"phone_number_id" json:"phone_number_id"`

	// AccessToken is the bearer token. Populated from environment, never
	// from the config file.
	AccessToken string `yaml:"-" json:"-"`

	// VerifyToken is the webhook subscription verification token.
	VerifyToken string `yaml:"verify_token" json:"verify_token"`

	// SendsPerSecond paces outbound calls below the provider's throughput
	// limit. Default: 10/s with a burst of 5.
	SendsPerSecond float64 `yaml:"sends_per_second" json:"sends_per_second"`
	Burst          int     `yaml:"burst" json:"burst"`

	// Timeout bounds one delivery call. Default: 10s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// WhatsAppMessenger sends text replies through the WhatsApp Cloud API.
//
// # Thread Safety
//
// Safe for concurrent use; pacing is enforced by a shared token bucket.
type WhatsAppMessenger struct {
	config  WhatsAppConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewWhatsAppMessenger creates a paced Cloud API client.
func NewWhatsAppMessenger(config WhatsAppConfig) *WhatsAppMessenger {
	if config.BaseURL == "" {
		config.BaseURL = "https://graph.facebook.com/v20.0"
	}
	if config.SendsPerSecond <= 0 {
		config.SendsPerSecond = 10
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &WhatsAppMessenger{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.SendsPerSecond), config.Burst),
	}
}

type outboundPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             outboundText `json:"text"`
}

type outboundText struct {
	Body string `json:"body"`
}

// SendReply delivers one text message, waiting on the pacing bucket
// first. Provider rejections carry their HTTP status for classification.
func (w *WhatsAppMessenger) SendReply(ctx context.Context, reply OutboundReply) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait aborted: %w", err)
	}

	payload, err := json.Marshal(outboundPayload{
		MessagingProduct: "whatsapp",
		To:               reply.To,
		Type:             "text",
		Text:             outboundText{Body: reply.Body},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal outbound payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.config.BaseURL, w.config.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.config.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &DeliveryError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}
