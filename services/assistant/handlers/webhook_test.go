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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEngage/services/assistant/breaker"
	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianEngage/services/assistant/dialog"
	"github.com/AleutianAI/AleutianEngage/services/assistant/messaging"
	"github.com/AleutianAI/AleutianEngage/services/assistant/preprocess"
	"github.com/AleutianAI/AleutianEngage/services/assistant/ratelimit"
	"github.com/AleutianAI/AleutianEngage/services/assistant/recovery"
	"github.com/AleutianAI/AleutianEngage/services/assistant/rules"
	"github.com/AleutianAI/AleutianEngage/services/assistant/store"
	"github.com/AleutianAI/AleutianEngage/services/llm"
)

// chanMessenger pushes deliveries onto a channel so tests can wait for
// the async processing path.
type chanMessenger struct {
	sent chan messaging.OutboundReply
}

func (m *chanMessenger) SendReply(_ context.Context, reply messaging.OutboundReply) error {
	m.sent <- reply
	return nil
}

// echoClient always answers with a fixed provide_info result.
type echoClient struct{}

func (echoClient) Infer(_ context.Context, _ llm.Request) (*llm.Result, error) {
	return &llm.Result{Intent: llm.IntentProvideInfo, ReplyText: "Welcome to tutoring!"}, nil
}

func alwaysOpenSchedule() rules.Schedule {
	days := map[string][]rules.Interval{}
	for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
		days[day] = []rules.Interval{{Start: "00:00", End: "23:59"}}
	}
	return rules.Schedule{Days: days}
}

func newTestRouter(t *testing.T) (*gin.Engine, *chanMessenger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sanitizer, err := rules.NewSanitizer(datatypes.MaxMessageBytes)
	require.NoError(t, err)

	audit := store.NewAuditLog(db)
	gate := preprocess.NewGate(
		sanitizer,
		ratelimit.NewLimiter(ratelimit.Config{Limit: 50, Window: time.Hour}),
		store.NewDedupSet(db, time.Minute),
		audit,
		alwaysOpenSchedule,
		func() bool { return true },
		preprocess.DefaultReplies(),
	)

	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 5, SuccessThreshold: 1, Cooldown: time.Minute,
	})
	orch := recovery.NewOrchestrator(registry, recovery.Config{
		CallTimeout: time.Second, RetryBackoff: time.Millisecond,
	})
	machine := dialog.NewMachine(
		store.NewConversationStore(db),
		echoClient{},
		orch,
		audit,
		rules.DefaultPricePolicy,
		dialog.DefaultConfig(),
	)

	messenger := &chanMessenger{sent: make(chan messaging.OutboundReply, 16)}
	router := gin.New()
	router.POST("/v1/webhook/whatsapp", HandleWebhook(WebhookDeps{
		Gate:         gate,
		Machine:      machine,
		Messenger:    messenger,
		Orchestrator: orch,
		Audit:        audit,
	}))
	router.GET("/v1/webhook/whatsapp", VerifyWebhook("secret-token"))
	return router, messenger
}

func webhookBody(id, from, text string) string {
	return fmt.Sprintf(`{
		"entry": [{"changes": [{"value": {"messages": [
			{"from": %q, "id": %q, "timestamp": "1756000000", "type": "text", "text": {"body": %q}}
		]}}]}]
	}`, from, id, text)
}

func post(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhook/whatsapp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitReply(t *testing.T, m *chanMessenger) messaging.OutboundReply {
	t.Helper()
	select {
	case reply := <-m.sent:
		return reply
	case <-time.After(5 * time.Second):
		t.Fatal("no reply delivered")
		return messaging.OutboundReply{}
	}
}

func TestVerifyWebhook(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/v1/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet,
		"/v1/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleWebhook_AdmittedMessageGetsReply(t *testing.T) {
	router, messenger := newTestRouter(t)

	w := post(router, webhookBody("wamid.1", "15550001111", "hello"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accepted":1`)

	reply := waitReply(t, messenger)
	assert.Equal(t, "15550001111", reply.To)
	assert.Equal(t, "Welcome to tutoring!", reply.Body)
	assert.Equal(t, "wamid.1", reply.InReplyTo)
}

func TestHandleWebhook_RejectedMessageGetsCannedReply(t *testing.T) {
	router, messenger := newTestRouter(t)

	w := post(router, webhookBody("wamid.2", "15550001111", "<script>alert(1)</script>"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accepted":0`)

	reply := waitReply(t, messenger)
	assert.Equal(t, preprocess.DefaultReplies().InvalidInput, reply.Body)
}

func TestHandleWebhook_DuplicateDeliveryIsSilent(t *testing.T) {
	router, messenger := newTestRouter(t)

	post(router, webhookBody("wamid.3", "15550001111", "hello"))
	waitReply(t, messenger)

	w := post(router, webhookBody("wamid.3", "15550001111", "hello"))
	assert.Equal(t, http.StatusOK, w.Code, "redelivery is still acknowledged")

	select {
	case reply := <-messenger.sent:
		t.Fatalf("duplicate delivery produced a second reply: %+v", reply)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestHandleWebhook_NonTextMessagesAreIgnored(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"entry": [{"changes": [{"value": {"messages": [
		{"from": "15550001111", "id": "wamid.4", "timestamp": "1756000000", "type": "image"}
	]}}]}]}`
	w := post(router, body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accepted":0`)
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	router, _ := newTestRouter(t)
	w := post(router, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
