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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEngage/services/assistant/breaker"
	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianEngage/services/assistant/store"
)

func adminRouter(t *testing.T) (*gin.Engine, *store.ConversationStore, *store.AuditLog, *breaker.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conversations := store.NewConversationStore(db)
	audit := store.NewAuditLog(db)
	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 5, SuccessThreshold: 1, Cooldown: time.Minute,
	})

	router := gin.New()
	router.GET("/v1/admin/breakers", ListBreakers(registry))
	router.GET("/v1/admin/conversations/:identity", GetConversation(conversations))
	router.GET("/v1/admin/audit", ListAudit(audit))
	return router, conversations, audit, registry
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListBreakers(t *testing.T) {
	router, _, _, registry := adminRouter(t)
	registry.Get("llm")
	registry.Get("whatsapp").ForceOpen(time.Now())

	w := get(router, "/v1/admin/breakers")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Breakers []breaker.Snapshot `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Breakers, 2)

	states := map[string]string{}
	for _, snap := range body.Breakers {
		states[snap.Name] = snap.State
	}
	assert.Equal(t, breaker.StateClosed.String(), states["llm"])
	assert.Equal(t, breaker.StateOpen.String(), states["whatsapp"])
}

func TestGetConversation(t *testing.T) {
	router, conversations, _, _ := adminRouter(t)

	w := get(router, "/v1/admin/conversations/+15550001111")
	assert.Equal(t, http.StatusNotFound, w.Code)

	state := datatypes.NewConversationState("+15550001111", time.Now())
	state.Profile.ParentName = "Dana"
	require.NoError(t, conversations.Put(state))

	w = get(router, "/v1/admin/conversations/+15550001111")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"parent_name":"Dana"`)
	assert.Contains(t, w.Body.String(), `"stage":0`)
}

func TestListAudit(t *testing.T) {
	router, _, audit, _ := adminRouter(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, audit.Append(store.AuditRecord{
			Kind: store.AuditVerdict, Identity: "+1555", Detail: "admitted",
		}))
	}

	w := get(router, "/v1/admin/audit?limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Records []store.AuditRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Records, 2)

	w = get(router, "/v1/admin/audit?limit=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
