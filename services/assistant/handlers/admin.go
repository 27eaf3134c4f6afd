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
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianEngage/services/assistant/breaker"
	"github.com/AleutianAI/AleutianEngage/services/assistant/startup"
	"github.com/AleutianAI/AleutianEngage/services/assistant/store"
)

// ListBreakers returns the state of every circuit breaker.
func ListBreakers(registry *breaker.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": registry.Snapshots()})
	}
}

// GetConversation returns the live conversation state for one identity.
func GetConversation(conversations *store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.Param("identity")
		state, err := conversations.Get(identity)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no conversation for identity"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

// ListAudit returns the newest audit records. Query param: limit
// (default 50, max 500).
func ListAudit(audit *store.AuditLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}
		if limit > 500 {
			limit = 500
		}

		records, err := audit.Recent(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// ListStartup returns the bring-up record of every registered service.
func ListStartup(manager *startup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":    manager.Ready(),
			"services": manager.Statuses(),
		})
	}
}
