// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers for the assistant:
// the WhatsApp webhook, health/readiness, and the admin surface.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianEngage/services/assistant/startup"
)

// HealthCheck reports liveness. Always 200 once the process serves HTTP.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadyCheck reports readiness: 200 once every required startup tier is
// up, 503 before that (and forever, if a required service failed).
func ReadyCheck(manager *startup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager.Ready() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
	}
}
