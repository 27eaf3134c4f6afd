// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianEngage/services/assistant/breaker"
	"github.com/AleutianAI/AleutianEngage/services/assistant/handlers"
	"github.com/AleutianAI/AleutianEngage/services/assistant/startup"
	"github.com/AleutianAI/AleutianEngage/services/assistant/store"
)

// Deps carries everything the route table needs.
type Deps struct {
	Webhook       handlers.WebhookDeps
	VerifyToken   string
	Breakers      *breaker.Registry
	Conversations *store.ConversationStore
	Audit         *store.AuditLog
	Startup       *startup.Manager
}

// SetupRoutes installs all endpoints on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadyCheck(deps.Startup))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/webhook/whatsapp", handlers.VerifyWebhook(deps.VerifyToken))
		v1.POST("/webhook/whatsapp", handlers.HandleWebhook(deps.Webhook))

		// Operator surface; deploy behind the internal network boundary.
		admin := v1.Group("/admin")
		{
			admin.GET("/breakers", handlers.ListBreakers(deps.Breakers))
			admin.GET("/conversations/:identity", handlers.GetConversation(deps.Conversations))
			admin.GET("/audit", handlers.ListAudit(deps.Audit))
			admin.GET("/startup", handlers.ListStartup(deps.Startup))
		}
	}
}
