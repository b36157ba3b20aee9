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
	"context"

	"github.com/AleutianAI/MathMentor/services/orchestrator/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the collaborators the HTTP surface needs. Chat is
// required; a nil Feedback, Knowledge or History leaves its routes
// unregistered.
type Dependencies struct {
	Chat      handlers.ChatRunner
	Media     handlers.MediaReaders
	Feedback  handlers.FeedbackStore
	Updater   handlers.KnowledgeUpdater
	Knowledge handlers.KnowledgeReloader
	History   handlers.HistoryStore
	Health    func(ctx context.Context) handlers.HealthInfo
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HandleHealth(deps.Health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/chat", handlers.HandleChat(deps.Chat, deps.Media, deps.History))
		if deps.Feedback != nil {
			api.POST("/feedback", handlers.HandleFeedback(deps.Feedback, deps.Updater, deps.Media.Images))
		}
		if deps.Knowledge != nil {
			api.GET("/vector-store/reload", handlers.HandleReload(deps.Knowledge))
		}
	}

	if deps.History != nil {
		sessions := router.Group("/history/sessions")
		{
			sessions.GET("", handlers.ListSessions(deps.History))
			sessions.POST("", handlers.CreateSession(deps.History))
			sessions.PATCH("/:sessionId", handlers.RenameSession(deps.History))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(deps.History))
			sessions.GET("/:sessionId/messages", handlers.ListMessages(deps.History))
			sessions.POST("/:sessionId/messages", handlers.AddMessage(deps.History))
		}
	}
}
