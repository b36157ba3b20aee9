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

	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
	"github.com/gin-gonic/gin"
)

// KnowledgeReloader rebuilds the knowledge store connection.
type KnowledgeReloader interface {
	Reload(ctx context.Context) knowledge.Store
}

// HandleReload answers GET /api/vector-store/reload.
func HandleReload(reloader KnowledgeReloader) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := reloader.Reload(c.Request.Context())
		available := !knowledge.IsNull(store)
		slog.Info("Knowledge store reloaded", "available", available)
		c.JSON(http.StatusOK, gin.H{"status": "reloaded", "knowledge_base": available})
	}
}

// HealthInfo reports the state shown by /health.
type HealthInfo struct {
	LLMBackend    string   `json:"llm_backend"`
	KnowledgeBase bool     `json:"knowledge_base"`
	WebProviders  []string `json:"web_providers"`
}

// HandleHealth answers GET /health. info is called per request.
func HandleHealth(info func(ctx context.Context) HealthInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "healthy"}
		if info != nil {
			h := info(c.Request.Context())
			if h.WebProviders == nil {
				h.WebProviders = []string{}
			}
			body["llm_backend"] = h.LLMBackend
			body["knowledge_base"] = h.KnowledgeBase
			body["web_providers"] = h.WebProviders
		}
		c.JSON(http.StatusOK, body)
	}
}
