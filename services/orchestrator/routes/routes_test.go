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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/MathMentor/services/orchestrator/feedback"
	"github.com/AleutianAI/MathMentor/services/orchestrator/history"
	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
	"github.com/AleutianAI/MathMentor/services/orchestrator/pipeline"
	"github.com/AleutianAI/MathMentor/services/orchestrator/storage/badgerdb"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct{}

func (stubRunner) Run(context.Context, pipeline.Request) (*pipeline.Result, error) {
	return &pipeline.Result{Answer: "ok"}, nil
}

type stubReloader struct{}

func (stubReloader) Reload(context.Context) knowledge.Store { return knowledge.NullStore{} }

func hasRoute(router *gin.Engine, method, path string) bool {
	for _, r := range router.Routes() {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_Minimal(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{Chat: stubRunner{}})

	assert.True(t, hasRoute(router, http.MethodGet, "/health"))
	assert.True(t, hasRoute(router, http.MethodGet, "/metrics"))
	assert.True(t, hasRoute(router, http.MethodPost, "/api/chat"))

	assert.False(t, hasRoute(router, http.MethodPost, "/api/feedback"))
	assert.False(t, hasRoute(router, http.MethodGet, "/api/vector-store/reload"))
	assert.False(t, hasRoute(router, http.MethodGet, "/history/sessions"))
}

func TestSetupRoutes_Full(t *testing.T) {
	db, err := badgerdb.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	router := gin.New()
	SetupRoutes(router, Dependencies{
		Chat:      stubRunner{},
		Feedback:  feedback.NewQueue(db),
		Knowledge: stubReloader{},
		History:   history.NewStore(db),
	})

	expected := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/feedback"},
		{http.MethodGet, "/api/vector-store/reload"},
		{http.MethodGet, "/history/sessions"},
		{http.MethodPost, "/history/sessions"},
		{http.MethodPatch, "/history/sessions/:sessionId"},
		{http.MethodDelete, "/history/sessions/:sessionId"},
		{http.MethodGet, "/history/sessions/:sessionId/messages"},
		{http.MethodPost, "/history/sessions/:sessionId/messages"},
	}
	for _, e := range expected {
		assert.True(t, hasRoute(router, e.method, e.path), "missing %s %s", e.method, e.path)
	}
}

func TestSetupRoutes_MetricsServesPrometheus(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{Chat: stubRunner{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
