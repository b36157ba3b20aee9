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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/MathMentor/services/orchestrator/agents"
	"github.com/AleutianAI/MathMentor/services/orchestrator/clarification"
	"github.com/AleutianAI/MathMentor/services/orchestrator/datatypes"
	"github.com/AleutianAI/MathMentor/services/orchestrator/feedback"
	"github.com/AleutianAI/MathMentor/services/orchestrator/history"
	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
	"github.com/AleutianAI/MathMentor/services/orchestrator/pipeline"
	"github.com/AleutianAI/MathMentor/services/orchestrator/storage/badgerdb"
	"github.com/AleutianAI/MathMentor/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test doubles
// =============================================================================

type runnerFunc func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	return f(ctx, req)
}

type fakeImageReader struct {
	text       string
	err        error
	lastPrompt string
	calls      int
}

func (f *fakeImageReader) ReadImage(_ context.Context, _ []byte, _ string, prompt string) (string, error) {
	f.calls++
	f.lastPrompt = prompt
	return f.text, f.err
}

type fakeTranscriber struct {
	text     string
	mimeType string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, mimeType string) (string, error) {
	f.mimeType = mimeType
	return f.text, nil
}

type fakeUpdater struct {
	updated  bool
	err      error
	question string
	solution string
	calls    int
}

func (f *fakeUpdater) Update(_ context.Context, question, solution string) (bool, error) {
	f.calls++
	f.question = question
	f.solution = solution
	return f.updated, f.err
}

type fakeReloader struct {
	store knowledge.Store
	calls int
}

func (f *fakeReloader) Reload(context.Context) knowledge.Store {
	f.calls++
	return f.store
}

func openDB(t *testing.T) *badgerdb.DB {
	t.Helper()
	db, err := badgerdb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func answered(answer string) *pipeline.Result {
	return &pipeline.Result{
		Answer:           answer,
		Steps:            []agents.Step{{Title: "Step 1", Content: "Subtract 3"}},
		KnowledgeHits:    []knowledge.RetrievalContext{},
		Source:           "llm",
		GatewayTrace:     []string{"parser_agent_pass"},
		FeedbackRequired: true,
	}
}

// =============================================================================
// Chat
// =============================================================================

func TestHandleChat_TextQuery(t *testing.T) {
	var got pipeline.Request
	runner := runnerFunc(func(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
		got = req
		return answered("Answer: x = 2"), nil
	})
	router := gin.New()
	router.POST("/api/chat", HandleChat(runner, MediaReaders{}, nil))

	w := doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{"query": "Solve 2x+3=7"})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "Solve 2x+3=7", got.Query)
	assert.Equal(t, agents.ModalityText, got.Modality)
	assert.NotEmpty(t, got.ConversationID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Answer: x = 2", body["answer"])
	assert.Equal(t, "llm", body["source"])
	assert.Equal(t, true, body["feedback_required"])
	assert.NotEmpty(t, body["message_id"])
	assert.Equal(t, got.ConversationID, body["conversation_id"])
	assert.NotContains(t, body, "Intent")
}

func TestHandleChat_Validation(t *testing.T) {
	runner := runnerFunc(func(context.Context, pipeline.Request) (*pipeline.Result, error) {
		t.Fatal("pipeline must not run")
		return nil, nil
	})
	router := gin.New()
	router.POST("/api/chat", HandleChat(runner, MediaReaders{}, nil))

	tests := []struct {
		name string
		body any
	}{
		{"empty query", map[string]string{"query": ""}},
		{"unknown modality", map[string]string{"query": "x", "modality": "video"}},
		{"image without payload", map[string]string{"query": "x", "modality": "image"}},
		{"not json", "not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleChat_AnonymousClientsDoNotShareClarification(t *testing.T) {
	gate := clarification.NewGate(clarification.NewMemoryStore(), time.Minute)
	var solved []string
	runner := runnerFunc(func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
		query, confirmed := gate.Resolve(ctx, req.ConversationID, req.Query)
		if !confirmed && req.Modality == agents.ModalityImage {
			if err := gate.Request(ctx, req.ConversationID, query); err != nil {
				return nil, err
			}
			return &pipeline.Result{Answer: "Did I read this correctly?", Source: pipeline.SourceParserHITL}, nil
		}
		solved = append(solved, query)
		return answered("Answer: " + query), nil
	})
	images := &fakeImageReader{text: "integrate x^2 from 0 to 1"}
	router := gin.New()
	router.POST("/api/chat", HandleChat(runner, MediaReaders{Images: images}, nil))

	w := doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{
		"modality":     "image",
		"image_base64": base64.StdEncoding.EncodeToString([]byte("worksheet")),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var first ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.NotEmpty(t, first.ConversationID)
	assert.Equal(t, pipeline.SourceParserHITL, first.Source)

	// A second client without ids confirms; it must not receive the pending problem.
	w = doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{"query": "yes"})
	require.Equal(t, http.StatusOK, w.Code)
	var other ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &other))
	assert.NotEqual(t, first.ConversationID, other.ConversationID)
	assert.Equal(t, []string{"yes"}, solved)

	// The first client confirms with the id it was given.
	w = doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{
		"query":           "yes",
		"conversation_id": first.ConversationID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"yes", "integrate x^2 from 0 to 1"}, solved)
}

func TestHandleChat_ImageAndAudio(t *testing.T) {
	var got pipeline.Request
	runner := runnerFunc(func(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
		got = req
		return answered("ok"), nil
	})
	images := &fakeImageReader{text: "Integrate x^2 dx"}
	audio := &fakeTranscriber{text: "what is two plus two"}
	router := gin.New()
	router.POST("/api/chat", HandleChat(runner, MediaReaders{Images: images, Audio: audio}, nil))

	payload := base64.StdEncoding.EncodeToString([]byte("fake-bytes"))

	w := doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{
		"modality":     "image",
		"image_base64": "data:image/jpeg;base64," + payload,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Integrate x^2 dx", got.Query)
	assert.Equal(t, agents.ModalityImage, got.Modality)

	w = doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{
		"modality":        "audio",
		"audio_base64":    payload,
		"conversation_id": "c-9",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "what is two plus two", got.Query)
	assert.Equal(t, "c-9", got.ConversationID)
	assert.Equal(t, "audio/webm", audio.mimeType)
}

func TestHandleChat_MediaUnavailable(t *testing.T) {
	runner := runnerFunc(func(context.Context, pipeline.Request) (*pipeline.Result, error) {
		return answered("ok"), nil
	})
	router := gin.New()
	router.POST("/api/chat", HandleChat(runner, MediaReaders{}, nil))

	w := doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{
		"modality":     "audio",
		"audio_base64": base64.StdEncoding.EncodeToString([]byte("x")),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_media")
}

func TestHandleChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "policy violation",
			err:        &policy_engine.PolicyViolationError{Code: "blocked_keyword", Message: "I can only help with mathematics-related educational questions."},
			wantStatus: http.StatusBadRequest,
			wantDetail: "I can only help with mathematics-related educational questions.",
		},
		{
			name:       "unexpected",
			err:        errors.New("pipeline failed: boom"),
			wantStatus: http.StatusInternalServerError,
			wantDetail: UnexpectedErrorDetail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := runnerFunc(func(context.Context, pipeline.Request) (*pipeline.Result, error) {
				return nil, tt.err
			})
			router := gin.New()
			router.POST("/api/chat", HandleChat(runner, MediaReaders{}, nil))

			w := doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{"query": "q"})
			assert.Equal(t, tt.wantStatus, w.Code)

			var body datatypes.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDetail, body.Detail)
		})
	}
}

func TestHandleChat_RecordsHistory(t *testing.T) {
	store := history.NewStore(openDB(t))
	sess, err := store.CreateSession(context.Background(), "")
	require.NoError(t, err)

	runner := runnerFunc(func(context.Context, pipeline.Request) (*pipeline.Result, error) {
		return answered("Answer: 4"), nil
	})
	router := gin.New()
	router.POST("/api/chat", HandleChat(runner, MediaReaders{}, store))

	w := doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{"query": "2+2", "session_id": sess.ID})
	require.Equal(t, http.StatusOK, w.Code)

	msgs, err := store.Messages(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "2+2", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "Answer: 4", msgs[1].Content)
	assert.Equal(t, "llm", msgs[1].Metadata["source"])
}

// =============================================================================
// Feedback
// =============================================================================

func feedbackBody(fb datatypes.FeedbackMetadata) datatypes.FeedbackRequest {
	return datatypes.FeedbackRequest{
		MessageID:     "m-1",
		Query:         "Solve 2x+3=7",
		AgentResponse: datatypes.AgentResponse{Answer: "x = 3"},
		Feedback:      fb,
	}
}

func TestHandleFeedback_PositiveIsSavedOnly(t *testing.T) {
	queue := feedback.NewQueue(openDB(t))
	updater := &fakeUpdater{}
	router := gin.New()
	router.POST("/api/feedback", HandleFeedback(queue, updater, nil))

	w := doJSON(t, router, http.MethodPost, "/api/feedback", feedbackBody(datatypes.FeedbackMetadata{ThumbsUp: true}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, true, resp["feedback_saved"])
	assert.NotContains(t, resp, "kb_updated")
	assert.Zero(t, updater.calls)

	records, err := queue.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m-1", records[0].Request.MessageID)
}

func TestHandleFeedback_TextSolutionUpdatesKnowledge(t *testing.T) {
	queue := feedback.NewQueue(openDB(t))
	updater := &fakeUpdater{updated: true}
	router := gin.New()
	router.POST("/api/feedback", HandleFeedback(queue, updater, nil))

	w := doJSON(t, router, http.MethodPost, "/api/feedback", feedbackBody(datatypes.FeedbackMetadata{
		PrimaryIssue:       "wrong-answer",
		HasBetterSolution:  true,
		SolutionType:       datatypes.SolutionTypeText,
		BetterSolutionText: "  2x = 4, so x = 2  ",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.FeedbackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.KBUpdated)
	assert.True(t, *resp.KBUpdated)
	assert.Equal(t, "Solve 2x+3=7", updater.question)
	assert.Equal(t, "2x = 4, so x = 2", updater.solution)

	records, err := queue.List(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, records[0].KBUpdated)
	assert.True(t, *records[0].KBUpdated)
}

func TestHandleFeedback_ImageSolutionUsesOCR(t *testing.T) {
	queue := feedback.NewQueue(openDB(t))
	updater := &fakeUpdater{updated: true}
	images := &fakeImageReader{text: "x = 2 because 2x = 4"}
	router := gin.New()
	router.POST("/api/feedback", HandleFeedback(queue, updater, images))

	w := doJSON(t, router, http.MethodPost, "/api/feedback", feedbackBody(datatypes.FeedbackMetadata{
		HasBetterSolution:         true,
		SolutionType:              datatypes.SolutionTypeImage,
		BetterSolutionImageBase64: base64.StdEncoding.EncodeToString([]byte("png")),
	}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, images.calls)
	assert.Equal(t, solutionImagePrompt, images.lastPrompt)
	assert.Equal(t, "x = 2 because 2x = 4", updater.solution)
}

func TestHandleFeedback_UpdateFailureReportsFalse(t *testing.T) {
	queue := feedback.NewQueue(openDB(t))
	updater := &fakeUpdater{err: errors.New("weaviate down")}
	router := gin.New()
	router.POST("/api/feedback", HandleFeedback(queue, updater, nil))

	w := doJSON(t, router, http.MethodPost, "/api/feedback", feedbackBody(datatypes.FeedbackMetadata{
		HasBetterSolution:  true,
		SolutionType:       datatypes.SolutionTypeText,
		BetterSolutionText: "x = 2",
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.FeedbackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.FeedbackSaved)
	require.NotNil(t, resp.KBUpdated)
	assert.False(t, *resp.KBUpdated)
}

func TestHandleFeedback_Invalid(t *testing.T) {
	router := gin.New()
	router.POST("/api/feedback", HandleFeedback(feedback.NewQueue(openDB(t)), nil, nil))

	w := doJSON(t, router, http.MethodPost, "/api/feedback", map[string]any{"query": "q"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Knowledge and health
// =============================================================================

func TestHandleReload(t *testing.T) {
	reloader := &fakeReloader{store: knowledge.NullStore{}}
	router := gin.New()
	router.GET("/api/vector-store/reload", HandleReload(reloader))

	w := doJSON(t, router, http.MethodGet, "/api/vector-store/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, reloader.calls)
	assert.JSONEq(t, `{"status":"reloaded","knowledge_base":false}`, w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	router := gin.New()
	router.GET("/health", HandleHealth(func(context.Context) HealthInfo {
		return HealthInfo{LLMBackend: "gemini", KnowledgeBase: true}
	}))

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","llm_backend":"gemini","knowledge_base":true,"web_providers":[]}`, w.Body.String())
}

// =============================================================================
// History
// =============================================================================

func historyRouter(t *testing.T) *gin.Engine {
	store := history.NewStore(openDB(t))
	router := gin.New()
	g := router.Group("/history/sessions")
	g.GET("", ListSessions(store))
	g.POST("", CreateSession(store))
	g.PATCH("/:sessionId", RenameSession(store))
	g.DELETE("/:sessionId", DeleteSession(store))
	g.GET("/:sessionId/messages", ListMessages(store))
	g.POST("/:sessionId/messages", AddMessage(store))
	return router
}

func TestHistoryHandlers_Lifecycle(t *testing.T) {
	router := historyRouter(t)

	w := doJSON(t, router, http.MethodPost, "/history/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, history.DefaultTitle, sess.Title)

	w = doJSON(t, router, http.MethodPost, "/history/sessions/"+sess.ID+"/messages",
		datatypes.AddMessageRequest{Role: "user", Content: "Solve 2x+3=7"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPatch, "/history/sessions/"+sess.ID, map[string]string{"title": "Linear equations"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/history/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "Linear equations", sessions[0].Title)

	w = doJSON(t, router, http.MethodGet, "/history/sessions/"+sess.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []datatypes.HistoryMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)

	w = doJSON(t, router, http.MethodDelete, "/history/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/history/sessions/"+sess.ID+"/messages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryHandlers_BadRequests(t *testing.T) {
	router := historyRouter(t)

	w := doJSON(t, router, http.MethodPost, "/history/sessions/missing/messages",
		datatypes.AddMessageRequest{Role: "system", Content: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/history/sessions/missing/messages",
		datatypes.AddMessageRequest{Role: "user", Content: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/history/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
