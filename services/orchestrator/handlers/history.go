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
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/MathMentor/services/orchestrator/datatypes"
	"github.com/AleutianAI/MathMentor/services/orchestrator/history"
	"github.com/gin-gonic/gin"
)

// HistoryStore is the chat history backend.
type HistoryStore interface {
	CreateSession(ctx context.Context, title string) (datatypes.Session, error)
	GetSession(ctx context.Context, id string) (datatypes.Session, error)
	ListSessions(ctx context.Context) ([]datatypes.Session, error)
	RenameSession(ctx context.Context, id, title string) (datatypes.Session, error)
	DeleteSession(ctx context.Context, id string) error
	AddMessage(ctx context.Context, sessionID string, req datatypes.AddMessageRequest) (datatypes.HistoryMessage, error)
	Messages(ctx context.Context, sessionID string) ([]datatypes.HistoryMessage, error)
}

func historyError(c *gin.Context, err error) {
	if errors.Is(err, history.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Detail: "session not found", Code: "not_found"})
		return
	}
	slog.Error("History operation failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Detail: "history operation failed", Code: "internal_error"})
}

// ListSessions answers GET /history/sessions.
func ListSessions(store HistoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := store.ListSessions(c.Request.Context())
		if err != nil {
			historyError(c, err)
			return
		}
		c.JSON(http.StatusOK, sessions)
	}
}

// CreateSession answers POST /history/sessions. An empty body is allowed.
func CreateSession(store HistoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: "invalid request body", Code: "invalid_request"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: err.Error(), Code: "invalid_request"})
			return
		}
		sess, err := store.CreateSession(c.Request.Context(), req.Title)
		if err != nil {
			historyError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	}
}

// RenameSession answers PATCH /history/sessions/:sessionId.
func RenameSession(store HistoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: "invalid request body", Code: "invalid_request"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: err.Error(), Code: "invalid_request"})
			return
		}
		sess, err := store.RenameSession(c.Request.Context(), c.Param("sessionId"), req.Title)
		if err != nil {
			historyError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// DeleteSession answers DELETE /history/sessions/:sessionId.
func DeleteSession(store HistoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if err := store.DeleteSession(c.Request.Context(), id); err != nil {
			historyError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": id})
	}
}

// ListMessages answers GET /history/sessions/:sessionId/messages.
func ListMessages(store HistoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := store.Messages(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			historyError(c, err)
			return
		}
		c.JSON(http.StatusOK, msgs)
	}
}

// AddMessage answers POST /history/sessions/:sessionId/messages.
func AddMessage(store HistoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AddMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: "invalid request body", Code: "invalid_request"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: err.Error(), Code: "invalid_request"})
			return
		}
		msg, err := store.AddMessage(c.Request.Context(), c.Param("sessionId"), req)
		if err != nil {
			historyError(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	}
}

var _ HistoryStore = (*history.Store)(nil)
