// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the orchestrator's gin handlers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/MathMentor/services/orchestrator/agents"
	"github.com/AleutianAI/MathMentor/services/orchestrator/datatypes"
	"github.com/AleutianAI/MathMentor/services/orchestrator/pipeline"
	"github.com/AleutianAI/MathMentor/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var handlerTracer = otel.Tracer("aleutian.orchestrator.handlers")

// UnexpectedErrorDetail is the 500 body detail for pipeline failures.
const UnexpectedErrorDetail = "Unexpected error handling query"

// ChatRunner runs one chat turn through the pipeline.
type ChatRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// MediaReaders turns image and audio payloads into text. Either field may be
// nil, in which case that modality is rejected.
type MediaReaders struct {
	Images agents.ImageReader
	Audio  agents.Transcriber
}

// ChatResponse is the /api/chat response body.
type ChatResponse struct {
	*pipeline.Result
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

var errModalityUnavailable = errors.New("modality not supported by this deployment")

// HandleChat answers POST /api/chat.
//
// # Description
//
// Validates the request, converts image or audio input to a text query, and
// runs the pipeline. A policy violation is a 400 with the violation message
// as detail. Any other pipeline error is a 500 with a fixed detail. When
// session_id is set and a history store is configured, the question and
// answer are appended to that session.
//
// # Inputs
//
//   - runner: The pipeline.
//   - media: Image and audio readers.
//   - sessions: Optional chat history. May be nil.
func HandleChat(runner ChatRunner, media MediaReaders, sessions HistoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("Failed to parse the chat request", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: "invalid request body", Code: "invalid_request"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: err.Error(), Code: "invalid_request"})
			return
		}
		span.SetAttributes(
			attribute.String("chat.modality", req.Modality),
			attribute.String("chat.conversation_id", req.ConversationID),
		)

		query, err := queryText(ctx, &req, media)
		if err != nil {
			span.RecordError(err)
			slog.Warn("Failed to read chat media", "modality", req.Modality, "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: err.Error(), Code: "invalid_media"})
			return
		}

		result, err := runner.Run(ctx, pipeline.Request{
			ConversationID: req.ConversationID,
			Query:          query,
			Modality:       req.Modality,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			var pv *policy_engine.PolicyViolationError
			if errors.As(err, &pv) {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: pv.Message, Code: pv.Code})
				return
			}
			slog.Error("Pipeline failed", "conversationId", req.ConversationID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Detail: UnexpectedErrorDetail, Code: "internal_error"})
			return
		}

		resp := ChatResponse{Result: result, MessageID: uuid.NewString(), ConversationID: req.ConversationID}
		if req.SessionID != "" && sessions != nil {
			recordTurn(ctx, sessions, req.SessionID, query, resp)
		}
		c.JSON(http.StatusOK, resp)
	}
}

// queryText returns the text query for req, reading image or audio when the
// modality calls for it.
func queryText(ctx context.Context, req *datatypes.ChatRequest, media MediaReaders) (string, error) {
	switch req.Modality {
	case agents.ModalityImage:
		if media.Images == nil {
			return "", fmt.Errorf("image input: %w", errModalityUnavailable)
		}
		data, mimeType, err := agents.DecodeMedia(req.ImageBase64, "image/png")
		if err != nil {
			return "", err
		}
		text, err := media.Images.ReadImage(ctx, data, mimeType, "")
		if err != nil {
			return "", err
		}
		return joinQuery(req.Query, text), nil
	case agents.ModalityAudio:
		if media.Audio == nil {
			return "", fmt.Errorf("audio input: %w", errModalityUnavailable)
		}
		data, mimeType, err := agents.DecodeMedia(req.AudioBase64, "audio/webm")
		if err != nil {
			return "", err
		}
		text, err := media.Audio.Transcribe(ctx, data, mimeType)
		if err != nil {
			return "", err
		}
		return joinQuery(req.Query, text), nil
	default:
		return req.Query, nil
	}
}

// joinQuery prefers the extracted text and keeps any typed note after it.
func joinQuery(typed, extracted string) string {
	typed = strings.TrimSpace(typed)
	extracted = strings.TrimSpace(extracted)
	switch {
	case typed == "":
		return extracted
	case extracted == "":
		return typed
	default:
		return extracted + "\n\n" + typed
	}
}

func recordTurn(ctx context.Context, sessions HistoryStore, sessionID, question string, resp ChatResponse) {
	if _, err := sessions.AddMessage(ctx, sessionID, datatypes.AddMessageRequest{Role: "user", Content: question}); err != nil {
		slog.Warn("Failed to record question in history", "sessionId", sessionID, "error", err)
		return
	}
	meta := map[string]interface{}{
		"message_id": resp.MessageID,
		"source":     resp.Source,
	}
	if _, err := sessions.AddMessage(ctx, sessionID, datatypes.AddMessageRequest{
		Role:     "assistant",
		Content:  resp.Answer,
		Metadata: meta,
	}); err != nil {
		slog.Warn("Failed to record answer in history", "sessionId", sessionID, "error", err)
	}
}
