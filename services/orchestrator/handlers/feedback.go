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
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/MathMentor/services/orchestrator/agents"
	"github.com/AleutianAI/MathMentor/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
)

const solutionImagePrompt = "Extract the complete worked solution from this image, including every step. Return only the text."

// FeedbackStore persists feedback records.
type FeedbackStore interface {
	Save(ctx context.Context, req datatypes.FeedbackRequest) (string, error)
	MarkKBUpdated(ctx context.Context, id string, updated bool) error
}

// KnowledgeUpdater validates and stores a better solution.
type KnowledgeUpdater interface {
	Update(ctx context.Context, question, solution string) (bool, error)
}

// HandleFeedback answers POST /api/feedback.
//
// # Description
//
// Every valid submission is saved. Negative feedback carrying a better
// solution is also offered to the knowledge updater; the response then
// reports kb_updated. An update failure is logged and reported as false.
//
// # Inputs
//
//   - store: Feedback queue.
//   - updater: Knowledge updater. May be nil to disable updates.
//   - images: Reads image solutions. May be nil.
func HandleFeedback(store FeedbackStore, updater KnowledgeUpdater, images agents.ImageReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleFeedback")
		defer span.End()

		var req datatypes.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: "invalid request body", Code: "invalid_request"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: err.Error(), Code: "invalid_request"})
			return
		}

		id, err := store.Save(ctx, req)
		if err != nil {
			span.RecordError(err)
			slog.Error("Failed to save feedback", "messageId", req.MessageID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Detail: "failed to save feedback", Code: "internal_error"})
			return
		}

		resp := datatypes.FeedbackResponse{Status: "success", FeedbackSaved: true}
		if req.WantsKnowledgeUpdate() && updater != nil {
			updated := applyKnowledgeUpdate(ctx, updater, images, req)
			resp.KBUpdated = &updated
			if err := store.MarkKBUpdated(ctx, id, updated); err != nil {
				slog.Warn("Failed to record knowledge update outcome", "feedbackId", id, "error", err)
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func applyKnowledgeUpdate(ctx context.Context, updater KnowledgeUpdater, images agents.ImageReader, req datatypes.FeedbackRequest) bool {
	solution, err := betterSolution(ctx, images, req.Feedback)
	if err != nil {
		slog.Warn("Failed to read submitted solution", "messageId", req.MessageID, "error", err)
		return false
	}
	if solution == "" {
		return false
	}
	updated, err := updater.Update(ctx, req.Query, solution)
	if err != nil {
		slog.Error("Knowledge update failed", "messageId", req.MessageID, "error", err)
		return false
	}
	slog.Info("Knowledge update processed", "messageId", req.MessageID, "kbUpdated", updated)
	return updated
}

// betterSolution returns the submitted solution as text. PDF solutions are
// extracted client side and arrive in the text field.
func betterSolution(ctx context.Context, images agents.ImageReader, fb datatypes.FeedbackMetadata) (string, error) {
	switch fb.SolutionType {
	case datatypes.SolutionTypeImage:
		if images == nil {
			return "", fmt.Errorf("image solution: %w", errModalityUnavailable)
		}
		data, mimeType, err := agents.DecodeMedia(fb.BetterSolutionImageBase64, "image/png")
		if err != nil {
			return "", err
		}
		return images.ReadImage(ctx, data, mimeType, solutionImagePrompt)
	default:
		return strings.TrimSpace(fb.BetterSolutionText), nil
	}
}
