// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire types of the MathMentor HTTP API and the
// Weaviate schema of the knowledge class. It has no dependencies on other
// orchestrator packages.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQueryBytes bounds a typed question.
	MaxQueryBytes = 8 * 1024

	// MaxMediaBytes bounds a base64 image or audio payload (about 7.5MB decoded).
	MaxMediaBytes = 10 * 1024 * 1024
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count). The bare tag uses
// MaxQueryBytes; `maxbytes=media` uses MaxMediaBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	limit := MaxQueryBytes
	if p := fl.Param(); p == "media" {
		limit = MaxMediaBytes
	}
	return len(fl.Field().String()) <= limit
}

// =============================================================================
// Chat
// =============================================================================

// ChatRequest is the body of POST /api/chat.
//
// # Fields
//
//   - Query: The typed question, or a confirmation ("yes") after a
//     clarification prompt. May be empty for image/audio input.
//   - Modality: "text" (default), "image" or "audio".
//   - ImageBase64, AudioBase64: Media payloads, optionally data-URL prefixed.
//   - ConversationID: Scopes the clarification slot. Defaults to SessionID,
//     else a fresh id that is echoed back in the response.
//   - SessionID: Optional chat history session the exchange is appended to.
type ChatRequest struct {
	Query          string `json:"query" validate:"required_without_all=ImageBase64 AudioBase64,maxbytes"`
	Modality       string `json:"modality" validate:"omitempty,oneof=text image audio"`
	ImageBase64    string `json:"image_base64,omitempty" validate:"required_if=Modality image,maxbytes=media"`
	AudioBase64    string `json:"audio_base64,omitempty" validate:"required_if=Modality audio,maxbytes=media"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,max=128"`
	SessionID      string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// Validate runs the struct tag validation.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults fills Modality and ConversationID. Anonymous requests get
// their own conversation so that clarification slots are never shared.
func (r *ChatRequest) EnsureDefaults() {
	r.Modality = strings.ToLower(strings.TrimSpace(r.Modality))
	if r.Modality == "" {
		r.Modality = "text"
	}
	if strings.TrimSpace(r.ConversationID) == "" {
		r.ConversationID = r.SessionID
	}
	if strings.TrimSpace(r.ConversationID) == "" {
		r.ConversationID = uuid.NewString()
	}
}

// Step is one solution step in a response.
type Step struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Expression string `json:"expression,omitempty"`
}

// Citation is a web source used for the answer.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// RetrievalContext is a knowledge or web hit shown with the answer.
type RetrievalContext struct {
	DocumentID string  `json:"document_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Similarity float64 `json:"similarity"`
}

// AgentResponse is the body returned by POST /api/chat.
type AgentResponse struct {
	Answer           string             `json:"answer"`
	Steps            []Step             `json:"steps"`
	RetrievedFromKB  bool               `json:"retrieved_from_kb"`
	KnowledgeHits    []RetrievalContext `json:"knowledge_hits"`
	Citations        []Citation         `json:"citations"`
	Source           string             `json:"source"`
	FeedbackRequired bool               `json:"feedback_required"`
	GatewayTrace     []string           `json:"gateway_trace"`
	MessageID        string             `json:"message_id,omitempty"`
}

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}
