// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Session is a stored chat conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryMessage is one stored turn of a session.
type HistoryMessage struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// CreateSessionRequest is the body of POST /history/sessions.
type CreateSessionRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// AddMessageRequest is the body of POST /history/sessions/:id/messages.
type AddMessageRequest struct {
	Role     string                 `json:"role" validate:"required,oneof=user assistant"`
	Content  string                 `json:"content" validate:"required,maxbytes=media"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate runs the struct tag validation.
func (r *CreateSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// Validate runs the struct tag validation.
func (r *AddMessageRequest) Validate() error {
	return chatValidate.Struct(r)
}
