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

// Solution upload types accepted with negative feedback.
const (
	SolutionTypeText  = "text"
	SolutionTypePDF   = "pdf"
	SolutionTypeImage = "image"
)

// FeedbackMetadata is the student's rating of one answer.
//
// ThumbsUp is always present. The remaining fields are only meaningful for a
// thumbs-down, where the student may upload a better solution.
type FeedbackMetadata struct {
	ThumbsUp                  bool   `json:"thumbs_up"`
	PrimaryIssue              string `json:"primary_issue,omitempty" validate:"omitempty,oneof=wrong-answer unclear missing-steps wrong-method"`
	HasBetterSolution         bool   `json:"has_better_solution"`
	SolutionType              string `json:"solution_type,omitempty" validate:"omitempty,oneof=text pdf image"`
	BetterSolutionText        string `json:"better_solution_text,omitempty" validate:"maxbytes=media"`
	BetterSolutionPDFBase64   string `json:"better_solution_pdf_base64,omitempty" validate:"maxbytes=media"`
	BetterSolutionImageBase64 string `json:"better_solution_image_base64,omitempty" validate:"maxbytes=media"`
}

// FeedbackRequest is the body of POST /api/feedback.
type FeedbackRequest struct {
	MessageID     string           `json:"message_id" validate:"required,max=128"`
	Query         string           `json:"query" validate:"required,maxbytes"`
	AgentResponse AgentResponse    `json:"agent_response"`
	Feedback      FeedbackMetadata `json:"feedback"`
}

// Validate runs the struct tag validation.
func (r *FeedbackRequest) Validate() error {
	return chatValidate.Struct(r)
}

// WantsKnowledgeUpdate reports whether the feedback carries a correction
// that should be validated and added to the knowledge store.
func (r *FeedbackRequest) WantsKnowledgeUpdate() bool {
	return !r.Feedback.ThumbsUp && r.Feedback.HasBetterSolution
}

// FeedbackResponse is returned by POST /api/feedback. KBUpdated is only set
// when a knowledge update was attempted.
type FeedbackResponse struct {
	Status        string `json:"status"`
	FeedbackSaved bool   `json:"feedback_saved"`
	KBUpdated     *bool  `json:"kb_updated,omitempty"`
}
