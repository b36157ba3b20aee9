// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"

	"github.com/AleutianAI/MathMentor/services/orchestrator/agents"
	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
	"github.com/AleutianAI/MathMentor/services/orchestrator/websearch"
)

// MaxRetries is the number of re-solves allowed after a failed
// verification. A run makes at most MaxRetries+1 Solve and Verify calls.
const MaxRetries = 1

// Gateway trace tags, one per transition.
const (
	TraceParser               = "parser_agent_pass"
	TraceGeneralChat          = "general_chat_pass"
	TraceRetrieval            = "retrieval_complete"
	TraceSolver               = "solver_pass"
	TraceRetriesExhausted     = "verification_retries_exhausted"
	TraceExplainer            = "explainer_pass"
	TraceClarificationRequest = "clarification_requested"
	TraceClarificationResumed = "clarification_resumed"
)

// TraceRouter returns the tag recorded after routing.
func TraceRouter(intent agents.Intent) string {
	return fmt.Sprintf("router_decision=%s", intent)
}

// TraceVerification returns the tag recorded after each verification.
func TraceVerification(passed bool) string {
	return fmt.Sprintf("verification_pass=%t", passed)
}

// Terminal sources that do not come from retrieval.
const (
	SourceSystemError = "system_error"
	SourceParserHITL  = "parser_hitl"
)

// OverloadMessage is returned to the student when a model rate-limits the run.
const OverloadMessage = "**System Overloaded (Rate Limit)**\n\nI'm receiving too many requests right now. Please wait 15-20 seconds and try again."

// Request is one inbound chat turn.
type Request struct {
	ConversationID string
	Query          string
	Modality       string
}

// State is owned by a single run and never shared.
type State struct {
	Query          string
	SanitizedQuery string
	Problem        agents.StructuredProblem
	Intent         agents.Intent

	KBHits        []knowledge.RetrievalContext
	WebHits       []knowledge.RetrievalContext
	KnowledgeHits []knowledge.RetrievalContext
	Citations     []websearch.Citation
	Source        string

	Steps      []agents.Step
	Answer     string
	IsCorrect  bool
	Critique   string
	RetryCount int

	GatewayTrace []string
}

func (s *State) trace(tag string) {
	s.GatewayTrace = append(s.GatewayTrace, tag)
}

// Result is what the transport returns to the student.
type Result struct {
	Answer           string                       `json:"answer"`
	Steps            []agents.Step                `json:"steps"`
	RetrievedFromKB  bool                         `json:"retrieved_from_kb"`
	KnowledgeHits    []knowledge.RetrievalContext `json:"knowledge_hits"`
	Citations        []websearch.Citation         `json:"citations"`
	Source           string                       `json:"source"`
	GatewayTrace     []string                     `json:"gateway_trace"`
	FeedbackRequired bool                         `json:"feedback_required"`

	// Intent, Verified and RetryCount are not part of the response body.
	Intent     agents.Intent `json:"-"`
	Verified   bool          `json:"-"`
	RetryCount int           `json:"-"`
}
