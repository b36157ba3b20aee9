// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/MathMentor/services/llm"
)

// DefaultClarificationQuestion is used when the Parser asks for clarification
// without phrasing a question.
const DefaultClarificationQuestion = "I need to clarify your request. Is the text correct?"

// =============================================================================
// Parser
// =============================================================================

// ParserAgent is the LLM-backed Parser.
type ParserAgent struct {
	llm    llm.LLMClient
	params llm.GenerationParams
}

func NewParserAgent(client llm.LLMClient) *ParserAgent {
	return &ParserAgent{llm: client, params: llm.GenerationParams{Temperature: llm.Float32(0.1)}}
}

// Parse extracts a StructuredProblem from query.
//
// # Description
//
// The model is asked for a JSON object. A generation failure other than a
// rate limit, or an unparseable response, yields the fallback problem
// {OriginalText: query, CleanedText: query, Topic: "General"} without
// clarification. Image input always requests clarification because OCR text
// must be confirmed by the student before solving.
//
// # Outputs
//
//   - StructuredProblem: Never has an empty CleanedText.
//   - error: Only errors wrapping llm.ErrRateLimited.
func (p *ParserAgent) Parse(ctx context.Context, query, modality string) (StructuredProblem, error) {
	if modality == "" {
		modality = ModalityText
	}
	fallback := StructuredProblem{OriginalText: query, CleanedText: query, Topic: "General"}

	raw, err := p.llm.Generate(ctx, fmt.Sprintf(parserPromptTemplate, query, modality), p.params)
	if err != nil {
		if llm.IsRateLimited(err) {
			return StructuredProblem{}, err
		}
		slog.Error("Parser agent failed, using fallback", "error", err)
		return withModality(fallback, modality), nil
	}

	var problem StructuredProblem
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &problem); err != nil {
		slog.Warn("Parser agent returned invalid JSON, using fallback", "error", err)
		return withModality(fallback, modality), nil
	}
	if strings.TrimSpace(problem.CleanedText) == "" {
		problem.CleanedText = query
	}
	if problem.OriginalText == "" {
		problem.OriginalText = query
	}
	if problem.Topic == "" {
		problem.Topic = "General"
	}
	return withModality(problem, modality), nil
}

func withModality(p StructuredProblem, modality string) StructuredProblem {
	if modality == ModalityImage {
		p.NeedsClarification = true
	}
	if p.NeedsClarification && strings.TrimSpace(p.ClarificationQuestion) == "" {
		p.ClarificationQuestion = DefaultClarificationQuestion
	}
	return p
}

// =============================================================================
// Router
// =============================================================================

// RouterAgent is the LLM-backed Router.
type RouterAgent struct {
	llm llm.LLMClient
}

func NewRouterAgent(client llm.LLMClient) *RouterAgent {
	return &RouterAgent{llm: client}
}

// Route classifies text. The model's reply is matched by substring in the
// order solve, search; anything else is general. A failed call defaults to
// solve.
func (r *RouterAgent) Route(ctx context.Context, text string) (Intent, error) {
	raw, err := r.llm.Generate(ctx, fmt.Sprintf(routerPromptTemplate, text), llm.GenerationParams{
		Temperature: llm.Float32(0),
		MaxTokens:   llm.Int(16),
	})
	if err != nil {
		if llm.IsRateLimited(err) {
			return "", err
		}
		slog.Error("Router agent failed, defaulting to solve", "error", err)
		return IntentSolve, nil
	}
	return classifyIntent(raw), nil
}

func classifyIntent(raw string) Intent {
	category := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(category, string(IntentSolve)):
		return IntentSolve
	case strings.Contains(category, string(IntentSearch)):
		return IntentSearch
	default:
		return IntentGeneral
	}
}
