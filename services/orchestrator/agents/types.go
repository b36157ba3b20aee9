// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agents holds the LLM-backed stages of the math pipeline: Parse,
// Route, Solve, Verify and Explain, plus the solution validator used when
// students submit corrections.
//
// Every agent takes an llm.LLMClient. Agents recover from malformed model
// output locally (fallback values) but always return llm.ErrRateLimited
// errors so the pipeline can short-circuit.
package agents

import (
	"context"

	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
)

// Intent is the Router's classification of a query.
type Intent string

const (
	IntentSolve   Intent = "solve"
	IntentSearch  Intent = "search"
	IntentGeneral Intent = "general"
)

// Modalities accepted by the Parser.
const (
	ModalityText  = "text"
	ModalityImage = "image"
	ModalityAudio = "audio"
)

// Step is one unit of a solution in the canonical shape. Expression is empty
// when the step carries no standalone formula.
type Step struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Expression string `json:"expression,omitempty"`
}

// StructuredProblem is the Parser's view of a query.
type StructuredProblem struct {
	OriginalText          string   `json:"original_text"`
	CleanedText           string   `json:"cleaned_text"`
	Topic                 string   `json:"topic"`
	Subtopic              string   `json:"subtopic,omitempty"`
	ProblemType           string   `json:"problem_type,omitempty"`
	Variables             []string `json:"variables"`
	Constraints           []string `json:"constraints"`
	NeedsClarification    bool     `json:"needs_clarification"`
	ClarificationQuestion string   `json:"clarification_question,omitempty"`
}

// Verification is the critique of a proposed solution.
type Verification struct {
	IsCorrect            bool   `json:"is_correct"`
	Critique             string `json:"critique"`
	CorrectionSuggestion string `json:"correction_suggestion,omitempty"`
}

// Solution is the Solver's output.
type Solution struct {
	Steps  []Step
	Answer string
}

// SolveInput is everything the Solver sees for one attempt.
type SolveInput struct {
	Problem  string
	Contexts []knowledge.RetrievalContext
	// Critique is the previous attempt's verifier critique, empty on the
	// first attempt.
	Critique string
}

// =============================================================================
// Stage interfaces
// =============================================================================

// Parser normalizes a raw query into a StructuredProblem.
type Parser interface {
	Parse(ctx context.Context, query, modality string) (StructuredProblem, error)
}

// Router classifies a cleaned problem into an Intent.
type Router interface {
	Route(ctx context.Context, text string) (Intent, error)
}

// Solver produces steps and an answer.
type Solver interface {
	Solve(ctx context.Context, in SolveInput) (Solution, error)
}

// Verifier judges a proposed solution. Implementations fail open.
type Verifier interface {
	Verify(ctx context.Context, question, answer string, steps []Step) (Verification, error)
}

// Explainer rewrites a technical solution for a student.
type Explainer interface {
	Explain(ctx context.Context, question, answer string, steps []Step) (string, error)
}
