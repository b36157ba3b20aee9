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

// VerifierFailedCritique is the critique reported when verification itself
// could not run.
const VerifierFailedCritique = "Verifier failed to run."

// =============================================================================
// Verifier
// =============================================================================

// VerifierAgent is the LLM-backed Verifier.
type VerifierAgent struct {
	llm llm.LLMClient
}

func NewVerifierAgent(client llm.LLMClient) *VerifierAgent {
	return &VerifierAgent{llm: client}
}

// Verify asks the model to critique a solution. Any failure other than a
// rate limit fails open: IsCorrect=true with VerifierFailedCritique.
func (v *VerifierAgent) Verify(ctx context.Context, question, answer string, steps []Step) (Verification, error) {
	prompt := fmt.Sprintf(verifierPromptTemplate, question, stepsText(steps, "\n"), answer)
	raw, err := v.llm.Generate(ctx, prompt, llm.GenerationParams{Temperature: llm.Float32(0)})
	if err != nil {
		if llm.IsRateLimited(err) {
			return Verification{}, err
		}
		slog.Error("Verifier agent failed, failing open", "error", err)
		return Verification{IsCorrect: true, Critique: VerifierFailedCritique}, nil
	}

	var result Verification
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &result); err != nil {
		slog.Error("Verifier agent returned invalid JSON, failing open", "error", err)
		return Verification{IsCorrect: true, Critique: VerifierFailedCritique}, nil
	}
	return result, nil
}

// =============================================================================
// Explainer
// =============================================================================

// ExplainerAgent is the LLM-backed Explainer.
type ExplainerAgent struct {
	llm llm.LLMClient
}

func NewExplainerAgent(client llm.LLMClient) *ExplainerAgent {
	return &ExplainerAgent{llm: client}
}

// Explain rewrites the solution as student-facing markdown. On failure other
// than a rate limit the technical answer is returned unchanged.
func (e *ExplainerAgent) Explain(ctx context.Context, question, answer string, steps []Step) (string, error) {
	prompt := fmt.Sprintf(explainerPromptTemplate, question, stepsText(steps, "\n\n"), answer)
	raw, err := e.llm.Generate(ctx, prompt, llm.GenerationParams{Temperature: llm.Float32(0.4)})
	if err != nil {
		if llm.IsRateLimited(err) {
			return "", err
		}
		slog.Error("Explainer agent failed, returning raw solution", "error", err)
		return answer, nil
	}
	explained := strings.TrimSpace(raw)
	if explained == "" {
		return answer, nil
	}
	return explained, nil
}

// =============================================================================
// Solution validator
// =============================================================================

// SolutionValidator checks a student-submitted solution before it is added
// to the knowledge store.
type SolutionValidator struct {
	llm llm.LLMClient
}

func NewSolutionValidator(client llm.LLMClient) *SolutionValidator {
	return &SolutionValidator{llm: client}
}

// Validate reports whether the model answered VALID.
func (s *SolutionValidator) Validate(ctx context.Context, question, solution string) (bool, error) {
	raw, err := s.llm.Generate(ctx, fmt.Sprintf(validatorPromptTemplate, question, solution), llm.GenerationParams{
		Temperature: llm.Float32(0),
		MaxTokens:   llm.Int(8),
	})
	if err != nil {
		return false, fmt.Errorf("solution validation failed: %w", err)
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "valid"), nil
}
