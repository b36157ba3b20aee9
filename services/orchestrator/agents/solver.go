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
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/MathMentor/services/llm"
)

// SolverAgent is the LLM-backed Solver. It is also used without context for
// the general chat branch.
type SolverAgent struct {
	llm    llm.LLMClient
	params llm.GenerationParams
}

func NewSolverAgent(client llm.LLMClient) *SolverAgent {
	return &SolverAgent{
		llm: client,
		params: llm.GenerationParams{
			Temperature: llm.Float32(0.3),
			TopP:        llm.Float32(0.95),
			MaxTokens:   llm.Int(8192),
		},
	}
}

// Solve generates a solution for in.Problem.
//
// # Description
//
// Retrieval contexts are appended to the prompt as JSON lines. A non-empty
// in.Critique is appended to the problem as corrective instructions. The
// response is normalized by parseSolution, so a malformed reply still
// produces steps and an "Answer: " prefixed answer.
//
// # Outputs
//
//   - Solution: Steps and answer.
//   - error: Any generation failure, unwrapped. The Solver has no fallback.
func (s *SolverAgent) Solve(ctx context.Context, in SolveInput) (Solution, error) {
	problem := WithCritique(in.Problem, in.Critique)
	if in.Critique != "" {
		slog.Info("Solver retrying with critique", "critique", in.Critique)
	}
	prompt := fmt.Sprintf(solverPromptTemplate, problem, contextSection(in.Contexts))

	raw, err := s.llm.Generate(ctx, prompt, s.params)
	if err != nil {
		return Solution{}, fmt.Errorf("solver generation failed: %w", err)
	}
	return parseSolution(raw), nil
}

// WithCritique appends a verifier critique to a problem statement.
func WithCritique(problem, critique string) string {
	if strings.TrimSpace(critique) == "" {
		return problem
	}
	return problem + fmt.Sprintf(critiqueTemplate, critique)
}
