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
	"strings"

	"github.com/AleutianAI/MathMentor/services/orchestrator/agents"
)

const (
	shortAnswerChars         = 50
	comprehensiveAnswerChars = 100
)

var conclusionWords = []string{"therefore", "answer", "result", "thus", "hence"}

// buildResult shapes a finished run for the student.
//
// # Description
//
// A short answer (under 50 characters) is usually just an overview, so it is
// replaced by the last step that reads like a conclusion, or the last step
// when none does. When the answer is already a comprehensive markdown
// explanation the technical steps are dropped from the response.
func buildResult(s *State) *Result {
	answer := s.Answer
	if len(strings.TrimSpace(answer)) < shortAnswerChars && len(s.Steps) > 0 {
		answer = conclusionFromSteps(s.Steps, answer)
	}

	steps := s.Steps
	if isComprehensive(answer) {
		steps = nil
	}
	if steps == nil {
		steps = []agents.Step{}
	}

	return &Result{
		Answer:           answer,
		Steps:            steps,
		RetrievedFromKB:  len(s.KBHits) > 0,
		KnowledgeHits:    nonNil(s.KnowledgeHits),
		Citations:        s.Citations,
		Source:           s.Source,
		GatewayTrace:     s.GatewayTrace,
		FeedbackRequired: true,
		Intent:           s.Intent,
		Verified:         s.IsCorrect,
		RetryCount:       s.RetryCount,
	}
}

func conclusionFromSteps(steps []agents.Step, answer string) string {
	var texts []string
	for _, st := range steps {
		if st.Content != "" {
			texts = append(texts, st.Content)
		}
	}
	if len(texts) == 0 {
		return answer
	}
	for i := len(texts) - 1; i >= 0; i-- {
		lower := strings.ToLower(texts[i])
		if containsAny(lower, conclusionWords) {
			answer = texts[i]
			break
		}
	}
	if len(strings.TrimSpace(answer)) < shortAnswerChars {
		answer = texts[len(texts)-1]
	}
	return answer
}

func isComprehensive(answer string) bool {
	return len(answer) > comprehensiveAnswerChars &&
		(strings.Contains(answer, "##") || strings.Contains(answer, "**Step"))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// clarificationResult asks the student to confirm the parsed text.
func clarificationResult(s *State) *Result {
	question := s.Problem.ClarificationQuestion
	if strings.TrimSpace(question) == "" {
		question = agents.DefaultClarificationQuestion
	}
	return &Result{
		Answer: question,
		Steps: []agents.Step{{
			Title: "Clarification Needed",
			Content: fmt.Sprintf("I extracted this text from your image:\n\n**%s**\n\nIs this correct? If not, please correct it below.",
				s.Problem.CleanedText),
		}},
		KnowledgeHits:    nonNil(s.KnowledgeHits),
		Source:           SourceParserHITL,
		GatewayTrace:     s.GatewayTrace,
		FeedbackRequired: true,
	}
}

// overloadResult is the terminal response for a rate-limited run.
func overloadResult(s *State) *Result {
	return &Result{
		Answer:           OverloadMessage,
		Steps:            []agents.Step{},
		KnowledgeHits:    nonNil(s.KnowledgeHits),
		Source:           SourceSystemError,
		GatewayTrace:     s.GatewayTrace,
		FeedbackRequired: true,
		Intent:           s.Intent,
		RetryCount:       s.RetryCount,
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
