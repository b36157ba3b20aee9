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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
)

const parserPromptTemplate = `You are an expert Math Problem Parser.
Take a raw input (typed text, OCR output or a speech transcript) and extract the structured math problem.

INPUT:
%q

MODALITY: %s

INSTRUCTIONS:
1. Fix obvious OCR/ASR errors ('1' vs 'l', '0' vs 'O', 'sqrt' vs 'squirt').
2. Extract the core math topic (Algebra, Calculus, ...).
3. Identify variables and constraints.
4. If MODALITY is "image", set "needs_clarification" to true so the user can verify the text.
5. If the input is too ambiguous or nonsensical, set "needs_clarification" to true.

OUTPUT JSON SCHEMA:
{
  "original_text": "the input as given",
  "cleaned_text": "the fixed and clear math problem statement",
  "topic": "broad topic",
  "subtopic": "specific subtopic",
  "problem_type": "word_problem | calculation | proof | conceptual",
  "variables": ["x"],
  "constraints": ["x > 0"],
  "needs_clarification": false,
  "clarification_question": "Please verify: is this the correct problem?"
}

Return ONLY valid JSON.`

const routerPromptTemplate = `You are an Intent Router.
Classify the user query into one of three categories:

1. "solve": a specific math problem that needs distinct solving steps.
2. "search": a request for factual knowledge, definitions, history or formulas.
3. "general": chit-chat, greetings, or non-math non-search queries.

QUERY: %q

Return ONLY the category name (lowercase).`

const solverPromptTemplate = `You are an expert mathematics tutor across all math domains. Provide clear, human-friendly solutions.

REQUIREMENTS:
1. Solve the ENTIRE problem; show every algebraic manipulation.
2. If there are multiple parts, answer all of them, labeled (a), (b), ...
3. Avoid LaTeX markers like $...$ or \frac{}{}; prefer simple unicode math (1/2, ·, ×, →).
4. State units or interpretation when relevant.

OUTPUT JSON SCHEMA:
{
  "steps": [{"title": "short title", "explanation": "what is done and why", "expression": "the formula for this step"}],
  "final_answer": "the final value or statement"
}

Return ONLY valid JSON.

STUDENT'S QUESTION:
%s%s

NOW SOLVE THIS PROBLEM COMPLETELY.`

const critiqueTemplate = "\n\nIMPORTANT: Previous attempt was incorrect. Critique: %s\nPlease fix this in the new solution."

const verifierPromptTemplate = `You are an expert Math Verifier.
Check the proposed solution for correctness, logical flow and unit consistency.

ORIGINAL QUESTION:
%q

PROPOSED SOLUTION STEPS:
%s

FINAL ANSWER:
%q

INSTRUCTIONS:
1. Verify that the final answer follows from the steps.
2. Check that every part of the question was answered.
3. Check for hallucinated facts or unit errors.
4. Minor formatting issues are fine; logical errors are not.

OUTPUT JSON SCHEMA:
{
  "is_correct": true,
  "critique": "brief explanation of what is wrong, if anything",
  "correction_suggestion": "what should be fixed"
}

Return ONLY valid JSON.`

const explainerPromptTemplate = `You are an Expert Math Tutor.
Explain the technical solution below to a student, clearly and kindly.

STUDENT QUESTION: %q

TECHNICAL SOLUTION:
%s
FINAL ANSWER: %q

INSTRUCTIONS:
1. Use "## Step N: Title" headers for each step. Never output a wall of text.
2. Use LaTeX ($...$) for all math and $$...$$ for display equations.
3. Do not repeat "Step 1" in the body if the header already says it.

OUTPUT: a complete markdown string.`

const validatorPromptTemplate = `You are an expert mathematics professor. Validate the student's solution.
Return ONLY 'VALID' if the reasoning is mathematically correct.
Return ONLY 'INVALID' otherwise.

Question: %s
Student solution:
%s`

// DefaultImagePrompt is sent with an image when extracting a question.
const DefaultImagePrompt = "Extract all mathematics text from this image."

// SolutionImagePrompt is sent with an image of a student's corrected solution.
const SolutionImagePrompt = "Extract the mathematical solution from this image."

const transcribePrompt = "Transcribe this audio recording of a mathematics question verbatim. Return only the transcript."

// contextSection renders retrieval contexts as one JSON object per line.
func contextSection(contexts []knowledge.RetrievalContext) string {
	if len(contexts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nCONTEXT FROM KNOWLEDGE BASE AND WEB SEARCH:\n")
	for _, c := range contexts {
		block, err := json.Marshal(map[string]interface{}{
			"document_id": c.DocumentID,
			"question":    c.Question,
			"answer":      c.Answer,
			"similarity":  c.Similarity,
		})
		if err != nil {
			continue
		}
		b.Write(block)
		b.WriteByte('\n')
	}
	return b.String()
}

// stepsText renders steps as "title: content" lines for verifier and
// explainer prompts.
func stepsText(steps []Step, sep string) string {
	var b strings.Builder
	for _, s := range steps {
		fmt.Fprintf(&b, "%s: %s%s", s.Title, s.Content, sep)
	}
	return b.String()
}
