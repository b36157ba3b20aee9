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
	"regexp"
	"strings"
)

// =============================================================================
// Solution parsing
// =============================================================================
//
// Solver output arrives in one of three shapes and is normalized here into
// []Step so no later stage branches on representation:
//
//   - JSON with steps as objects: {"title", "explanation"|"content", "expression"}
//   - JSON with legacy tuple steps: ["title", "content", "expression"?]
//   - free text with "Step N" / "1." headers and a concluding line

const (
	answerPrefix      = "Answer: "
	answerFallback    = "Please see the steps above for the complete solution."
	emptyResponseText = "I apologize, but I couldn't generate a response. Please try rephrasing your question."
)

var (
	numberedHeader = regexp.MustCompile(`^\d+[.)]\s+`)
	titleSplit     = regexp.MustCompile(`[:.]`)
)

// answerWords mark a step or line as a conclusion when picking a fallback
// answer.
var answerWords = []string{"answer", "therefore", "thus", "hence", "result"}

// conclusionMarkers end the step list in free-text output.
var conclusionMarkers = []string{"therefore", "thus", "finally", "hence", "answer:", "the answer is", "final answer"}

const expressionChars = "+-*/^√∫∑∈ℝ"

// parseSolution converts raw Solver output into a Solution.
func parseSolution(raw string) Solution {
	text := stripCodeFence(raw)
	if strings.TrimSpace(text) == "" {
		text = emptyResponseText
	}

	var sol Solution
	if obj, ok := decodeJSONObject(text); ok {
		sol = structuredSolution(obj)
	} else {
		sol = freeTextSolution(text)
	}
	sol.Answer = finalizeAnswer(sol.Answer, sol.Steps)
	return sol
}

func structuredSolution(obj map[string]interface{}) Solution {
	rawSteps, _ := obj["steps"].([]interface{})
	steps := make([]Step, 0, len(rawSteps))
	for idx, raw := range rawSteps {
		steps = append(steps, normalizeStep(idx, raw))
	}
	return Solution{Steps: steps, Answer: normalizeMath(stringify(obj["final_answer"]))}
}

// normalizeStep maps one JSON step of any supported shape to a Step.
func normalizeStep(idx int, raw interface{}) Step {
	defaultTitle := fmt.Sprintf("Step %d", idx+1)
	switch v := raw.(type) {
	case map[string]interface{}:
		title := stringify(v["title"])
		if title == "" {
			title = defaultTitle
		}
		content := stringify(v["explanation"])
		if content == "" {
			content = stringify(v["content"])
		}
		return Step{
			Title:      title,
			Content:    normalizeMath(content),
			Expression: normalizeMath(stringify(v["expression"])),
		}
	case []interface{}:
		if len(v) >= 2 {
			step := Step{Title: stringify(v[0]), Content: normalizeMath(stringify(v[1]))}
			if len(v) > 2 {
				step.Expression = normalizeMath(stringify(v[2]))
			}
			return step
		}
	}
	return Step{Title: defaultTitle, Content: normalizeMath(stringify(raw))}
}

// freeTextSolution splits prose into steps using header and conclusion
// markers. Lines are normalized individually to keep the line structure.
func freeTextSolution(text string) Solution {
	text = normalizeLines(text)
	lines := strings.Split(text, "\n")

	var (
		steps   []Step
		current *Step
		buffer  []string
		answer  string
	)
	flush := func() {
		if current != nil && len(buffer) > 0 {
			if current.Content != "" {
				current.Content += "\n"
			}
			current.Content += strings.Join(buffer, "\n")
			buffer = nil
		}
	}
	closeStep := func() {
		if current == nil {
			return
		}
		flush()
		steps = append(steps, *current)
		current = nil
	}

	overview := -1
	for _, line := range lines {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(lower, "step ") || numberedHeader.MatchString(line):
			closeStep()
			title := line
			if parts := titleSplit.Split(line, 2); len(parts) > 1 {
				title = strings.TrimSpace(parts[1])
			}
			if title == "" {
				title = fmt.Sprintf("Step %d", len(steps)+1)
			}
			current = &Step{Title: title}
		case containsAny(lower, conclusionMarkers):
			closeStep()
			if _, after, found := strings.Cut(line, ":"); found && strings.TrimSpace(after) != "" {
				answer = strings.TrimSpace(after)
			} else {
				answer = line
			}
		case current != nil && (strings.Contains(line, "=") || strings.ContainsAny(line, expressionChars)):
			flush()
			if current.Expression == "" {
				current.Expression = line
			} else {
				current.Expression += "\n" + line
			}
		case current != nil:
			buffer = append(buffer, line)
		case overview < 0:
			steps = append(steps, Step{Title: "Overview", Content: line})
			overview = len(steps) - 1
		default:
			steps[overview].Content += "\n" + line
		}
	}
	closeStep()

	if len(steps) == 0 {
		for idx, para := range splitParagraphs(text) {
			title := "Solution"
			if idx > 0 {
				title = fmt.Sprintf("Step %d", idx)
			}
			steps = append(steps, Step{Title: title, Content: para})
		}
	}

	if answer == "" {
		start := len(lines) - 10
		if start < 0 {
			start = 0
		}
		for i := len(lines) - 1; i >= start; i-- {
			if containsAny(strings.ToLower(lines[i]), answerWords) {
				answer = strings.TrimSpace(lines[i])
				break
			}
		}
	}
	return Solution{Steps: steps, Answer: answer}
}

// finalizeAnswer fills an empty answer from the steps and adds the
// "Answer: " prefix.
func finalizeAnswer(answer string, steps []Step) string {
	answer = strings.TrimSpace(answer)
	if answer == "" && len(steps) > 0 {
		last := steps[len(steps)-1].Content
		lines := strings.Split(last, "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if containsAny(strings.ToLower(lines[i]), answerWords) {
				answer = normalizeMath(lines[i])
				break
			}
		}
		if answer == "" {
			answer = strings.TrimSpace(lines[len(lines)-1])
		}
	}
	if answer == "" {
		answer = answerFallback
	}
	if !strings.HasPrefix(strings.ToLower(answer), "answer:") {
		answer = answerPrefix + answer
	}
	return answer
}

// =============================================================================
// Helpers
// =============================================================================

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "json")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// decodeJSONObject parses text as a JSON object, falling back to the
// outermost {...} span when the model wrapped the object in prose.
func decodeJSONObject(text string) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, true
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// stringify renders a decoded JSON value as text; nil becomes "".
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func splitParagraphs(text string) []string {
	var paras []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}
