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
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock LLM
// =============================================================================

// mockLLM returns scripted responses in order and records prompts.
type mockLLM struct {
	responses []string
	errs      []error
	prompts   []string
	params    []llm.GenerationParams
}

func (m *mockLLM) Generate(_ context.Context, prompt string, params llm.GenerationParams) (string, error) {
	i := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	m.params = append(m.params, params)
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", nil
}

type mockMultimodal struct {
	text     string
	err      error
	prompt   string
	data     []byte
	mimeType string
}

func (m *mockMultimodal) GenerateFromMedia(_ context.Context, prompt string, data []byte, mimeType string) (string, error) {
	m.prompt, m.data, m.mimeType = prompt, data, mimeType
	return m.text, m.err
}

var errRateLimited = fmt.Errorf("gemini: %w: 429", llm.ErrRateLimited)

// =============================================================================
// Parser Tests
// =============================================================================

func TestParserAgent_Parse(t *testing.T) {
	client := &mockLLM{responses: []string{"```json\n" + `{
		"original_text": "solve 2x+3=7",
		"cleaned_text": "Solve 2x + 3 = 7",
		"topic": "Algebra",
		"variables": ["x"]
	}` + "\n```"}}

	p, err := NewParserAgent(client).Parse(context.Background(), "solve 2x+3=7", ModalityText)
	require.NoError(t, err)
	assert.Equal(t, "Solve 2x + 3 = 7", p.CleanedText)
	assert.Equal(t, "Algebra", p.Topic)
	assert.Equal(t, []string{"x"}, p.Variables)
	assert.False(t, p.NeedsClarification)
	assert.Contains(t, client.prompts[0], "solve 2x+3=7")
}

func TestParserAgent_Fallbacks(t *testing.T) {
	tests := []struct {
		name   string
		client *mockLLM
	}{
		{"generation error", &mockLLM{errs: []error{errors.New("boom")}}},
		{"invalid json", &mockLLM{responses: []string{"not json"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParserAgent(tt.client).Parse(context.Background(), "what is 2+2", "")
			require.NoError(t, err)
			assert.Equal(t, StructuredProblem{
				OriginalText: "what is 2+2",
				CleanedText:  "what is 2+2",
				Topic:        "General",
			}, p)
		})
	}
}

func TestParserAgent_ImageRequestsClarification(t *testing.T) {
	client := &mockLLM{responses: []string{`{"cleaned_text": "x^2 = 4"}`}}

	p, err := NewParserAgent(client).Parse(context.Background(), "x^2 = 4", ModalityImage)
	require.NoError(t, err)
	assert.True(t, p.NeedsClarification)
	assert.Equal(t, DefaultClarificationQuestion, p.ClarificationQuestion)
	assert.Equal(t, "x^2 = 4", p.CleanedText)
	assert.Equal(t, "x^2 = 4", p.OriginalText)
	assert.Equal(t, "General", p.Topic)
}

func TestParserAgent_KeepsModelClarificationQuestion(t *testing.T) {
	client := &mockLLM{responses: []string{`{"cleaned_text": "x", "needs_clarification": true, "clarification_question": "Is that a 7 or a 1?"}`}}

	p, err := NewParserAgent(client).Parse(context.Background(), "x", ModalityText)
	require.NoError(t, err)
	assert.True(t, p.NeedsClarification)
	assert.Equal(t, "Is that a 7 or a 1?", p.ClarificationQuestion)
}

func TestParserAgent_RateLimitPropagates(t *testing.T) {
	_, err := NewParserAgent(&mockLLM{errs: []error{errRateLimited}}).Parse(context.Background(), "q", ModalityText)
	assert.True(t, llm.IsRateLimited(err))
}

// =============================================================================
// Router Tests
// =============================================================================

func TestRouterAgent_Route(t *testing.T) {
	tests := []struct {
		raw  string
		want Intent
	}{
		{"solve", IntentSolve},
		{" SOLVE\n", IntentSolve},
		{"search", IntentSearch},
		{"Category: search", IntentSearch},
		{"general", IntentGeneral},
		{"hello there", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NewRouterAgent(&mockLLM{responses: []string{tt.raw}}).Route(context.Background(), "q")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouterAgent_FailureDefaultsToSolve(t *testing.T) {
	got, err := NewRouterAgent(&mockLLM{errs: []error{errors.New("boom")}}).Route(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, IntentSolve, got)

	_, err = NewRouterAgent(&mockLLM{errs: []error{errRateLimited}}).Route(context.Background(), "q")
	assert.True(t, llm.IsRateLimited(err))
}

// =============================================================================
// Solver Tests
// =============================================================================

func TestSolverAgent_JSONSteps(t *testing.T) {
	raw := "```json\n" + `{
		"steps": [
			{"title": "Isolate", "explanation": "Subtract $3$ from both sides", "expression": "2x=4"},
			["Divide", "Divide by 2", "x=2"],
			"Check the result"
		],
		"final_answer": "x = 2"
	}` + "\n```"

	sol, err := NewSolverAgent(&mockLLM{responses: []string{raw}}).Solve(context.Background(), SolveInput{Problem: "2x+3=7"})
	require.NoError(t, err)
	require.Len(t, sol.Steps, 3)
	assert.Equal(t, Step{Title: "Isolate", Content: "Subtract 3 from both sides", Expression: "2x = 4"}, sol.Steps[0])
	assert.Equal(t, Step{Title: "Divide", Content: "Divide by 2", Expression: "x = 2"}, sol.Steps[1])
	assert.Equal(t, Step{Title: "Step 3", Content: "Check the result"}, sol.Steps[2])
	assert.Equal(t, "Answer: x = 2", sol.Answer)
}

func TestSolverAgent_FreeText(t *testing.T) {
	raw := strings.Join([]string{
		"We need to solve 2x + 3 = 7.",
		"Step 1: Subtract 3 from both sides",
		"2x = 4",
		"Step 2: Divide by 2",
		"x = 2",
		"Therefore, x = 2",
	}, "\n")

	sol, err := NewSolverAgent(&mockLLM{responses: []string{raw}}).Solve(context.Background(), SolveInput{Problem: "2x+3=7"})
	require.NoError(t, err)
	require.Len(t, sol.Steps, 3)
	assert.Equal(t, "Overview", sol.Steps[0].Title)
	assert.Equal(t, "Subtract 3 from both sides", sol.Steps[1].Title)
	assert.Equal(t, "2x = 4", sol.Steps[1].Expression)
	assert.Equal(t, "Divide by 2", sol.Steps[2].Title)
	assert.Equal(t, "x = 2", sol.Steps[2].Expression)
	assert.Equal(t, "Answer: Therefore, x = 2", sol.Answer)
}

func TestSolverAgent_PromptCarriesContextAndCritique(t *testing.T) {
	client := &mockLLM{responses: []string{`{"steps": [], "final_answer": "4"}`}}
	in := SolveInput{
		Problem:  "2+2",
		Contexts: []knowledge.RetrievalContext{{DocumentID: "kb-1", Question: "1+1", Answer: "2", Similarity: 0.9}},
		Critique: "wrong sign",
	}

	sol, err := NewSolverAgent(client).Solve(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Answer: 4", sol.Answer)

	prompt := client.prompts[0]
	assert.Contains(t, prompt, "Previous attempt was incorrect. Critique: wrong sign")
	assert.Contains(t, prompt, `"document_id":"kb-1"`)
}

func TestSolverAgent_ErrorPropagates(t *testing.T) {
	_, err := NewSolverAgent(&mockLLM{errs: []error{errRateLimited}}).Solve(context.Background(), SolveInput{Problem: "q"})
	require.Error(t, err)
	assert.True(t, llm.IsRateLimited(err))
	assert.Contains(t, err.Error(), "solver generation failed")
}

func TestWithCritique(t *testing.T) {
	assert.Equal(t, "p", WithCritique("p", "  "))
	assert.True(t, strings.HasPrefix(WithCritique("p", "c"), "p\n\nIMPORTANT:"))
}

// =============================================================================
// Solution Parsing Tests
// =============================================================================

func TestParseSolution_AnswerFallbacks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"keyword line of last step", `{"steps": [{"title": "A", "content": "the result is 5"}]}`, "Answer: the result is 5"},
		{"last line of last step", `{"steps": [{"title": "A", "content": "x plus 1"}]}`, "Answer: x plus 1"},
		{"no steps", `{"steps": []}`, "Answer: " + answerFallback},
		{"already prefixed", `{"steps": [], "final_answer": "Answer: 7"}`, "Answer: 7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSolution(tt.raw).Answer)
		})
	}
}

func TestParseSolution_EmptyOutput(t *testing.T) {
	sol := parseSolution("   ")
	require.Len(t, sol.Steps, 1)
	assert.Equal(t, emptyResponseText, sol.Steps[0].Content)
	assert.True(t, strings.HasPrefix(sol.Answer, answerPrefix))
}

func TestParseSolution_JSONWrappedInProse(t *testing.T) {
	sol := parseSolution(`Here is my solution: {"steps": [{"title": "Add", "content": "1+1"}], "final_answer": "2"} Hope it helps`)
	require.Len(t, sol.Steps, 1)
	assert.Equal(t, "1 + 1", sol.Steps[0].Content)
	assert.Equal(t, "Answer: 2", sol.Answer)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```{\"a\":1}```"))
	assert.Equal(t, "plain", stripCodeFence("  plain  "))
}

func TestNormalizeMath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`$x^2 + \frac{1}{2}$`, "x² + (1) / (2)"},
		{"2x+3=7", "2x + 3 = 7"},
		{`\alpha \leq \pi`, "α ≤ π"},
		{`\left( a \right)`, "( a )"},
		{"## Result\n**x**", "Result x"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeMath(tt.in))
		})
	}
}

// =============================================================================
// Verifier / Explainer / Validator Tests
// =============================================================================

func TestVerifierAgent_Verify(t *testing.T) {
	client := &mockLLM{responses: []string{`{"is_correct": false, "critique": "sign error", "correction_suggestion": "flip it"}`}}
	v, err := NewVerifierAgent(client).Verify(context.Background(), "q", "a", []Step{{Title: "S", Content: "c"}})
	require.NoError(t, err)
	assert.Equal(t, Verification{IsCorrect: false, Critique: "sign error", CorrectionSuggestion: "flip it"}, v)
	assert.Contains(t, client.prompts[0], "S: c")
}

func TestVerifierAgent_FailsOpen(t *testing.T) {
	for name, client := range map[string]*mockLLM{
		"error":        {errs: []error{errors.New("boom")}},
		"invalid json": {responses: []string{"looks fine to me"}},
	} {
		t.Run(name, func(t *testing.T) {
			v, err := NewVerifierAgent(client).Verify(context.Background(), "q", "a", nil)
			require.NoError(t, err)
			assert.True(t, v.IsCorrect)
			assert.Equal(t, VerifierFailedCritique, v.Critique)
		})
	}

	_, err := NewVerifierAgent(&mockLLM{errs: []error{errRateLimited}}).Verify(context.Background(), "q", "a", nil)
	assert.True(t, llm.IsRateLimited(err))
}

func TestExplainerAgent_Explain(t *testing.T) {
	out, err := NewExplainerAgent(&mockLLM{responses: []string{"  ## Explanation\nx = 2  "}}).Explain(context.Background(), "q", "Answer: 2", nil)
	require.NoError(t, err)
	assert.Equal(t, "## Explanation\nx = 2", out)

	out, err = NewExplainerAgent(&mockLLM{errs: []error{errors.New("boom")}}).Explain(context.Background(), "q", "Answer: 2", nil)
	require.NoError(t, err)
	assert.Equal(t, "Answer: 2", out)

	out, err = NewExplainerAgent(&mockLLM{responses: []string{"   "}}).Explain(context.Background(), "q", "Answer: 2", nil)
	require.NoError(t, err)
	assert.Equal(t, "Answer: 2", out)

	_, err = NewExplainerAgent(&mockLLM{errs: []error{errRateLimited}}).Explain(context.Background(), "q", "a", nil)
	assert.True(t, llm.IsRateLimited(err))
}

func TestSolutionValidator_Validate(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"VALID", true},
		{" valid.", true},
		{"INVALID", false},
		{"I think so", false},
	}
	for _, tt := range tests {
		got, err := NewSolutionValidator(&mockLLM{responses: []string{tt.raw}}).Validate(context.Background(), "q", "s")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := NewSolutionValidator(&mockLLM{errs: []error{errors.New("boom")}}).Validate(context.Background(), "q", "s")
	assert.Error(t, err)
}

// =============================================================================
// Media Tests
// =============================================================================

func TestDecodeMedia(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	data, mt, err := DecodeMedia("data:image/png;base64,"+payload, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/png", mt)

	data, mt, err = DecodeMedia(payload, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/jpeg", mt)

	_, _, err = DecodeMedia("%%%", "image/jpeg")
	assert.Error(t, err)
}

func TestMediaReader(t *testing.T) {
	mm := &mockMultimodal{text: "  x + 1 = 2  "}
	r := NewMediaReader(mm)

	text, err := r.ReadImage(context.Background(), []byte("img"), "image/png", "")
	require.NoError(t, err)
	assert.Equal(t, "x + 1 = 2", text)
	assert.Equal(t, DefaultImagePrompt, mm.prompt)
	assert.Equal(t, "image/png", mm.mimeType)

	_, err = r.Transcribe(context.Background(), []byte("wav"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, transcribePrompt, mm.prompt)

	mm.err = errors.New("boom")
	_, err = r.ReadImage(context.Background(), []byte("img"), "image/png", "custom")
	assert.ErrorContains(t, err, "image text extraction failed")
}

func TestWhisperTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-large-v3-turbo", r.FormValue("model"))
		if _, header, err := r.FormFile("file"); assert.NoError(t, err) {
			assert.Equal(t, "input.webm", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": " what is two plus two "}`))
	}))
	defer srv.Close()

	text, err := NewWhisperTranscriber("key", srv.URL+"/v1", "").Transcribe(context.Background(), []byte("audio"), "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, "what is two plus two", text)
}

func TestAudioExtension(t *testing.T) {
	assert.Equal(t, ".mp3", audioExtension("audio/mpeg"))
	assert.Equal(t, ".m4a", audioExtension("audio/x-m4a"))
	assert.Equal(t, ".wav", audioExtension("application/octet-stream"))
}
