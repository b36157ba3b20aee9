// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/AleutianAI/MathMentor/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

var (
	nonPrintableRegex = regexp.MustCompile(`[^\x20-\x7E]+`)
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	urlRegex          = regexp.MustCompile(`https?://\S+`)
)

// PolicyEngine applies the guardrails policy to user requests and generated
// answers. It is safe for concurrent use; Reload swaps the rule set
// atomically.
type PolicyEngine struct {
	mu              sync.RWMutex
	Classifiers     []Classification
	blockedKeywords []string
	keywordRegex    *regexp.Regexp
	messages        Messages
}

// OutputResult is a generated answer after output guardrails.
type OutputResult struct {
	Text string
	URLs []string
}

// NewPolicyEngine initializes the engine from the policy embedded in the
// binary.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts classifications by priority.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewPolicyEngine() (*PolicyEngine, error) {
	engine := &PolicyEngine{}
	if err := engine.Reload(enforcement.GuardrailsPolicy); err != nil {
		return nil, fmt.Errorf("failed to load the embedded policy: %w", err)
	}
	return engine, nil
}

// NewPolicyEngineFromFile loads the policy at path instead of the embedded one.
func NewPolicyEngineFromFile(path string) (*PolicyEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	engine := &PolicyEngine{}
	if err := engine.Reload(data); err != nil {
		return nil, fmt.Errorf("failed to load policy file %s: %w", path, err)
	}
	return engine, nil
}

// Reload parses data and replaces the active rule set. On error the previous
// rule set stays active.
func (e *PolicyEngine) Reload(data []byte) error {
	var policy PolicyFile
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("failed to unmarshal the policy: %w", err)
	}
	if err := policy.CompileRegexes(); err != nil {
		return fmt.Errorf("failed to compile a regex %w", err)
	}
	policy.SortByPriority()
	policy.applyDefaults()

	var keywordRegex *regexp.Regexp
	if len(policy.BlockedKeywords) > 0 {
		quoted := make([]string, len(policy.BlockedKeywords))
		for i, kw := range policy.BlockedKeywords {
			quoted[i] = regexp.QuoteMeta(kw)
		}
		keywordRegex = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	}

	e.mu.Lock()
	e.Classifiers = policy.ClassificationPatterns
	e.blockedKeywords = policy.BlockedKeywords
	e.keywordRegex = keywordRegex
	e.messages = policy.Messages
	e.mu.Unlock()
	return nil
}

// ClassifyData returns the name of the highest-priority classification that
// matches data, or "public".
func (e *PolicyEngine) ClassifyData(data []byte) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, classifier := range e.Classifiers {
		for _, re := range classifier.CompiledPatterns {
			if re.Match(data) {
				return classifier.Name
			}
		}
	}
	return "public"
}

// ScanFileContent checks every line of content against every pattern and
// reports each match with its line number.
func (e *PolicyEngine) ScanFileContent(content string) []ScanFinding {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var findings []ScanFinding
	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match != "" {
					findings = append(findings, ScanFinding{
						LineNumber:         lineNum + 1,
						MatchedContent:     strings.TrimSpace(match),
						ClassificationName: classifier.Name,
						PatternId:          pattern.Id,
						PatternDescription: pattern.Description,
						Confidence:         pattern.Confidence,
					})
				}
			}
		}
	}
	return findings
}

// Sanitize removes runs of non printable-ASCII characters and collapses
// whitespace.
func Sanitize(text string) string {
	cleaned := nonPrintableRegex.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(cleaned, " "))
}

// FilterInput validates a user request before it enters the pipeline.
//
// # Description
//
// The text is sanitized first. Any classification match rejects the request
// with CodeSensitiveData; a blocked keyword anywhere in the lower-cased text
// rejects it with CodeBlockedTopic.
//
// # Outputs
//
//   - string: The sanitized text when the request passes.
//   - error: *PolicyViolationError when it does not.
func (e *PolicyEngine) FilterInput(text string) (string, error) {
	cleaned := Sanitize(text)

	if findings := e.ScanFileContent(cleaned); len(findings) > 0 {
		slog.Warn("Input guardrail blocked the request", "reason", "pii_match", "findings", len(findings))
		e.mu.RLock()
		msg := e.messages.InputPII
		e.mu.RUnlock()
		return "", &PolicyViolationError{Code: CodeSensitiveData, Message: msg, Findings: findings}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	lower := strings.ToLower(cleaned)
	for _, kw := range e.blockedKeywords {
		if strings.Contains(lower, kw) {
			slog.Warn("Input guardrail blocked the request", "reason", "blocked_keyword")
			return "", &PolicyViolationError{Code: CodeBlockedTopic, Message: e.messages.InputBlocked}
		}
	}
	return cleaned, nil
}

// FilterOutput checks a generated answer before it is returned.
//
// # Description
//
// Answers carry unicode math symbols, so they are not sanitized. Sensitive
// data is redacted to "[redacted]" rather than rejected, URLs are collected,
// and a blocked keyword matched as a whole word rejects the answer.
func (e *PolicyEngine) FilterOutput(text string) (OutputResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := text
	redacted := false
	for _, classifier := range e.Classifiers {
		for _, re := range classifier.CompiledPatterns {
			if re.MatchString(out) {
				out = re.ReplaceAllString(out, "[redacted]")
				redacted = true
			}
		}
	}
	if redacted {
		slog.Warn("Output guardrail redacted sensitive data")
	}

	if e.keywordRegex != nil && e.keywordRegex.MatchString(out) {
		slog.Warn("Output guardrail blocked the answer", "reason", "blocked_keyword")
		return OutputResult{}, &PolicyViolationError{Code: CodeBlockedContent, Message: e.messages.OutputBlock}
	}

	return OutputResult{Text: out, URLs: urlRegex.FindAllString(out, -1)}, nil
}
