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
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// PolicyFile is the YAML document loaded by the engine.
type PolicyFile struct {
	ClassificationPatterns []Classification `yaml:"classifications"`
	BlockedKeywords        []string         `yaml:"blocked_keywords"`
	Messages               Messages         `yaml:"messages"`
}

// Messages are the user-facing texts carried by a PolicyViolationError.
type Messages struct {
	InputPII     string `yaml:"input_pii"`
	InputBlocked string `yaml:"input_blocked"`
	OutputBlock  string `yaml:"output_blocked"`
}

type Classification struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description"`
	Priority         int              `yaml:"priority"`
	Patterns         []Pattern        `yaml:"patterns"`
	CompiledPatterns []*regexp.Regexp `yaml:"-"`
}

type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingConfidence := ConfidenceLevel(s)
	switch incomingConfidence {
	case High, Medium, Low:
		*c = incomingConfidence
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incomingConfidence)
	}
}

func (p *PolicyFile) CompileRegexes() error {
	for i := range p.ClassificationPatterns {
		for j := range p.ClassificationPatterns[i].Patterns {
			pattern := &p.ClassificationPatterns[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			p.ClassificationPatterns[i].CompiledPatterns = append(p.ClassificationPatterns[i].
				CompiledPatterns, re)
			pattern.compiledPattern = re
		}
	}
	return nil
}

func (p *PolicyFile) SortByPriority() {
	sort.Slice(p.ClassificationPatterns, func(i, j int) bool {
		return p.ClassificationPatterns[i].Priority > p.ClassificationPatterns[j].Priority
	})
}

// applyDefaults fills messages a custom policy file left empty.
func (p *PolicyFile) applyDefaults() {
	if p.Messages.InputPII == "" {
		p.Messages.InputPII = "The request may contain sensitive information. Please remove it and try again."
	}
	if p.Messages.InputBlocked == "" {
		p.Messages.InputBlocked = "I can only help with mathematics-related educational questions."
	}
	if p.Messages.OutputBlock == "" {
		p.Messages.OutputBlock = "The generated response contains inappropriate content."
	}
	keywords := p.BlockedKeywords[:0]
	for _, kw := range p.BlockedKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	p.BlockedKeywords = keywords
}

type ScanFinding struct {
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}

// Violation codes.
const (
	CodeSensitiveData  = "sensitive_data"
	CodeBlockedTopic   = "blocked_topic"
	CodeBlockedContent = "blocked_output"
)

// PolicyViolationError is returned when a guardrail rejects text. Message is
// safe to show to the user verbatim.
type PolicyViolationError struct {
	Code     string
	Message  string
	Findings []ScanFinding
}

func (e *PolicyViolationError) Error() string {
	return e.Message
}

// IsPolicyViolation reports whether err is or wraps a *PolicyViolationError.
func IsPolicyViolation(err error) bool {
	var pv *PolicyViolationError
	return errors.As(err, &pv)
}
