// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// FeedbackSource is the source recorded for entries added from feedback.
const FeedbackSource = "user-feedback"

// SolutionValidator decides whether a submitted solution is correct.
type SolutionValidator interface {
	Validate(ctx context.Context, question, solution string) (bool, error)
}

// Updater adds user-submitted solutions to the store after validation.
type Updater struct {
	store     Store
	validator SolutionValidator
}

// NewUpdater creates an Updater.
func NewUpdater(store Store, validator SolutionValidator) *Updater {
	return &Updater{store: store, validator: validator}
}

// Update validates solution and, when valid, stores it.
//
// # Outputs
//
//   - bool: True if the entry was stored.
//   - error: Validation or insert failure. An invalid solution is not an
//     error.
func (u *Updater) Update(ctx context.Context, question, solution string) (bool, error) {
	question = strings.TrimSpace(question)
	solution = strings.TrimSpace(solution)
	if question == "" || solution == "" {
		return false, nil
	}

	valid, err := u.validator.Validate(ctx, question, solution)
	if err != nil {
		return false, err
	}
	if !valid {
		slog.Info("Submitted solution rejected by validator")
		return false, nil
	}

	if _, err := u.store.AddEntry(ctx, question, solution, FeedbackSource); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// Dataset Import
// =============================================================================

// ImportRecord is one JSONL line of a dataset file. Both the preferred and
// the legacy key names are accepted.
type ImportRecord struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Input      string `json:"input"`
	Label      any    `json:"label"`
	Source     string `json:"source"`
	SourceFile string `json:"source_file"`
}

func (r ImportRecord) normalized(defaultSource string) (question, answer, source string) {
	question = r.Question
	if question == "" {
		question = r.Input
	}
	answer = r.Answer
	if answer == "" {
		answer = stringify(r.Label)
	}
	source = r.Source
	if source == "" {
		source = r.SourceFile
	}
	if source == "" {
		source = defaultSource
	}
	return strings.TrimSpace(question), strings.TrimSpace(answer), source
}

// ImportStats summarizes an import run.
type ImportStats struct {
	Imported int
	Skipped  int
	Failed   int
}

// Import reads JSONL records from r and adds each to store.
//
// # Description
//
// Blank lines and records without both a question and an answer are
// skipped. A malformed line or a failed insert is counted and logged, and
// the import continues. Only read errors and cancellation abort.
func Import(ctx context.Context, store Store, r io.Reader, defaultSource string) (ImportStats, error) {
	var stats ImportStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec ImportRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			slog.Warn("Skipping malformed dataset line", "line", line, "error", err)
			stats.Failed++
			continue
		}
		q, a, src := rec.normalized(defaultSource)
		if q == "" || a == "" {
			stats.Skipped++
			continue
		}
		if _, err := store.AddEntry(ctx, q, a, src); err != nil {
			slog.Warn("Failed to import dataset line", "line", line, "error", err)
			stats.Failed++
			continue
		}
		stats.Imported++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read dataset: %w", err)
	}
	return stats, nil
}
