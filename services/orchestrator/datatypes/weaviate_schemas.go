// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultKnowledgeClass is the Weaviate class holding solved problems.
const DefaultKnowledgeClass = "Mathvectors"

// GetKnowledgeSchema returns the class definition for the solved-problem
// collection. Vectors are supplied by the orchestrator, so the class has no
// vectorizer.
func GetKnowledgeSchema(className string) *models.Class {
	if className == "" {
		className = DefaultKnowledgeClass
	}
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "Solved math problems used as retrieval context for the solver.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "question",
				DataType:     []string{"text"},
				Description:  "The problem statement.",
				Tokenization: "word",
			},
			{
				Name:         "answer",
				DataType:     []string{"text"},
				Description:  "The worked solution.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Where the entry came from, e.g. user-feedback or an import file.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureKnowledgeSchema creates the knowledge class when it does not exist.
//
// # Description
//
// An existing class is left alone, whatever its properties. Collections
// created by older tooling use input/label/source_file and are still read
// through the legacy field mapping in the knowledge package.
//
// # Outputs
//
//   - error: Non-nil if the class is missing and could not be created.
func EnsureKnowledgeSchema(ctx context.Context, client *weaviate.Client, className string) error {
	class := GetKnowledgeSchema(className)
	slog.Info("Checking schema", "class", class.Class)

	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
