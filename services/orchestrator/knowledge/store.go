// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge is the client of the solved-problem vector store.
//
// # Description
//
// The store answers "which solved problems look like this one?" and accepts
// new entries from validated user feedback. The production backend is
// Weaviate; when it is unreachable or unconfigured a NullStore is used so
// that the pipeline keeps answering from the model alone.
//
// # Thread Safety
//
// Every Store implementation and Handle is safe for concurrent use.
package knowledge

import (
	"context"
)

// Defaults for search.
const (
	DefaultTopK      = 4
	DefaultCertainty = 0.80
)

// RetrievalContext is one similar solved problem (or web document) handed to
// the solver as context. Similarity is in [0, 1].
type RetrievalContext struct {
	DocumentID string  `json:"document_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Similarity float64 `json:"similarity"`
}

// Store is the knowledge store contract.
type Store interface {
	// Search returns at most topK entries ordered by descending similarity.
	Search(ctx context.Context, query string, topK int) ([]RetrievalContext, error)

	// AddEntry stores a question/answer pair and returns its id.
	AddEntry(ctx context.Context, question, answer, source string) (string, error)
}

// NullStore is used when no vector store is available. Search finds
// nothing and AddEntry stores nothing.
type NullStore struct{}

func (NullStore) Search(context.Context, string, int) ([]RetrievalContext, error) {
	return nil, nil
}

func (NullStore) AddEntry(context.Context, string, string, string) (string, error) {
	return "", nil
}

var _ Store = NullStore{}

// IsNull reports whether s is a NullStore.
func IsNull(s Store) bool {
	switch s.(type) {
	case NullStore, *NullStore:
		return true
	}
	return false
}
