// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package websearch finds web documents for questions the knowledge store
// cannot answer.
//
// # Description
//
// Several heterogeneous search providers (an MCP tool server, a langchaingo
// tool and the Tavily REST API) sit behind the Provider interface. Chain
// tries them in priority order until enough distinct documents are found.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotConfigured is returned by a provider that lacks its endpoint or
// credentials. Chain skips such providers without counting a failure.
var ErrNotConfigured = errors.New("web search provider not configured")

// Provider ids, also used in Result.Source.
const (
	ProviderTavilyMCP       = "tavily-mcp"
	ProviderTavilyLangchain = "tavily-langchain"
	ProviderTavilySDK       = "tavily-sdk"
)

// Document is one web search hit.
type Document struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Citation is a source shown to the student.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Result is the merged outcome of a Chain search.
//
// Source is the ids of the providers that contributed at least one
// document, joined by "+", e.g. "tavily-mcp+tavily-sdk".
type Result struct {
	Query     string
	Source    string
	Documents []Document
}

// Citations returns one citation per distinct non-empty URL, in document
// order.
func (r *Result) Citations() []Citation {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool, len(r.Documents))
	var out []Citation
	for _, d := range r.Documents {
		if d.URL == "" || seen[d.URL] {
			continue
		}
		seen[d.URL] = true
		out = append(out, Citation{Title: d.Title, URL: d.URL})
	}
	return out
}

// Provider is one web search backend.
type Provider interface {
	ID() string
	Search(ctx context.Context, query string, maxResults int) ([]Document, error)
}

// ProviderError tags an error with the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Tavily result mapping
// =============================================================================

// TavilyResult is one item of a Tavily search response.
type TavilyResult struct {
	ID      string  `json:"id,omitempty"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// TavilyResponse is the body returned by the Tavily search API and by the
// tavily_search MCP tool.
type TavilyResponse struct {
	Query   string         `json:"query,omitempty"`
	Answer  string         `json:"answer,omitempty"`
	Images  []any          `json:"images,omitempty"`
	Results []TavilyResult `json:"results"`
}

// Documents maps the results to Documents. A missing id becomes the item
// index and a missing title becomes "Untitled".
func (r *TavilyResponse) Documents() []Document {
	if r == nil {
		return nil
	}
	docs := make([]Document, 0, len(r.Results))
	for idx, item := range r.Results {
		doc := Document{
			ID:      item.ID,
			Title:   strings.TrimSpace(item.Title),
			URL:     item.URL,
			Snippet: item.Content,
			Score:   item.Score,
		}
		if doc.ID == "" {
			doc.ID = strconv.Itoa(idx)
		}
		if doc.Title == "" {
			doc.Title = "Untitled"
		}
		docs = append(docs, doc)
	}
	return docs
}
