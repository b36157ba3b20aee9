// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval gathers solver context from the knowledge store and the
// web search chain.
package retrieval

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
	"github.com/AleutianAI/MathMentor/services/orchestrator/websearch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.orchestrator.retrieval")

// Provenance values for answers.
const (
	SourceKB    = "kb"
	SourceKBWeb = "kb+web"
	SourceLLM   = "llm"
)

// WebSearcher is satisfied by *websearch.Chain.
type WebSearcher interface {
	Search(ctx context.Context, query string) *websearch.Result
}

// Result is the outcome of one retrieval.
type Result struct {
	KBHits    []knowledge.RetrievalContext
	WebHits   []knowledge.RetrievalContext
	Citations []websearch.Citation
	// WebSource is the web chain provenance, empty when the web returned
	// nothing.
	WebSource string
}

// KnowledgeHits returns the knowledge store hits followed by the web hits.
// The two lists are never deduplicated against each other.
func (r Result) KnowledgeHits() []knowledge.RetrievalContext {
	hits := make([]knowledge.RetrievalContext, 0, len(r.KBHits)+len(r.WebHits))
	hits = append(hits, r.KBHits...)
	return append(hits, r.WebHits...)
}

// Source summarizes where the context came from: "kb+web", "kb", the web
// provenance, or "llm" when nothing was retrieved.
func (r Result) Source() string {
	switch {
	case len(r.KBHits) > 0 && len(r.WebHits) > 0:
		return SourceKBWeb
	case len(r.KBHits) > 0:
		return SourceKB
	case len(r.WebHits) > 0 && r.WebSource != "":
		return r.WebSource
	default:
		return SourceLLM
	}
}

// =============================================================================
// Retriever
// =============================================================================

// Retriever runs the knowledge store lookup then the web chain. Both are
// always consulted and failures degrade to empty results.
type Retriever struct {
	store knowledge.Store
	web   WebSearcher
	topK  int
}

// New creates a Retriever. A nil store or web searcher is treated as empty.
func New(store knowledge.Store, web WebSearcher, topK int) *Retriever {
	if store == nil {
		store = knowledge.NullStore{}
	}
	if topK <= 0 {
		topK = knowledge.DefaultTopK
	}
	return &Retriever{store: store, web: web, topK: topK}
}

// Retrieve never fails. Knowledge store errors are logged and treated as no
// hits; the web chain already absorbs provider failures.
func (r *Retriever) Retrieve(ctx context.Context, query string) Result {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()

	var res Result

	kbHits, err := r.store.Search(ctx, query, r.topK)
	if err != nil {
		slog.Warn("Knowledge store search failed, continuing without it", "error", err)
	} else {
		res.KBHits = kbHits
	}

	if r.web != nil {
		if webResult := r.web.Search(ctx, query); webResult != nil {
			res.WebHits = webContexts(webResult.Documents)
			res.Citations = webResult.Citations()
			res.WebSource = webResult.Source
		}
	}

	span.SetAttributes(
		attribute.Int("kb_hits", len(res.KBHits)),
		attribute.Int("web_hits", len(res.WebHits)),
		attribute.String("source", res.Source()),
	)
	slog.Info("Retrieval completed", "kbHits", len(res.KBHits), "webHits", len(res.WebHits), "source", res.Source())
	return res
}

// webContexts maps documents onto the knowledge shape: the title becomes
// the question and the snippet the answer.
func webContexts(docs []websearch.Document) []knowledge.RetrievalContext {
	out := make([]knowledge.RetrievalContext, 0, len(docs))
	for _, d := range docs {
		out = append(out, knowledge.RetrievalContext{
			DocumentID: d.ID,
			Question:   d.Title,
			Answer:     d.Snippet,
			Similarity: clamp01(d.Score),
		})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
