// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package websearch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/MathMentor/services/orchestrator/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.orchestrator.websearch")

// Chain defaults.
const (
	DefaultMaxDocuments    = 5
	DefaultEnoughDocuments = 3
	DefaultProviderTimeout = 10 * time.Second
)

// ChainConfig tunes a Chain. Zero values take the defaults.
type ChainConfig struct {
	// MaxDocuments caps the merged result.
	MaxDocuments int
	// EnoughDocuments stops the chain before a later provider is tried.
	EnoughDocuments int
	// ProviderTimeout bounds each provider call.
	ProviderTimeout time.Duration
}

// Chain runs providers in priority order.
//
// # Description
//
// The first provider is always tried. Each later provider is tried only
// while fewer than EnoughDocuments distinct documents have been collected.
// Documents are deduplicated by URL (documents without a URL are always
// kept) and the merge stops at MaxDocuments. A provider that returns
// ErrNotConfigured is skipped; any other failure or timeout is logged and
// contributes nothing.
//
// # Thread Safety
//
// Safe for concurrent use if the providers are.
type Chain struct {
	providers []Provider
	cfg       ChainConfig
}

// NewChain creates a Chain. Nil providers are dropped.
func NewChain(cfg ChainConfig, providers ...Provider) *Chain {
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = DefaultMaxDocuments
	}
	if cfg.EnoughDocuments <= 0 {
		cfg.EnoughDocuments = DefaultEnoughDocuments
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Chain{providers: kept, cfg: cfg}
}

// Providers returns the provider ids in priority order.
func (c *Chain) Providers() []string {
	ids := make([]string, len(c.providers))
	for i, p := range c.providers {
		ids[i] = p.ID()
	}
	return ids
}

// Search runs the chain. It returns nil when no provider produced a
// document.
func (c *Chain) Search(ctx context.Context, query string) *Result {
	ctx, span := tracer.Start(ctx, "Chain.Search")
	defer span.End()

	var (
		docs    []Document
		sources []string
		seen    = make(map[string]bool)
	)

	for i, p := range c.providers {
		if i > 0 && len(docs) >= c.cfg.EnoughDocuments {
			break
		}
		if len(docs) >= c.cfg.MaxDocuments {
			break
		}

		found, err := c.call(ctx, p, query)
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				slog.Debug("Web search provider not configured, skipping", "provider", p.ID())
				observability.Default().RecordProvider(p.ID(), "skipped")
				continue
			}
			slog.Warn("Web search provider failed", "provider", p.ID(), "error", err)
			observability.Default().RecordProvider(p.ID(), "error")
			continue
		}

		added := 0
		for _, d := range found {
			if len(docs) >= c.cfg.MaxDocuments {
				break
			}
			if d.URL != "" {
				if seen[d.URL] {
					continue
				}
				seen[d.URL] = true
			}
			docs = append(docs, d)
			added++
		}
		if added > 0 {
			sources = append(sources, p.ID())
			observability.Default().RecordProvider(p.ID(), "ok")
		} else {
			observability.Default().RecordProvider(p.ID(), "empty")
		}
		slog.Info("Web search provider completed", "provider", p.ID(), "added", added, "total", len(docs))
	}

	span.SetAttributes(attribute.Int("documents", len(docs)), attribute.String("source", strings.Join(sources, "+")))
	if len(docs) == 0 {
		slog.Warn("All web search providers returned nothing", "query", query)
		return nil
	}
	return &Result{Query: query, Source: strings.Join(sources, "+"), Documents: docs}
}

func (c *Chain) call(ctx context.Context, p Provider, query string) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "Provider.Search")
	defer span.End()
	span.SetAttributes(attribute.String("provider", p.ID()))

	docs, err := p.Search(ctx, query, c.cfg.MaxDocuments)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrNotConfigured) {
			return nil, err
		}
		return nil, &ProviderError{Provider: p.ID(), Err: err}
	}
	return docs, nil
}
