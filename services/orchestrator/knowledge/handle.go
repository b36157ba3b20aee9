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
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config is the knowledge store configuration read at startup.
type Config struct {
	URL       string
	APIKey    string
	Class     string
	TopK      int
	Certainty float32
}

// Open builds the configured Store.
//
// # Description
//
// An empty URL, a client that cannot be built, or a server that does not
// answer the readiness check all yield a NullStore. Open never fails; the
// reason is logged.
func Open(ctx context.Context, cfg Config, embedder Embedder) Store {
	if cfg.URL == "" {
		slog.Warn("WEAVIATE_URL not set, knowledge retrieval disabled")
		return NullStore{}
	}
	if embedder == nil {
		slog.Warn("No embedder configured, knowledge retrieval disabled")
		return NullStore{}
	}

	client, err := newWeaviateClient(cfg.URL, cfg.APIKey)
	if err != nil {
		slog.Error("Failed to create weaviate client, knowledge retrieval disabled", "error", err)
		return NullStore{}
	}

	readyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ready, err := client.Misc().ReadyChecker().Do(readyCtx)
	if err != nil || !ready {
		slog.Warn("Weaviate not ready, knowledge retrieval disabled", "url", cfg.URL, "error", err)
		return NullStore{}
	}

	wcfg := WeaviateConfig{
		URL:       cfg.URL,
		APIKey:    cfg.APIKey,
		Class:     cfg.Class,
		TopK:      cfg.TopK,
		Certainty: cfg.Certainty,
	}
	return newWeaviateStore(ctx, &weaviateBackend{client: client}, wcfg, embedder)
}

// Loader builds a Store. Handle calls it on first use and on Reload.
type Loader func(ctx context.Context) (Store, error)

// Handle is the process-wide knowledge store.
//
// # Description
//
// The store is built lazily on first use. Concurrent first callers share
// one Loader call through singleflight. After that the store is fixed until
// Reload is called explicitly. A Loader error leaves a NullStore in place.
//
// Handle implements Store by delegating to the current store.
type Handle struct {
	load  Loader
	group singleflight.Group

	mu    sync.RWMutex
	store Store
}

// buildTimeout bounds one loader run.
const buildTimeout = 30 * time.Second

// NewHandle creates a Handle around load.
func NewHandle(load Loader) *Handle {
	return &Handle{load: load}
}

// Get returns the current store, building it on first use.
func (h *Handle) Get(ctx context.Context) Store {
	h.mu.RLock()
	s := h.store
	h.mu.RUnlock()
	if s != nil {
		return s
	}

	v, _, _ := h.group.Do("init", func() (interface{}, error) {
		h.mu.RLock()
		existing := h.store
		h.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		built := h.build(ctx)
		h.mu.Lock()
		h.store = built
		h.mu.Unlock()
		return built, nil
	})
	return v.(Store)
}

// Reload rebuilds the store and swaps it in. Concurrent Reload calls share
// one build.
func (h *Handle) Reload(ctx context.Context) Store {
	v, _, _ := h.group.Do("reload", func() (interface{}, error) {
		built := h.build(ctx)
		h.mu.Lock()
		h.store = built
		h.mu.Unlock()
		slog.Info("Knowledge store reloaded", "null", IsNull(built))
		return built, nil
	})
	return v.(Store)
}

// build runs the loader detached from the caller's cancellation. The result
// is cached for every later request, so one aborted request must not decide
// it.
func (h *Handle) build(ctx context.Context) Store {
	if h.load == nil {
		return NullStore{}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
	defer cancel()
	s, err := h.load(ctx)
	if err != nil || s == nil {
		slog.Error("Failed to initialize knowledge store, using empty store", "error", err)
		return NullStore{}
	}
	return s
}

// Search implements Store.
func (h *Handle) Search(ctx context.Context, query string, topK int) ([]RetrievalContext, error) {
	return h.Get(ctx).Search(ctx, query, topK)
}

// AddEntry implements Store.
func (h *Handle) AddEntry(ctx context.Context, question, answer, source string) (string, error) {
	return h.Get(ctx).AddEntry(ctx, question, answer, source)
}

var _ Store = (*Handle)(nil)
