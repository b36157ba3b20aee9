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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// =============================================================================
// langchaingo Embedder
// =============================================================================

// EmbedderConfig selects and configures an Embedder.
type EmbedderConfig struct {
	// Backend is "openai", "ollama" or "service".
	Backend string
	Model   string
	// BaseURL is the Ollama server, the OpenAI-compatible base URL, or the
	// embedding service URL depending on Backend.
	BaseURL string
	APIKey  string
}

// LangchainEmbedder adapts a langchaingo embeddings.Embedder.
type LangchainEmbedder struct {
	embedder embeddings.Embedder
}

// NewLangchainEmbedder wraps an existing langchaingo embedder.
func NewLangchainEmbedder(e embeddings.Embedder) *LangchainEmbedder {
	return &LangchainEmbedder{embedder: e}
}

// NewEmbedder builds the Embedder named by cfg.Backend.
//
// # Description
//
// "openai" and "ollama" go through langchaingo's embeddings package;
// "service" posts to the standalone embedding service.
//
// # Outputs
//
//   - Embedder: Ready to use.
//   - error: Non-nil for an unknown backend or a client that failed to build.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Backend) {
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai embedding client: %w", err)
		}
		e, err := embeddings.NewEmbedder(client)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai embedder: %w", err)
		}
		return NewLangchainEmbedder(e), nil
	case "ollama", "":
		opts := []ollama.Option{}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		opts = append(opts, ollama.WithModel(model))
		client, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama embedding client: %w", err)
		}
		e, err := embeddings.NewEmbedder(client)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
		}
		return NewLangchainEmbedder(e), nil
	case "service":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("EMBEDDING_SERVICE_URL is required for the service embedder")
		}
		return NewServiceEmbedder(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

// Embed implements Embedder.
func (l *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := l.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return vec, nil
}

// =============================================================================
// Embedding Service
// =============================================================================

// ServiceEmbedder calls the embedding service: POST {"text": ...} returning
// {"vector": [...]}.
type ServiceEmbedder struct {
	url        string
	httpClient *http.Client
}

type embeddingRequest struct {
	Text string `json:"text"`
}

type embeddingResponse struct {
	Vector []float32 `json:"vector"`
}

// NewServiceEmbedder creates a ServiceEmbedder for url.
func NewServiceEmbedder(url string) *ServiceEmbedder {
	return &ServiceEmbedder{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed implements Embedder.
func (s *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(b))
	}
	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(out.Vector) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return out.Vector, nil
}

// normalize scales v to unit L2 length. A zero vector is returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
