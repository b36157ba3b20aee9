// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// MultimodalClient is implemented by backends that can read audio or images.
// Used to turn non-text chat modalities into a text query.
type MultimodalClient interface {
	GenerateFromMedia(ctx context.Context, prompt string, data []byte, mimeType string) (string, error)
}

// ErrRateLimited is wrapped by every backend when the provider rejects a
// request for quota or rate reasons (HTTP 429, RESOURCE_EXHAUSTED).
var ErrRateLimited = errors.New("llm rate limited")

// IsRateLimited reports whether err carries ErrRateLimited.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// rateLimitError wraps a provider error so that errors.Is(err, ErrRateLimited)
// holds while the provider's message is preserved.
func rateLimitError(provider string, err error) error {
	return fmt.Errorf("%s: %w: %v", provider, ErrRateLimited, err)
}

// looksRateLimited inspects an error message for quota signals. Used when a
// provider SDK does not expose a typed status code.
func looksRateLimited(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "resource exhausted") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(msg, fmt.Sprint(http.StatusTooManyRequests))
}

// Float32 returns a pointer to v. Convenience for GenerationParams.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v. Convenience for GenerationParams.
func Int(v int) *int { return &v }
