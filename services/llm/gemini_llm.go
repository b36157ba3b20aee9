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
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

var geminiTracer = otel.Tracer("aleutian.llm.gemini")

// GeminiClient talks to the Gemini API through google.golang.org/genai.
type GeminiClient struct {
	client       *genai.Client
	model        string
	systemPrompt string
}

// GeminiConfig holds the settings for NewGeminiClientWithConfig.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, used by tests and proxies
}

// NewGeminiClient reads GEMINI_API_KEY (or /run/secrets/gemini_api_key) and
// GEMINI_MODEL from the environment.
func NewGeminiClient() (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/gemini_api_key"
		keyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("GEMINI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(keyBytes))
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return NewGeminiClientWithConfig(context.Background(), GeminiConfig{APIKey: apiKey, Model: model})
}

// NewGeminiClientWithConfig builds a client from explicit configuration.
func NewGeminiClientWithConfig(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	systemPrompt := os.Getenv("SYSTEM_ROLE_PROMPT_PERSONA")
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	slog.Info("Initializing Gemini client", "model", cfg.Model)
	return &GeminiClient{client: client, model: cfg.Model, systemPrompt: systemPrompt}, nil
}

// Generate implements the LLMClient interface
func (g *GeminiClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	return g.generate(ctx, "GeminiClient.Generate", contents, params)
}

// GenerateFromMedia sends an inline audio or image part followed by prompt.
func (g *GeminiClient) GenerateFromMedia(ctx context.Context, prompt string, data []byte, mimeType string) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return g.generate(ctx, "GeminiClient.GenerateFromMedia", contents, GenerationParams{})
}

func (g *GeminiClient) generate(ctx context.Context, spanName string, contents []*genai.Content, params GenerationParams) (string, error) {
	ctx, span := geminiTracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.model))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.systemPrompt, genai.RoleUser),
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		StopSequences:     params.Stop,
	}
	if params.TopK != nil {
		config.TopK = genai.Ptr(float32(*params.TopK))
	}
	if params.MaxTokens != nil {
		config.MaxOutputTokens = int32(*params.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isGeminiRateLimit(err) {
			slog.Warn("Gemini quota exceeded", "model", g.model)
			return "", rateLimitError("gemini", err)
		}
		slog.Error("Gemini API call failed", "model", g.model, "error", err)
		return "", fmt.Errorf("Gemini API call failed: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("Gemini returned an empty response")
	}
	return text, nil
}

func isGeminiRateLimit(err error) bool {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return true
	}
	return looksRateLimited(err.Error())
}

var (
	_ LLMClient        = (*GeminiClient)(nil)
	_ MultimodalClient = (*GeminiClient)(nil)
)
