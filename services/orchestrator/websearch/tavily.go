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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// TavilyRequest is the body of a Tavily search call.
type TavilyRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeImages bool   `json:"include_images"`
	SearchDepth   string `json:"search_depth,omitempty"`
	Topic         string `json:"topic,omitempty"`
}

// TavilyClient is a rate-limited client of the Tavily REST API. It is
// shared by the SDK provider, the langchaingo tool and the MCP server.
type TavilyClient struct {
	apiKey     string
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// TavilyOption configures a TavilyClient.
type TavilyOption func(*TavilyClient)

// WithTavilyURL overrides the endpoint. Used by tests.
func WithTavilyURL(url string) TavilyOption {
	return func(c *TavilyClient) { c.url = url }
}

// WithRateLimit limits requests per second with a burst of one. A value
// <= 0 disables limiting.
func WithRateLimit(perSecond float64) TavilyOption {
	return func(c *TavilyClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

// NewTavilyClient creates a client. An empty apiKey yields a client whose
// Search returns ErrNotConfigured.
func NewTavilyClient(apiKey string, opts ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		apiKey:     strings.TrimSpace(apiKey),
		url:        DefaultTavilyURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is set.
func (c *TavilyClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Search calls the Tavily API.
//
// # Description
//
// Waits for the rate limiter, then posts req. The "basic" depth and
// "general" topic are used when req leaves them empty.
//
// # Outputs
//
//   - *TavilyResponse: The decoded response.
//   - error: ErrNotConfigured, a limiter wait cancelled by ctx, a transport
//     error or a non-200 status.
func (c *TavilyClient) Search(ctx context.Context, req TavilyRequest) (*TavilyResponse, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("tavily rate limiter: %w", err)
		}
	}
	if req.SearchDepth == "" {
		req.SearchDepth = "basic"
	}
	if req.Topic == "" {
		req.Topic = "general"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tavily request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create tavily request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out TavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode tavily response: %w", err)
	}
	slog.Debug("Tavily search completed", "results", len(out.Results))
	return &out, nil
}

// =============================================================================
// SDK Provider
// =============================================================================

// SDKProvider is the last-resort provider calling Tavily directly.
type SDKProvider struct {
	client *TavilyClient
}

// NewSDKProvider creates the "tavily-sdk" provider.
func NewSDKProvider(client *TavilyClient) *SDKProvider {
	return &SDKProvider{client: client}
}

func (p *SDKProvider) ID() string { return ProviderTavilySDK }

func (p *SDKProvider) Search(ctx context.Context, query string, maxResults int) ([]Document, error) {
	resp, err := p.client.Search(ctx, TavilyRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, err
	}
	return resp.Documents(), nil
}

var _ Provider = (*SDKProvider)(nil)
