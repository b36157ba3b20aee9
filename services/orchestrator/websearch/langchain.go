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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// =============================================================================
// Tavily as a langchaingo tool
// =============================================================================

// TavilyTool exposes Tavily search as a langchaingo tools.Tool. Call returns
// the Tavily JSON response.
type TavilyTool struct {
	client     *TavilyClient
	maxResults int
}

// NewTavilyTool creates the tool.
func NewTavilyTool(client *TavilyClient, maxResults int) *TavilyTool {
	if maxResults <= 0 {
		maxResults = DefaultMaxDocuments
	}
	return &TavilyTool{client: client, maxResults: maxResults}
}

func (t *TavilyTool) Name() string { return "tavily_search" }

func (t *TavilyTool) Description() string {
	return "Searches the web with Tavily. Input is a search query. Output is a JSON object with a results list."
}

func (t *TavilyTool) Call(ctx context.Context, input string) (string, error) {
	resp, err := t.client.Search(ctx, TavilyRequest{Query: input, MaxResults: t.maxResults})
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to encode tavily result: %w", err)
	}
	return string(out), nil
}

var _ tools.Tool = (*TavilyTool)(nil)

const duckDuckGoUserAgent = "MathMentor/1.0 (+https://github.com/AleutianAI/MathMentor)"

// NewDuckDuckGoTool returns langchaingo's DuckDuckGo tool. It needs no API
// key and is selected with WEB_SEARCH_TOOL=duckduckgo. An empty search comes
// back as a plain sentence with no result blocks, which parses to zero
// documents.
func NewDuckDuckGoTool(maxResults int, opts ...duckduckgo.Option) (tools.Tool, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxDocuments
	}
	tool, err := duckduckgo.New(maxResults, duckDuckGoUserAgent, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create duckduckgo tool: %w", err)
	}
	return tool, nil
}

// =============================================================================
// ToolProvider
// =============================================================================

// ToolProvider adapts any langchaingo tool to Provider. The tool output is
// read as Tavily JSON when possible, otherwise as DuckDuckGo-style text
// blocks of "Title:", "Description:" and "URL:" lines.
type ToolProvider struct {
	tool tools.Tool
}

// NewToolProvider creates the "tavily-langchain" provider around tool. A
// nil tool makes the provider report ErrNotConfigured.
func NewToolProvider(tool tools.Tool) *ToolProvider {
	return &ToolProvider{tool: tool}
}

func (p *ToolProvider) ID() string { return ProviderTavilyLangchain }

func (p *ToolProvider) Search(ctx context.Context, query string, maxResults int) ([]Document, error) {
	if p.tool == nil {
		return nil, ErrNotConfigured
	}
	out, err := p.tool.Call(ctx, query)
	if err != nil {
		return nil, err
	}
	docs := parseToolOutput(out)
	if maxResults > 0 && len(docs) > maxResults {
		docs = docs[:maxResults]
	}
	return docs, nil
}

func parseToolOutput(out string) []Document {
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") {
		var resp TavilyResponse
		if err := json.Unmarshal([]byte(trimmed), &resp); err == nil {
			return resp.Documents()
		}
	}
	return parseTextBlocks(trimmed)
}

// parseTextBlocks reads blank-line separated blocks of "Key: value" lines.
func parseTextBlocks(out string) []Document {
	var docs []Document
	for _, block := range strings.Split(out, "\n\n") {
		var doc Document
		for _, line := range strings.Split(block, "\n") {
			key, value, found := strings.Cut(strings.TrimSpace(line), ":")
			if !found {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.ToLower(key) {
			case "title":
				doc.Title = value
			case "description", "content", "snippet":
				doc.Snippet = value
			case "url", "link":
				doc.URL = value
			}
		}
		if doc.Title == "" && doc.URL == "" && doc.Snippet == "" {
			continue
		}
		doc.ID = strconv.Itoa(len(docs))
		if doc.Title == "" {
			doc.Title = "Untitled"
		}
		docs = append(docs, doc)
	}
	return docs
}

var _ Provider = (*ToolProvider)(nil)
