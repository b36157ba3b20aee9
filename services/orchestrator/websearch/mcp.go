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
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// TavilySearchTool is the MCP tool name served by cmd/tavily-mcp.
const TavilySearchTool = "tavily_search"

// MCPProvider calls the tavily_search tool of an MCP server over
// streamable HTTP.
type MCPProvider struct {
	url string
}

// NewMCPProvider creates the "tavily-mcp" provider. An empty url makes the
// provider report ErrNotConfigured.
func NewMCPProvider(url string) *MCPProvider {
	return &MCPProvider{url: strings.TrimSpace(url)}
}

func (p *MCPProvider) ID() string { return ProviderTavilyMCP }

// Search opens a session, calls the tool and closes the session.
//
// # Description
//
// The tool answers with one or more text contents; the first one that
// decodes as a Tavily response with results wins.
func (p *MCPProvider) Search(ctx context.Context, query string, maxResults int) ([]Document, error) {
	if p.url == "" {
		return nil, ErrNotConfigured
	}

	c, err := client.NewStreamableHttpClient(p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "mathmentor-orchestrator", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("MCP initialize failed: %w", err)
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = TavilySearchTool
	callReq.Params.Arguments = map[string]any{
		"query":       query,
		"max_results": maxResults,
	}
	result, err := c.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("MCP tool call failed: %w", err)
	}
	return documentsFromToolResult(result)
}

func documentsFromToolResult(result *mcp.CallToolResult) ([]Document, error) {
	if result == nil {
		return nil, fmt.Errorf("MCP tool returned no result")
	}
	var texts []string
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
		}
	}
	if result.IsError {
		return nil, fmt.Errorf("MCP tool error: %s", strings.Join(texts, "; "))
	}
	for _, text := range texts {
		var resp TavilyResponse
		if err := json.Unmarshal([]byte(text), &resp); err != nil {
			continue
		}
		if docs := resp.Documents(); len(docs) > 0 {
			return docs, nil
		}
	}
	return nil, nil
}

var _ Provider = (*MCPProvider)(nil)
