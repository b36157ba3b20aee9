// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tavily_mcp serves Tavily web search as an MCP tool.
package tavily_mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/MathMentor/services/orchestrator/websearch"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "tavily-mcp"
	serverVersion = "0.1.0"
)

// Server wraps a TavilyClient and exposes it as an MCP server.
type Server struct {
	tavily    *websearch.TavilyClient
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server and registers the tavily_search tool.
func NewServer(tavily *websearch.TavilyClient) *Server {
	s := &Server{
		tavily:    tavily,
		mcpServer: server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP serves streamable HTTP on addr until ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("MCP Server listening (streamable HTTP)", "address", addr)
		serverErrors <- httpServer.Start(addr)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(websearch.TavilySearchTool,
		mcp.WithDescription("Search the web with Tavily. Returns the Tavily JSON response."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query")),
		mcp.WithNumber("max_results", mcp.Description("Maximum number of results (default 5)")),
		mcp.WithBoolean("include_images", mcp.Description("Include image results")),
	), s.handleSearch)
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxResults := request.GetInt("max_results", websearch.DefaultMaxDocuments)
	includeImages := request.GetBool("include_images", false)

	resp, err := s.tavily.Search(ctx, websearch.TavilyRequest{
		Query:         query,
		MaxResults:    maxResults,
		IncludeImages: includeImages,
	})
	if err != nil {
		slog.Warn("Tavily search failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("tavily search failed: %v", err)), nil
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}
