// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tavily-mcp exposes Tavily web search as an MCP tool.
//
// # Usage
//
//	TAVILY_API_KEY=... tavily-mcp                       # stdio
//	TAVILY_API_KEY=... tavily-mcp --transport http --addr :8765
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/AleutianAI/MathMentor/pkg/logging"
	"github.com/AleutianAI/MathMentor/services/orchestrator/websearch"
	"github.com/AleutianAI/MathMentor/services/tavily_mcp"
	"github.com/spf13/cobra"
)

const (
	transportStdio = "stdio"
	transportHTTP  = "http"
)

type serveOptions struct {
	transport string
	addr      string
	rateLimit float64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := serveOptions{
		transport: envOr("MCP_TRANSPORT", transportStdio),
		addr:      envOr("MCP_ADDR", ":8765"),
	}
	if v, err := strconv.ParseFloat(os.Getenv("TAVILY_RATE_LIMIT"), 64); err == nil {
		opts.rateLimit = v
	}

	cmd := &cobra.Command{
		Use:          "tavily-mcp",
		Short:        "Serve Tavily web search as an MCP tool",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.transport, "transport", opts.transport, "Transport to serve on: stdio or http")
	cmd.Flags().StringVar(&opts.addr, "addr", opts.addr, "Listen address for the http transport")
	cmd.Flags().Float64Var(&opts.rateLimit, "rate-limit", opts.rateLimit, "Maximum Tavily requests per second (0 = unlimited)")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	transport := strings.ToLower(strings.TrimSpace(opts.transport))
	if transport != transportStdio && transport != transportHTTP {
		return fmt.Errorf("unknown transport %q (want stdio or http)", opts.transport)
	}

	// stdout belongs to the MCP stream in stdio mode.
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "tavily-mcp",
		JSON:    true,
		Output:  os.Stderr,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	apiKey := tavilyAPIKey()
	if apiKey == "" {
		return fmt.Errorf("TAVILY_API_KEY is not set")
	}
	srv := tavily_mcp.NewServer(websearch.NewTavilyClient(apiKey, websearch.WithRateLimit(opts.rateLimit)))

	if transport == transportStdio {
		slog.Info("Serving MCP on stdio")
		return srv.ServeStdio()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ServeHTTP(ctx, opts.addr)
}

func tavilyAPIKey() string {
	if v := strings.TrimSpace(os.Getenv("TAVILY_API_KEY")); v != "" {
		return v
	}
	if b, err := os.ReadFile("/run/secrets/tavily_api_key"); err == nil {
		return strings.TrimSpace(string(b))
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
