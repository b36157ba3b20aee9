// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the MathMentor HTTP server.
//
// It reads configuration from environment variables (see loadConfig) and
// serves until SIGINT or SIGTERM.
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	LLM_BACKEND_TYPE=gemini GEMINI_API_KEY=... ./orchestrator
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/MathMentor/pkg/logging"
	"github.com/AleutianAI/MathMentor/services/orchestrator"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "orchestrator",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := loadConfig()
	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llmBackend", cfg.LLMBackend,
		"weaviateUrl", cfg.WeaviateURL,
		"webSearchTool", cfg.WebSearchTool,
		"redis", cfg.RedisAddr != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := orchestrator.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	defer svc.Close()

	if err := svc.Run(ctx); err != nil {
		slog.Error("Orchestrator error", "error", err)
		os.Exit(1)
	}
}
