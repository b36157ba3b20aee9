// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mentor is the MathMentor command-line client.
//
// # Usage
//
//	mentor ask "solve 2x + 3 = 7"
//	mentor health
//	mentor kb reload
//	mentor kb import --dataset problems.jsonl
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/AleutianAI/MathMentor/pkg/logging"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(envOrDefault("LOG_LEVEL", "warn")),
		Service: "mentor",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		logger.Close()
		os.Exit(1)
	}
}
