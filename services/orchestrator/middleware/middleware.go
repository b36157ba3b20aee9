// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// AppEnvHeader is the response header carrying the deployment environment.
const AppEnvHeader = "X-App-Env"

// AppEnv sets the X-App-Env header on every response.
func AppEnv(env string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(AppEnvHeader, env)
		c.Next()
	}
}

// RequestLogger logs one line per request through slog.
//
// # Description
//
// Server errors log at Error, client errors at Warn and everything else at
// Debug so that health checks stay quiet. When otelgin has started a span
// its trace ID is attached.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"durationMs", time.Since(start).Milliseconds(),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			attrs = append(attrs, "traceId", sc.TraceID().String())
		}
		switch {
		case status >= 500:
			slog.Error("Request failed", attrs...)
		case status >= 400:
			slog.Warn("Request rejected", attrs...)
		default:
			slog.Debug("Request handled", attrs...)
		}
	}
}
