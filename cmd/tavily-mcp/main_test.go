// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_EnvDefaults(t *testing.T) {
	t.Setenv("MCP_TRANSPORT", "http")
	t.Setenv("MCP_ADDR", ":9999")
	t.Setenv("TAVILY_RATE_LIMIT", "2.5")

	cmd := newRootCmd()
	transport, err := cmd.Flags().GetString("transport")
	require.NoError(t, err)
	addr, err := cmd.Flags().GetString("addr")
	require.NoError(t, err)
	rl, err := cmd.Flags().GetFloat64("rate-limit")
	require.NoError(t, err)

	assert.Equal(t, "http", transport)
	assert.Equal(t, ":9999", addr)
	assert.InDelta(t, 2.5, rl, 1e-9)
}

func TestRunServe_RejectsUnknownTransport(t *testing.T) {
	err := runServe(context.Background(), serveOptions{transport: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestRunServe_RequiresAPIKey(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "")
	err := runServe(context.Background(), serveOptions{transport: transportHTTP, addr: "127.0.0.1:0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TAVILY_API_KEY")
}

func TestEnvOr(t *testing.T) {
	t.Setenv("MENTOR_TEST_KEY", "  ")
	assert.Equal(t, "fallback", envOr("MENTOR_TEST_KEY", "fallback"))
	t.Setenv("MENTOR_TEST_KEY", "set")
	assert.Equal(t, "set", envOr("MENTOR_TEST_KEY", "fallback"))
}
