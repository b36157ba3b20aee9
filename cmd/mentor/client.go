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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/MathMentor/services/orchestrator/datatypes"
	"github.com/AleutianAI/MathMentor/services/orchestrator/pipeline"
)

// chatReply mirrors the orchestrator's POST /api/chat body.
type chatReply struct {
	pipeline.Result
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

type healthReply struct {
	Status        string   `json:"status"`
	LLMBackend    string   `json:"llm_backend"`
	KnowledgeBase bool     `json:"knowledge_base"`
	WebProviders  []string `json:"web_providers"`
}

type reloadReply struct {
	Status        string `json:"status"`
	KnowledgeBase bool   `json:"knowledge_base"`
}

// apiError is a non-2xx orchestrator response.
type apiError struct {
	Status int
	Detail string
	Code   string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("orchestrator returned %d (%s): %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("orchestrator returned %d: %s", e.Status, e.Detail)
}

// orchestratorClient calls the orchestrator HTTP API.
type orchestratorClient struct {
	baseURL string
	http    *http.Client
}

func newOrchestratorClient(baseURL string, timeout time.Duration) *orchestratorClient {
	return &orchestratorClient{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *orchestratorClient) Chat(ctx context.Context, req datatypes.ChatRequest) (*chatReply, error) {
	var reply chatReply
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *orchestratorClient) Health(ctx context.Context) (*healthReply, error) {
	var reply healthReply
	if err := c.do(ctx, http.MethodGet, "/health", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *orchestratorClient) ReloadKnowledge(ctx context.Context) (*reloadReply, error) {
	var reply reloadReply
	if err := c.do(ctx, http.MethodGet, "/api/vector-store/reload", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *orchestratorClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach orchestrator at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}
		var errBody datatypes.ErrorResponse
		if json.Unmarshal(raw, &errBody) == nil && errBody.Detail != "" {
			apiErr.Detail = errBody.Detail
			apiErr.Code = errBody.Code
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
