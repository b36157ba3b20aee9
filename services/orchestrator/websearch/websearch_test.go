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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// =============================================================================
// Test Doubles
// =============================================================================

type fakeProvider struct {
	id    string
	docs  []Document
	err   error
	delay time.Duration
	calls int32
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Search(ctx context.Context, _ string, _ int) ([]Document, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.docs, f.err
}

func docs(prefix string, n int) []Document {
	out := make([]Document, n)
	for i := range out {
		out[i] = Document{ID: fmt.Sprint(i), Title: fmt.Sprintf("%s %d", prefix, i), URL: fmt.Sprintf("https://%s.example/%d", prefix, i)}
	}
	return out
}

// =============================================================================
// Chain Tests
// =============================================================================

func TestChain_FirstProviderEnough(t *testing.T) {
	first := &fakeProvider{id: ProviderTavilyMCP, docs: docs("mcp", 5)}
	second := &fakeProvider{id: ProviderTavilyLangchain, docs: docs("lc", 3)}

	res := NewChain(ChainConfig{}, first, second).Search(context.Background(), "q")
	require.NotNil(t, res)
	assert.Len(t, res.Documents, 5)
	assert.Equal(t, ProviderTavilyMCP, res.Source)
	assert.Zero(t, atomic.LoadInt32(&second.calls))
}

func TestChain_FallsThroughAndDedupes(t *testing.T) {
	first := &fakeProvider{id: ProviderTavilyMCP, docs: docs("a", 2)}
	second := &fakeProvider{id: ProviderTavilyLangchain, docs: append(docs("a", 1), docs("b", 4)...)}
	third := &fakeProvider{id: ProviderTavilySDK, docs: docs("c", 2)}

	res := NewChain(ChainConfig{}, first, second, third).Search(context.Background(), "q")
	require.NotNil(t, res)
	require.Len(t, res.Documents, 5)
	assert.Equal(t, "https://a.example/0", res.Documents[0].URL)
	assert.Equal(t, "https://a.example/1", res.Documents[1].URL)
	assert.Equal(t, "https://b.example/0", res.Documents[2].URL)
	assert.Equal(t, "tavily-mcp+tavily-langchain", res.Source)
	assert.Zero(t, atomic.LoadInt32(&third.calls))
}

func TestChain_EmptyURLsAreNotDuplicates(t *testing.T) {
	p := &fakeProvider{id: ProviderTavilySDK, docs: []Document{{Title: "x"}, {Title: "y"}, {Title: "z", URL: "https://z"}, {Title: "z2", URL: "https://z"}}}

	res := NewChain(ChainConfig{}, p).Search(context.Background(), "q")
	require.NotNil(t, res)
	assert.Len(t, res.Documents, 3)
}

func TestChain_MaxDocumentsCap(t *testing.T) {
	p := &fakeProvider{id: ProviderTavilyMCP, docs: docs("a", 9)}
	res := NewChain(ChainConfig{}, p).Search(context.Background(), "q")
	require.NotNil(t, res)
	assert.Len(t, res.Documents, DefaultMaxDocuments)
}

func TestChain_SkipsUnconfiguredAndFailedProviders(t *testing.T) {
	unconfigured := &fakeProvider{id: ProviderTavilyMCP, err: ErrNotConfigured}
	failing := &fakeProvider{id: ProviderTavilyLangchain, err: errors.New("boom")}
	working := &fakeProvider{id: ProviderTavilySDK, docs: docs("sdk", 2)}

	res := NewChain(ChainConfig{}, unconfigured, failing, working).Search(context.Background(), "q")
	require.NotNil(t, res)
	assert.Equal(t, ProviderTavilySDK, res.Source)
	assert.Len(t, res.Documents, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&failing.calls))
}

func TestChain_ProviderTimeout(t *testing.T) {
	slow := &fakeProvider{id: ProviderTavilyMCP, docs: docs("slow", 5), delay: time.Second}
	fast := &fakeProvider{id: ProviderTavilySDK, docs: docs("fast", 1)}

	res := NewChain(ChainConfig{ProviderTimeout: 20 * time.Millisecond}, slow, fast).Search(context.Background(), "q")
	require.NotNil(t, res)
	assert.Equal(t, ProviderTavilySDK, res.Source)
}

func TestChain_NothingFound(t *testing.T) {
	res := NewChain(ChainConfig{},
		&fakeProvider{id: ProviderTavilyMCP, err: ErrNotConfigured},
		&fakeProvider{id: ProviderTavilySDK},
	).Search(context.Background(), "q")
	assert.Nil(t, res)
}

func TestChain_ProviderWithNoNewDocumentsIsNotInSource(t *testing.T) {
	first := &fakeProvider{id: ProviderTavilyMCP, docs: docs("a", 1)}
	second := &fakeProvider{id: ProviderTavilyLangchain, docs: docs("a", 1)}

	res := NewChain(ChainConfig{}, first, second).Search(context.Background(), "q")
	require.NotNil(t, res)
	assert.Equal(t, ProviderTavilyMCP, res.Source)
}

func TestNewChain_DropsNilProviders(t *testing.T) {
	c := NewChain(ChainConfig{}, nil, &fakeProvider{id: "x"})
	assert.Equal(t, []string{"x"}, c.Providers())
}

func TestResult_Citations(t *testing.T) {
	r := &Result{Documents: []Document{
		{Title: "A", URL: "https://a"},
		{Title: "A again", URL: "https://a"},
		{Title: "no url"},
		{Title: "B", URL: "https://b"},
	}}
	assert.Equal(t, []Citation{{Title: "A", URL: "https://a"}, {Title: "B", URL: "https://b"}}, r.Citations())
	assert.Nil(t, (*Result)(nil).Citations())
}

func TestProviderError(t *testing.T) {
	err := &ProviderError{Provider: "p", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "p: context deadline exceeded", err.Error())
}

// =============================================================================
// Tavily Tests
// =============================================================================

func TestTavilyResponse_Documents(t *testing.T) {
	resp := TavilyResponse{Results: []TavilyResult{
		{ID: "x1", Title: "T", URL: "https://t", Content: "c", Score: 0.5},
		{URL: "https://u"},
	}}
	assert.Equal(t, []Document{
		{ID: "x1", Title: "T", URL: "https://t", Snippet: "c", Score: 0.5},
		{ID: "1", Title: "Untitled", URL: "https://u"},
	}, resp.Documents())
}

func newTavilyServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req TavilyRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "basic", req.SearchDepth)
		assert.Equal(t, "general", req.Topic)
		_ = json.NewEncoder(w).Encode(TavilyResponse{Results: []TavilyResult{
			{Title: req.Query, URL: "https://example.com/1", Content: "snippet"},
		}})
	}))
}

func TestTavilyClient_Search(t *testing.T) {
	var hits int32
	srv := newTavilyServer(t, &hits)
	defer srv.Close()

	c := NewTavilyClient("key", WithTavilyURL(srv.URL), WithRateLimit(0))
	resp, err := c.Search(context.Background(), TavilyRequest{Query: "limits", MaxResults: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "limits", resp.Results[0].Title)
}

func TestTavilyClient_NotConfigured(t *testing.T) {
	_, err := NewTavilyClient("  ").Search(context.Background(), TavilyRequest{Query: "q"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTavilyClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTavilyClient("key", WithTavilyURL(srv.URL)).Search(context.Background(), TavilyRequest{Query: "q"})
	assert.ErrorContains(t, err, "401")
}

func TestTavilyClient_RateLimiterHonoursContext(t *testing.T) {
	var hits int32
	srv := newTavilyServer(t, &hits)
	defer srv.Close()

	c := NewTavilyClient("key", WithTavilyURL(srv.URL), WithRateLimit(0.01))
	_, err := c.Search(context.Background(), TavilyRequest{Query: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Search(ctx, TavilyRequest{Query: "second"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSDKProvider(t *testing.T) {
	var hits int32
	srv := newTavilyServer(t, &hits)
	defer srv.Close()

	p := NewSDKProvider(NewTavilyClient("key", WithTavilyURL(srv.URL), WithRateLimit(0)))
	assert.Equal(t, ProviderTavilySDK, p.ID())
	got, err := p.Search(context.Background(), "derivative", 5)
	require.NoError(t, err)
	assert.Equal(t, []Document{{ID: "0", Title: "derivative", URL: "https://example.com/1", Snippet: "snippet"}}, got)
}

// =============================================================================
// langchaingo Tool Tests
// =============================================================================

type stubTool struct {
	out string
	err error
}

func (s stubTool) Name() string                                 { return "stub" }
func (s stubTool) Description() string                          { return "stub" }
func (s stubTool) Call(context.Context, string) (string, error) { return s.out, s.err }

func TestToolProvider_TavilyTool(t *testing.T) {
	var hits int32
	srv := newTavilyServer(t, &hits)
	defer srv.Close()

	tool := NewTavilyTool(NewTavilyClient("key", WithTavilyURL(srv.URL), WithRateLimit(0)), 5)
	assert.Equal(t, "tavily_search", tool.Name())

	got, err := NewToolProvider(tool).Search(context.Background(), "integral", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "integral", got[0].Title)
}

func TestToolProvider_TextOutput(t *testing.T) {
	out := "Title: Limits\nDescription: Intro to limits\nURL: https://example.com/limits\n\n" +
		"Title: Series\nDescription: Power series\nURL: https://example.com/series\n\n"

	got, err := NewToolProvider(stubTool{out: out}).Search(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Equal(t, []Document{{ID: "0", Title: "Limits", URL: "https://example.com/limits", Snippet: "Intro to limits"}}, got)
}

func TestToolProvider_Errors(t *testing.T) {
	_, err := NewToolProvider(nil).Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewToolProvider(stubTool{err: errors.New("down")}).Search(context.Background(), "q", 5)
	assert.Error(t, err)
}

func TestToolProvider_DuckDuckGoNoResults(t *testing.T) {
	got, err := NewToolProvider(stubTool{out: "No good DuckDuckGo Search Results was found"}).
		Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// emptyPageTransport answers every request with a results page that has no
// hits.
type emptyPageTransport struct{}

func (emptyPageTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(strings.NewReader("<html><body><div class=\"no-results\"></div></body></html>")),
		Request:    req,
	}, nil
}

func TestNewDuckDuckGoTool_EmptyPageGivesNoDocuments(t *testing.T) {
	tool, err := NewDuckDuckGoTool(3, duckduckgo.WithHTTPClient(&http.Client{Transport: emptyPageTransport{}}))
	require.NoError(t, err)

	got, err := NewToolProvider(tool).Search(context.Background(), "obscure lemma", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// MCP Provider Tests
// =============================================================================

func newMCPTestServer(t *testing.T, handler server.ToolHandlerFunc) *httptest.Server {
	t.Helper()
	s := server.NewMCPServer("tavily-test", "0.0.1", server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool(TavilySearchTool,
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("max_results"),
	), handler)
	return server.NewTestStreamableHTTPServer(s)
}

func TestMCPProvider_Search(t *testing.T) {
	srv := newMCPTestServer(t, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, _ := req.RequireString("query")
		body, _ := json.Marshal(TavilyResponse{Results: []TavilyResult{
			{Title: query, URL: "https://example.com/a"},
			{Title: "Second", URL: "https://example.com/b"},
		}})
		return mcp.NewToolResultText(string(body)), nil
	})
	defer srv.Close()

	got, err := NewMCPProvider(srv.URL).Search(context.Background(), "eigenvalues", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "eigenvalues", got[0].Title)
}

func TestMCPProvider_ToolError(t *testing.T) {
	srv := newMCPTestServer(t, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("quota exceeded"), nil
	})
	defer srv.Close()

	_, err := NewMCPProvider(srv.URL).Search(context.Background(), "q", 5)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestMCPProvider_NotConfigured(t *testing.T) {
	_, err := NewMCPProvider("").Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
