// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/MathMentor/services/orchestrator/datatypes"
	"github.com/AleutianAI/MathMentor/services/orchestrator/observability"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.orchestrator.knowledge")

// =============================================================================
// Field Mapping
// =============================================================================

// FieldMap maps the logical question/answer/source fields to the property
// names of a concrete collection.
type FieldMap struct {
	Question string
	Answer   string
	Source   string
}

var (
	// PreferredFields is the schema created by this service.
	PreferredFields = FieldMap{Question: "question", Answer: "answer", Source: "source"}

	// LegacyFields is the schema of collections built by the original
	// dataset import tooling.
	LegacyFields = FieldMap{Question: "input", Answer: "label", Source: "source_file"}
)

// detectFieldMap picks property names from the class's property list.
// Each logical field takes the preferred name when present, else the legacy
// one. No properties at all means the legacy layout.
func detectFieldMap(props []string) FieldMap {
	if len(props) == 0 {
		return LegacyFields
	}
	have := make(map[string]bool, len(props))
	for _, p := range props {
		have[p] = true
	}
	pick := func(preferred, legacy string) string {
		if have[preferred] {
			return preferred
		}
		return legacy
	}
	return FieldMap{
		Question: pick(PreferredFields.Question, LegacyFields.Question),
		Answer:   pick(PreferredFields.Answer, LegacyFields.Answer),
		Source:   pick(PreferredFields.Source, LegacyFields.Source),
	}
}

// isFieldError reports whether a query error names an unknown property.
func isFieldError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such prop") ||
		strings.Contains(msg, "property") ||
		strings.Contains(msg, "cannot query field")
}

// =============================================================================
// Backend
// =============================================================================

// backend is the subset of Weaviate operations the store needs. It exists
// so the adaptive logic can be tested without a server.
type backend interface {
	ClassProperties(ctx context.Context, class string) ([]string, error)
	NearVector(ctx context.Context, class string, fields []string, vector []float32, certainty float32, limit int) ([]map[string]interface{}, error)
	Insert(ctx context.Context, class string, props map[string]interface{}, vector []float32) (string, error)
}

type weaviateBackend struct {
	client *weaviate.Client
}

func (b *weaviateBackend) ClassProperties(ctx context.Context, class string) ([]string, error) {
	c, err := b.client.Schema().ClassGetter().WithClassName(class).Do(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.Properties))
	for _, p := range c.Properties {
		if p != nil {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

func (b *weaviateBackend) NearVector(ctx context.Context, class string, fields []string, vector []float32, certainty float32, limit int) ([]map[string]interface{}, error) {
	gqlFields := make([]graphql.Field, 0, len(fields)+1)
	for _, f := range fields {
		gqlFields = append(gqlFields, graphql.Field{Name: f})
	}
	gqlFields = append(gqlFields, graphql.Field{
		Name: "_additional",
		Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
			{Name: "distance"},
		},
	})

	nearVector := b.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(certainty)

	resp, err := b.client.GraphQL().Get().
		WithClassName(class).
		WithFields(gqlFields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if msg := datatypes.GraphQLErrorMessages(resp); msg != "" {
		return nil, fmt.Errorf("graphql error: %s", msg)
	}
	return datatypes.GetObjects(resp, class), nil
}

func (b *weaviateBackend) Insert(ctx context.Context, class string, props map[string]interface{}, vector []float32) (string, error) {
	w, err := b.client.Data().Creator().
		WithClassName(class).
		WithProperties(props).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return "", err
	}
	if w == nil || w.Object == nil {
		return "", nil
	}
	return string(w.Object.ID), nil
}

// =============================================================================
// WeaviateStore
// =============================================================================

// WeaviateConfig configures a WeaviateStore.
type WeaviateConfig struct {
	URL       string
	APIKey    string
	Class     string
	TopK      int
	Certainty float32
}

func (c *WeaviateConfig) applyDefaults() {
	c.Class = normalizeClassName(c.Class)
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.Certainty <= 0 {
		c.Certainty = DefaultCertainty
	}
}

// normalizeClassName capitalizes the first letter, as Weaviate does.
func normalizeClassName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return datatypes.DefaultKnowledgeClass
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// WeaviateStore is the adaptive Weaviate-backed Store.
//
// # Description
//
// The class schema is read at construction to decide the property names
// (see FieldMap). A query failing on an unknown property is retried once:
// with LegacyFields, or, when the mapping is already legacy, with whatever a
// fresh schema read detects. A successful retry's mapping is kept for later
// calls.
type WeaviateStore struct {
	backend   backend
	embedder  Embedder
	class     string
	topK      int
	certainty float32

	mu     sync.RWMutex
	fields FieldMap
}

// NewWeaviateStore connects to Weaviate and reads the class schema.
func NewWeaviateStore(ctx context.Context, cfg WeaviateConfig, embedder Embedder) (*WeaviateStore, error) {
	cfg.applyDefaults()
	client, err := newWeaviateClient(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return newWeaviateStore(ctx, &weaviateBackend{client: client}, cfg, embedder), nil
}

func newWeaviateStore(ctx context.Context, b backend, cfg WeaviateConfig, embedder Embedder) *WeaviateStore {
	cfg.applyDefaults()
	s := &WeaviateStore{
		backend:   b,
		embedder:  embedder,
		class:     cfg.Class,
		topK:      cfg.TopK,
		certainty: cfg.Certainty,
	}

	props, err := b.ClassProperties(ctx, s.class)
	if err != nil {
		slog.Warn("Could not read knowledge class schema, assuming legacy fields", "class", s.class, "error", err)
	}
	s.fields = detectFieldMap(props)
	slog.Info("Knowledge store field mapping",
		"class", s.class,
		"question", s.fields.Question,
		"answer", s.fields.Answer,
		"source", s.fields.Source)
	return s
}

// Fields returns the current field mapping.
func (s *WeaviateStore) Fields() FieldMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fields
}

// Search implements Store.
//
// # Description
//
// Embeds the query, runs a near-vector query with the certainty floor and
// converts the objects to RetrievalContext. topK <= 0 uses the configured
// default.
//
// # Outputs
//
//   - []RetrievalContext: Sorted by descending similarity.
//   - error: Embedding failure, or a query failure that the legacy retry
//     did not recover.
func (s *WeaviateStore) Search(ctx context.Context, query string, topK int) ([]RetrievalContext, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.Search")
	defer span.End()
	if topK <= 0 {
		topK = s.topK
	}
	span.SetAttributes(attribute.String("weaviate.class", s.class), attribute.Int("top_k", topK))

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.Default().RecordKnowledgeQuery("error")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	fields := s.Fields()
	objects, err := s.backend.NearVector(ctx, s.class, fieldList(fields), vector, s.certainty, topK)
	if err != nil && isFieldError(err) {
		if retry, ok := s.retryFields(ctx, fields); ok {
			slog.Warn("Knowledge query failed on field names, retrying",
				"class", s.class, "question", retry.Question, "error", err)
			observability.Default().RecordKnowledgeQuery("field_retry")
			fields = retry
			objects, err = s.backend.NearVector(ctx, s.class, fieldList(fields), vector, s.certainty, topK)
			if err == nil {
				s.mu.Lock()
				s.fields = fields
				s.mu.Unlock()
			}
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.Default().RecordKnowledgeQuery("error")
		return nil, fmt.Errorf("knowledge query failed: %w", err)
	}

	results := make([]RetrievalContext, 0, len(objects))
	for _, obj := range objects {
		results = append(results, toRetrievalContext(obj, fields))
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	status := "miss"
	if len(results) > 0 {
		status = "hit"
	}
	observability.Default().RecordKnowledgeQuery(status)
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// AddEntry implements Store. The stored vector is the L2-normalized
// embedding of question + "\n" + answer.
func (s *WeaviateStore) AddEntry(ctx context.Context, question, answer, source string) (string, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.AddEntry")
	defer span.End()

	vector, err := s.embedder.Embed(ctx, question+"\n"+answer)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to embed entry: %w", err)
	}

	props := datatypes.KnowledgeProperties{Question: question, Answer: answer, Source: source}
	fields := s.Fields()
	id, err := s.backend.Insert(ctx, s.class, props.ToMap(fields.Question, fields.Answer, fields.Source), normalize(vector))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to insert knowledge entry: %w", err)
	}
	slog.Info("Added knowledge entry", "class", s.class, "id", id, "source", source)
	return id, nil
}

// retryFields picks the mapping for a second attempt after a field error.
// A non-legacy mapping falls back to LegacyFields. A legacy mapping may come
// from a schema read that failed at startup, so the schema is read again.
func (s *WeaviateStore) retryFields(ctx context.Context, current FieldMap) (FieldMap, bool) {
	if current != LegacyFields {
		return LegacyFields, true
	}
	props, err := s.backend.ClassProperties(ctx, s.class)
	if err != nil {
		slog.Warn("Could not re-read knowledge class schema", "class", s.class, "error", err)
		return FieldMap{}, false
	}
	detected := detectFieldMap(props)
	return detected, detected != current
}

func fieldList(f FieldMap) []string {
	return []string{f.Question, f.Answer, f.Source}
}

func toRetrievalContext(obj map[string]interface{}, fields FieldMap) RetrievalContext {
	add := datatypes.AdditionalOf(obj)
	return RetrievalContext{
		DocumentID: add.ID,
		Question:   stringify(obj[fields.Question]),
		Answer:     stringify(obj[fields.Answer]),
		Similarity: similarity(add),
	}
}

// similarity prefers certainty and falls back to 1 - distance, clamped to
// [0, 1].
func similarity(add datatypes.KnowledgeAdditional) float64 {
	var s float64
	switch {
	case add.Certainty != nil:
		s = *add.Certainty
	case add.Distance != nil:
		s = 1 - *add.Distance
	}
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

// =============================================================================
// Client Construction
// =============================================================================

// newWeaviateClient parses a URL such as "http://weaviate:8080".
func newWeaviateClient(rawURL, apiKey string) (*weaviate.Client, error) {
	scheme, host := "http", strings.TrimSpace(rawURL)
	if i := strings.Index(host, "://"); i >= 0 {
		scheme, host = host[:i], host[i+3:]
	}
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return nil, fmt.Errorf("weaviate URL is empty")
	}
	cfg := weaviate.Config{Host: host, Scheme: scheme}
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	return client, nil
}

var (
	_ Store   = (*WeaviateStore)(nil)
	_ backend = (*weaviateBackend)(nil)
)

// EnsureSchema creates the knowledge class on the server at url when it is
// missing. Used before bulk imports.
func EnsureSchema(ctx context.Context, url, apiKey, class string) error {
	client, err := newWeaviateClient(url, apiKey)
	if err != nil {
		return err
	}
	return datatypes.EnsureKnowledgeSchema(ctx, client, normalizeClassName(class))
}
