// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the MathMentor service together.
//
// The orchestrator owns every long-lived component: the LLM backend, the
// knowledge store handle, the web search chain, the clarification gate, the
// BadgerDB database behind feedback and history, the cleanup scheduler, and
// the gin router. cmd/orchestrator builds a Config from the environment and
// calls New then Run.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, LLMBackend: "gemini"}
//	svc, err := orchestrator.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/orchestrator/agents"
	"github.com/AleutianAI/MathMentor/services/orchestrator/clarification"
	"github.com/AleutianAI/MathMentor/services/orchestrator/feedback"
	"github.com/AleutianAI/MathMentor/services/orchestrator/handlers"
	"github.com/AleutianAI/MathMentor/services/orchestrator/history"
	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
	"github.com/AleutianAI/MathMentor/services/orchestrator/middleware"
	"github.com/AleutianAI/MathMentor/services/orchestrator/observability"
	"github.com/AleutianAI/MathMentor/services/orchestrator/pipeline"
	"github.com/AleutianAI/MathMentor/services/orchestrator/retrieval"
	"github.com/AleutianAI/MathMentor/services/orchestrator/routes"
	"github.com/AleutianAI/MathMentor/services/orchestrator/storage/badgerdb"
	"github.com/AleutianAI/MathMentor/services/orchestrator/ttl"
	"github.com/AleutianAI/MathMentor/services/orchestrator/websearch"
	"github.com/AleutianAI/MathMentor/services/policy_engine"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Configuration
// =============================================================================

// Trace exporter names for Config.TraceExporter.
const (
	TraceExporterOTLP   = "otlp"
	TraceExporterStdout = "stdout"
	TraceExporterNone   = "none"
)

// Config holds orchestrator configuration options.
//
// # Description
//
// Every field is optional. applyConfigDefaults fills zero values; an empty
// WeaviateURL disables the knowledge base, empty web credentials disable
// the matching providers, an empty RedisAddr keeps clarification slots in
// memory, and an empty DataDir keeps feedback and history in memory.
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int
	// AppEnv is echoed in the X-App-Env header. Default: "development"
	AppEnv string
	// GinMode sets the Gin framework mode. Empty leaves gin's default.
	GinMode string

	// LLMBackend is "gemini", "openai" or "ollama". Default: "gemini"
	LLMBackend    string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OllamaBaseURL string
	OllamaModel   string

	// WhisperAPIKey switches audio transcription from the multimodal LLM
	// to an OpenAI-compatible Whisper endpoint.
	WhisperAPIKey  string
	WhisperBaseURL string
	WhisperModel   string

	WeaviateURL        string
	WeaviateAPIKey     string
	WeaviateCollection string
	// KBTopK default: 4. KBThreshold default: 0.80
	KBTopK      int
	KBThreshold float64

	// EmbeddingBackend is "openai", "ollama" or "service". Default: "openai"
	EmbeddingBackend string
	EmbeddingModel   string
	EmbeddingURL     string
	EmbeddingAPIKey  string

	MCPTavilyURL  string
	TavilyAPIKey  string
	TavilyBaseURL string
	// WebSearchTool picks the langchaingo tool: "tavily" or "duckduckgo".
	WebSearchTool string
	// WebSearchTimeout bounds each provider. Default: 10s
	WebSearchTimeout time.Duration
	// TavilyRateLimit is requests per second; 0 disables limiting.
	TavilyRateLimit float64

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// ClarificationTTL default: 15m
	ClarificationTTL time.Duration

	// DataDir holds the BadgerDB files. Empty runs in memory.
	DataDir string
	// CleanupInterval default: 5m
	CleanupInterval time.Duration

	GuardrailsPolicyFile    string
	EnforceInputGuardrails  bool
	EnforceOutputGuardrails bool

	// OTelEndpoint default: "aleutian-otel-collector:4317"
	OTelEndpoint string
	// TraceExporter default: TraceExporterOTLP
	TraceExporter string
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "gemini"
	}
	if cfg.WeaviateCollection == "" {
		cfg.WeaviateCollection = "Mathvectors"
	}
	if cfg.KBTopK <= 0 {
		cfg.KBTopK = knowledge.DefaultTopK
	}
	if cfg.KBThreshold <= 0 {
		cfg.KBThreshold = 0.80
	}
	if cfg.EmbeddingBackend == "" {
		cfg.EmbeddingBackend = "openai"
	}
	if cfg.WebSearchTool == "" {
		cfg.WebSearchTool = "tavily"
	}
	if cfg.WebSearchTimeout <= 0 {
		cfg.WebSearchTimeout = websearch.DefaultProviderTimeout
	}
	if cfg.ClarificationTTL <= 0 {
		cfg.ClarificationTTL = clarification.DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = ttl.DefaultSchedulerConfig().Interval
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.TraceExporter == "" {
		cfg.TraceExporter = TraceExporterOTLP
	}
	return cfg
}

// =============================================================================
// Service
// =============================================================================

// Service is a fully wired orchestrator.
//
// # Thread Safety
//
// Safe for concurrent use after New returns. Run is called once.
type Service struct {
	config        Config
	router        *gin.Engine
	llmClient     llm.LLMClient
	policyEngine  *policy_engine.PolicyEngine
	knowledge     *knowledge.Handle
	webChain      *websearch.Chain
	pipeline      *pipeline.Pipeline
	db            *badgerdb.DB
	redisStore    *clarification.RedisStore
	scheduler     *ttl.Scheduler
	tracerCleanup func(context.Context)
	cancel        context.CancelFunc
}

// New creates the orchestrator Service.
//
// # Description
//
// New initializes, in order:
//  1. Defaults and tracing
//  2. Prometheus metrics
//  3. The LLM backend, agents and media readers
//  4. The guardrails engine, with hot reload when a policy file is set
//  5. The knowledge handle and web search chain
//  6. The clarification gate (Redis or memory)
//  7. BadgerDB, the feedback queue and chat history
//  8. The cleanup scheduler and the HTTP router
//
// Only the LLM backend, guardrails and BadgerDB are fatal. Everything else
// degrades to a disabled component with a log line.
//
// # Inputs
//
//   - ctx: Lifetime of background work (policy watcher, scheduler).
//   - cfg: Configuration. Zero values use defaults.
//
// # Outputs
//
//   - *Service: Ready to Run. Call Close when done.
//   - error: Non-nil if a required component failed.
func New(ctx context.Context, cfg Config) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{config: applyConfigDefaults(cfg), cancel: cancel}

	cleanup, err := initTracer(ctx, s.config)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if observability.Default() == nil {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	if err := s.init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init(ctx context.Context) error {
	var err error
	s.llmClient, err = newLLMClient(ctx, s.config)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	media := newMediaReaders(s.config, s.llmClient)

	s.policyEngine, err = newPolicyEngine(ctx, s.config.GuardrailsPolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	s.knowledge = knowledge.NewHandle(s.knowledgeLoader())
	s.webChain = newWebChain(s.config)

	gateStore, err := s.newGateStore(ctx)
	if err != nil {
		return err
	}

	s.pipeline, err = pipeline.New(pipeline.Config{
		Parser:                  agents.NewParserAgent(s.llmClient),
		Router:                  agents.NewRouterAgent(s.llmClient),
		Solver:                  agents.NewSolverAgent(s.llmClient),
		Verifier:                agents.NewVerifierAgent(s.llmClient),
		Explainer:               agents.NewExplainerAgent(s.llmClient),
		Retriever:               retrieval.New(s.knowledge, s.webChain, s.config.KBTopK),
		Gate:                    clarification.NewGate(gateStore, s.config.ClarificationTTL),
		Guardrails:              s.policyEngine,
		EnforceInputGuardrails:  s.config.EnforceInputGuardrails,
		EnforceOutputGuardrails: s.config.EnforceOutputGuardrails,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	if err := s.openDB(); err != nil {
		return err
	}

	s.initScheduler(ctx, gateStore)

	s.initRouter(routes.Dependencies{
		Chat:      s.pipeline,
		Media:     media,
		Feedback:  feedback.NewQueue(s.db),
		Updater:   knowledge.NewUpdater(s.knowledge, agents.NewSolutionValidator(s.llmClient)),
		Knowledge: s.knowledge,
		History:   history.NewStore(s.db),
		Health:    s.health,
	})
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts the server down.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Port, "appEnv", s.config.AppEnv)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down orchestrator server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Router returns the gin engine. Used by tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Close stops background work and releases storage. Safe to call more
// than once.
func (s *Service) Close() {
	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			slog.Warn("Cleanup scheduler stop error", "error", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.redisStore != nil {
		if err := s.redisStore.Close(); err != nil {
			slog.Warn("Redis close error", "error", err)
		}
		s.redisStore = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("BadgerDB close error", "error", err)
		}
		s.db = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer installs the global tracer provider.
//
// # Description
//
// TraceExporterOTLP sends spans to the collector over insecure gRPC,
// TraceExporterStdout pretty-prints them, and TraceExporterNone leaves the
// global no-op provider in place.
func initTracer(ctx context.Context, cfg Config) (func(context.Context), error) {
	var exporter sdktrace.SpanExporter
	switch cfg.TraceExporter {
	case TraceExporterNone:
		return func(context.Context) {}, nil
	case TraceExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		conn, err := grpc.NewClient(cfg.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("mathmentor-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// newLLMClient creates the generation backend named by cfg.LLMBackend.
func newLLMClient(ctx context.Context, cfg Config) (llm.LLMClient, error) {
	switch cfg.LLMBackend {
	case "gemini":
		slog.Info("Using Gemini LLM backend")
		return llm.NewGeminiClientWithConfig(ctx, llm.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
		}
		model := cfg.OpenAIModel
		if model == "" {
			model = "gpt-4o-mini"
		}
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClientWithConfig(cfg.OpenAIAPIKey, model, cfg.OpenAIBaseURL), nil
	case "ollama":
		if cfg.OllamaBaseURL == "" {
			return nil, fmt.Errorf("OLLAMA_BASE_URL is required for the ollama backend")
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "qwen2.5-math"
		}
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClientWithConfig(cfg.OllamaBaseURL, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.LLMBackend)
	}
}

// newMediaReaders picks the image reader and transcriber. Images need a
// multimodal backend; audio prefers Whisper when configured.
func newMediaReaders(cfg Config, client llm.LLMClient) handlers.MediaReaders {
	var readers handlers.MediaReaders
	if mm, ok := client.(llm.MultimodalClient); ok {
		reader := agents.NewMediaReader(mm)
		readers.Images = reader
		readers.Audio = reader
	}
	if cfg.WhisperAPIKey != "" {
		readers.Audio = agents.NewWhisperTranscriber(cfg.WhisperAPIKey, cfg.WhisperBaseURL, cfg.WhisperModel)
	}
	if readers.Images == nil {
		slog.Warn("LLM backend is not multimodal, image questions disabled", "backend", cfg.LLMBackend)
	}
	if readers.Audio == nil {
		slog.Warn("No transcriber configured, audio questions disabled")
	}
	return readers
}

// newPolicyEngine loads the embedded policy, or path when set, and watches
// path for changes until ctx ends.
func newPolicyEngine(ctx context.Context, path string) (*policy_engine.PolicyEngine, error) {
	if path == "" {
		return policy_engine.NewPolicyEngine()
	}
	engine, err := policy_engine.NewPolicyEngineFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := engine.Watch(ctx, path, nil); err != nil {
		slog.Warn("Guardrails policy hot reload disabled", "path", path, "error", err)
	}
	return engine, nil
}

// knowledgeLoader returns the Loader used by the knowledge handle on first
// use and on every reload.
func (s *Service) knowledgeLoader() knowledge.Loader {
	cfg := s.config
	return func(ctx context.Context) (knowledge.Store, error) {
		if cfg.WeaviateURL == "" {
			return knowledge.Open(ctx, knowledge.Config{}, nil), nil
		}
		embedder, err := knowledge.NewEmbedder(knowledge.EmbedderConfig{
			Backend: cfg.EmbeddingBackend,
			Model:   cfg.EmbeddingModel,
			BaseURL: cfg.EmbeddingURL,
			APIKey:  cfg.EmbeddingAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		return knowledge.Open(ctx, knowledge.Config{
			URL:       cfg.WeaviateURL,
			APIKey:    cfg.WeaviateAPIKey,
			Class:     cfg.WeaviateCollection,
			TopK:      cfg.KBTopK,
			Certainty: float32(cfg.KBThreshold),
		}, embedder), nil
	}
}

// newWebChain builds the provider chain in priority order: MCP, the
// langchaingo tool, then the direct Tavily client.
func newWebChain(cfg Config) *websearch.Chain {
	opts := []websearch.TavilyOption{websearch.WithRateLimit(cfg.TavilyRateLimit)}
	if cfg.TavilyBaseURL != "" {
		opts = append(opts, websearch.WithTavilyURL(cfg.TavilyBaseURL))
	}
	tavily := websearch.NewTavilyClient(cfg.TavilyAPIKey, opts...)

	providers := []websearch.Provider{websearch.NewMCPProvider(cfg.MCPTavilyURL)}

	switch cfg.WebSearchTool {
	case "duckduckgo":
		tool, err := websearch.NewDuckDuckGoTool(websearch.DefaultMaxDocuments)
		if err != nil {
			slog.Warn("DuckDuckGo tool unavailable", "error", err)
		} else {
			providers = append(providers, websearch.NewToolProvider(tool))
		}
	default:
		providers = append(providers, websearch.NewToolProvider(websearch.NewTavilyTool(tavily, websearch.DefaultMaxDocuments)))
	}
	providers = append(providers, websearch.NewSDKProvider(tavily))

	return websearch.NewChain(websearch.ChainConfig{ProviderTimeout: cfg.WebSearchTimeout}, providers...)
}

// newGateStore returns a Redis store when RedisAddr is set and reachable,
// otherwise an in-memory store.
func (s *Service) newGateStore(ctx context.Context) (clarification.Store, error) {
	if s.config.RedisAddr == "" {
		slog.Info("REDIS_ADDR not set, clarification slots kept in memory")
		return clarification.NewMemoryStore(), nil
	}
	store := clarification.NewRedisStore(s.config.RedisAddr, s.config.RedisPassword, s.config.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		slog.Warn("Redis unreachable, clarification slots kept in memory", "addr", s.config.RedisAddr, "error", err)
		return clarification.NewMemoryStore(), nil
	}
	s.redisStore = store
	slog.Info("Clarification slots stored in Redis", "addr", s.config.RedisAddr)
	return store, nil
}

func (s *Service) openDB() error {
	var (
		db  *badgerdb.DB
		err error
	)
	if s.config.DataDir == "" {
		slog.Warn("DATA_DIR not set, feedback and history kept in memory")
		db, err = badgerdb.OpenInMemory()
	} else {
		if err := os.MkdirAll(s.config.DataDir, 0750); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
		db, err = badgerdb.Open(badgerdb.DefaultConfig(s.config.DataDir))
	}
	if err != nil {
		return fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	s.db = db
	return nil
}

// initScheduler starts the cleanup jobs. Redis expires slots itself, so the
// sweep only runs for the in-memory store.
func (s *Service) initScheduler(ctx context.Context, gateStore clarification.Store) {
	jobs := []ttl.Job{ttl.JobFunc("badger_gc", s.db.RunGC)}
	if mem, ok := gateStore.(*clarification.MemoryStore); ok {
		jobs = append(jobs, ttl.JobFunc("clarification_sweep", mem.Sweep))
	}
	cfg := ttl.DefaultSchedulerConfig()
	cfg.Interval = s.config.CleanupInterval
	s.scheduler = ttl.NewScheduler(cfg, jobs...)
	if err := s.scheduler.Start(ctx); err != nil {
		slog.Warn("Cleanup scheduler failed to start", "error", err)
	}
}

func (s *Service) initRouter(deps routes.Dependencies) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("mathmentor-orchestrator"))
	s.router.Use(middleware.AppEnv(s.config.AppEnv))
	s.router.Use(middleware.RequestLogger())

	routes.SetupRoutes(s.router, deps)
}

func (s *Service) health(ctx context.Context) handlers.HealthInfo {
	return handlers.HealthInfo{
		LLMBackend:    s.config.LLMBackend,
		KnowledgeBase: !knowledge.IsNull(s.knowledge.Get(ctx)),
		WebProviders:  s.webChain.Providers(),
	}
}
