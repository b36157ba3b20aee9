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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/MathMentor/pkg/ux"
	"github.com/AleutianAI/MathMentor/services/orchestrator/datatypes"
	"github.com/AleutianAI/MathMentor/services/orchestrator/knowledge"
	"github.com/AleutianAI/MathMentor/services/orchestrator/pipeline"
	"github.com/spf13/cobra"
)

const defaultOrchestratorURL = "http://localhost:12210"

// cliContext carries the persistent flags and output streams to every
// subcommand.
type cliContext struct {
	orchestratorURL string
	outputLevel     string
	timeout         time.Duration

	stdout io.Writer
	stderr io.Writer
}

func (c *cliContext) client() *orchestratorClient {
	return newOrchestratorClient(c.orchestratorURL, c.timeout)
}

func (c *cliContext) printer() *ux.Printer {
	level := ux.ParseLevel(c.outputLevel)
	if c.outputLevel == "" {
		f, _ := c.stdout.(*os.File)
		level = ux.DetectLevel(f)
	}
	return ux.NewPrinter(c.stdout, c.stderr, level)
}

// newRootCmd builds the mentor command tree writing to stdout and stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cli := &cliContext{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "mentor",
		Short: "A CLI for the MathMentor orchestrator",
		Long: `mentor asks the MathMentor orchestrator math questions and manages
its knowledge base.`,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	orchestratorURL := os.Getenv("MENTOR_ORCHESTRATOR_URL")
	if orchestratorURL == "" {
		orchestratorURL = defaultOrchestratorURL
	}
	root.PersistentFlags().StringVar(&cli.orchestratorURL, "orchestrator", orchestratorURL,
		"Orchestrator base URL (env MENTOR_ORCHESTRATOR_URL)")
	root.PersistentFlags().StringVar(&cli.outputLevel, "output", "",
		"Output style: styled, plain or machine (default: detect)")
	root.PersistentFlags().DurationVar(&cli.timeout, "timeout", 3*time.Minute,
		"Request timeout")

	root.AddCommand(newAskCmd(cli), newHealthCmd(cli), newKBCmd(cli))
	return root
}

// =============================================================================
// ask
// =============================================================================

type askOptions struct {
	imagePath      string
	audioPath      string
	conversationID string
	sessionID      string
	jsonOutput     bool
}

func newAskCmd(cli *cliContext) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the tutor a math question",
		Long: `Sends a question to the orchestrator, which checks the knowledge base,
falls back to web search, and returns a verified step-by-step solution.

Examples:
  mentor ask "integrate x^2 from 0 to 1"
  mentor ask --image worksheet.png
  mentor ask --audio question.m4a --conversation c-42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildChatRequest(strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			reply, err := cli.client().Chat(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cli.stdout, reply)
			}
			renderAnswer(cli.printer(), reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.imagePath, "image", "", "Path to an image of the problem")
	cmd.Flags().StringVar(&opts.audioPath, "audio", "", "Path to an audio recording of the problem")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "Conversation ID, needed to answer clarification requests")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "Chat history session to record the turn in")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the raw JSON response")
	return cmd
}

func buildChatRequest(question string, opts askOptions) (datatypes.ChatRequest, error) {
	req := datatypes.ChatRequest{
		Query:          strings.TrimSpace(question),
		Modality:       "text",
		ConversationID: opts.conversationID,
		SessionID:      opts.sessionID,
	}
	switch {
	case opts.imagePath != "" && opts.audioPath != "":
		return req, fmt.Errorf("--image and --audio cannot be used together")
	case opts.imagePath != "":
		data, err := os.ReadFile(opts.imagePath)
		if err != nil {
			return req, fmt.Errorf("failed to read image: %w", err)
		}
		req.Modality = "image"
		req.ImageBase64 = base64.StdEncoding.EncodeToString(data)
	case opts.audioPath != "":
		data, err := os.ReadFile(opts.audioPath)
		if err != nil {
			return req, fmt.Errorf("failed to read audio: %w", err)
		}
		req.Modality = "audio"
		req.AudioBase64 = base64.StdEncoding.EncodeToString(data)
	case req.Query == "":
		return req, fmt.Errorf("a question, --image or --audio is required")
	}
	return req, nil
}

func renderAnswer(p *ux.Printer, reply *chatReply) {
	p.Box("Answer", reply.Answer)

	if len(reply.Steps) > 0 {
		p.Title("\nSteps")
		for i, step := range reply.Steps {
			line := step.Content
			if step.Title != "" {
				line = step.Title + ": " + step.Content
			}
			if step.Expression != "" {
				line += "  [" + step.Expression + "]"
			}
			p.Item(i+1, line)
		}
	}

	if len(reply.Citations) > 0 {
		p.Title("\nSources")
		for _, c := range reply.Citations {
			if c.Title != "" {
				p.Item(0, fmt.Sprintf("%s (%s)", c.Title, c.URL))
			} else {
				p.Item(0, c.URL)
			}
		}
	}

	p.Muted("")
	p.KeyValue("source", reply.Source)
	if reply.RetrievedFromKB {
		p.KeyValue("knowledge base", fmt.Sprintf("%d match(es)", len(reply.KnowledgeHits)))
	}
	if reply.MessageID != "" {
		p.KeyValue("message id", reply.MessageID)
	}
	if reply.Source == pipeline.SourceParserHITL && reply.ConversationID != "" {
		p.Info(fmt.Sprintf("Confirm with: mentor ask yes --conversation %s", reply.ConversationID))
	}
	if reply.FeedbackRequired {
		p.Warning("This answer could not be fully verified. Feedback on it is welcome.")
	}
}

// =============================================================================
// health
// =============================================================================

func newHealthCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the orchestrator's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := cli.client().Health(cmd.Context())
			p := cli.printer()
			if err != nil {
				p.Error(err.Error())
				return err
			}
			p.Success("orchestrator is " + h.Status)
			p.KeyValue("llm backend", h.LLMBackend)
			p.KeyValue("knowledge base", fmt.Sprintf("%t", h.KnowledgeBase))
			providers := strings.Join(h.WebProviders, ", ")
			if providers == "" {
				providers = "none"
			}
			p.KeyValue("web providers", providers)
			return nil
		},
	}
}

// =============================================================================
// kb
// =============================================================================

type importOptions struct {
	dataset          string
	source           string
	weaviateURL      string
	weaviateAPIKey   string
	class            string
	embeddingBackend string
	embeddingModel   string
	embeddingURL     string
	embeddingAPIKey  string
}

func newKBCmd(cli *cliContext) *cobra.Command {
	kb := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}

	reload := &cobra.Command{
		Use:   "reload",
		Short: "Reconnect the orchestrator to the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := cli.client().ReloadKnowledge(cmd.Context())
			p := cli.printer()
			if err != nil {
				p.Error(err.Error())
				return err
			}
			if reply.KnowledgeBase {
				p.Success("knowledge base reloaded")
			} else {
				p.Warning("reloaded, but the knowledge base is unavailable")
			}
			return nil
		},
	}

	opts := importOptions{
		weaviateURL:      os.Getenv("WEAVIATE_URL"),
		weaviateAPIKey:   os.Getenv("WEAVIATE_API_KEY"),
		class:            envOrDefault("WEAVIATE_COLLECTION", datatypes.DefaultKnowledgeClass),
		embeddingBackend: envOrDefault("EMBEDDING_BACKEND", "openai"),
		embeddingModel:   os.Getenv("EMBEDDING_MODEL"),
		embeddingURL:     os.Getenv("EMBEDDING_SERVICE_URL"),
		embeddingAPIKey:  envOrDefault("EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY")),
	}
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSONL dataset of question/answer pairs into Weaviate",
		Long: `Reads one JSON object per line with "question" and "answer" keys
("input" and "label" are accepted too) and writes each record to the
knowledge class, creating the class when it does not exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, cli.printer(), opts)
		},
	}
	f := importCmd.Flags()
	f.StringVar(&opts.dataset, "dataset", "", "Path to the JSONL dataset")
	f.StringVar(&opts.source, "source", "", "Source label for records without one (default: dataset file name)")
	f.StringVar(&opts.weaviateURL, "weaviate-url", opts.weaviateURL, "Weaviate URL (env WEAVIATE_URL)")
	f.StringVar(&opts.class, "class", opts.class, "Knowledge class name")
	f.StringVar(&opts.embeddingBackend, "embedding-backend", opts.embeddingBackend, "openai, ollama or service")
	f.StringVar(&opts.embeddingModel, "embedding-model", opts.embeddingModel, "Embedding model name")
	f.StringVar(&opts.embeddingURL, "embedding-url", opts.embeddingURL, "Embedding server base URL")
	_ = importCmd.MarkFlagRequired("dataset")

	kb.AddCommand(reload, importCmd)
	return kb
}

func runImport(cmd *cobra.Command, p *ux.Printer, opts importOptions) error {
	if opts.weaviateURL == "" {
		return fmt.Errorf("--weaviate-url or WEAVIATE_URL is required")
	}
	file, err := os.Open(opts.dataset)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	source := opts.source
	if source == "" {
		source = filepath.Base(file.Name())
	}

	ctx := cmd.Context()
	embedder, err := knowledge.NewEmbedder(knowledge.EmbedderConfig{
		Backend: opts.embeddingBackend,
		Model:   opts.embeddingModel,
		BaseURL: opts.embeddingURL,
		APIKey:  opts.embeddingAPIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	if err := knowledge.EnsureSchema(ctx, opts.weaviateURL, opts.weaviateAPIKey, opts.class); err != nil {
		return fmt.Errorf("failed to prepare knowledge class: %w", err)
	}
	store, err := knowledge.NewWeaviateStore(ctx, knowledge.WeaviateConfig{
		URL:    opts.weaviateURL,
		APIKey: opts.weaviateAPIKey,
		Class:  opts.class,
	}, embedder)
	if err != nil {
		return err
	}

	p.Info(fmt.Sprintf("Importing %s into %s", opts.dataset, opts.class))
	stats, err := knowledge.Import(ctx, store, file, source)
	reportImport(p, stats)
	return err
}

func reportImport(p *ux.Printer, stats knowledge.ImportStats) {
	p.Success(fmt.Sprintf("imported %d record(s)", stats.Imported))
	if stats.Skipped > 0 {
		p.Warning(fmt.Sprintf("skipped %d record(s) without a question or answer", stats.Skipped))
	}
	if stats.Failed > 0 {
		p.Error(fmt.Sprintf("%d record(s) failed to import", stats.Failed))
	}
}

// =============================================================================
// Helpers
// =============================================================================

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
