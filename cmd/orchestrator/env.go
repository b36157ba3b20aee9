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
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/MathMentor/services/orchestrator"
)

// secretsDir is where container secrets are mounted.
var secretsDir = "/run/secrets"

// loadConfig builds the orchestrator configuration from the environment.
// Zero values are filled by the orchestrator's defaults.
func loadConfig() orchestrator.Config {
	return orchestrator.Config{
		Port:    getEnvInt(12210, "ORCHESTRATOR_PORT", "PORT"),
		AppEnv:  getEnvString("development", "APP_ENV"),
		GinMode: getEnvString("", "GIN_MODE"),

		LLMBackend:    strings.ToLower(getEnvString("gemini", "LLM_BACKEND_TYPE", "LLM_BACKEND")),
		GeminiAPIKey:  getSecret("gemini_api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY"),
		GeminiModel:   getEnvString("gemini-2.5-flash", "GEMINI_MODEL"),
		OpenAIAPIKey:  getSecret("openai_api_key", "OPENAI_API_KEY"),
		OpenAIModel:   getEnvString("", "OPENAI_MODEL"),
		OpenAIBaseURL: getEnvString("", "OPENAI_BASE_URL"),
		OllamaBaseURL: getEnvString("", "OLLAMA_BASE_URL"),
		OllamaModel:   getEnvString("", "OLLAMA_MODEL"),

		WhisperAPIKey:  getSecret("groq_api_key", "GROQ_API_KEY", "WHISPER_API_KEY"),
		WhisperBaseURL: getEnvString("https://api.groq.com/openai/v1", "WHISPER_BASE_URL"),
		WhisperModel:   getEnvString("", "WHISPER_MODEL"),

		WeaviateURL:        strings.Trim(getEnvString("", "WEAVIATE_URL", "WEAVIATE_SERVICE_URL"), "\"' "),
		WeaviateAPIKey:     getSecret("weaviate_api_key", "WEAVIATE_API_KEY"),
		WeaviateCollection: getEnvString("Mathvectors", "WEAVIATE_COLLECTION"),
		KBTopK:             getEnvInt(4, "KB_TOP_K"),
		KBThreshold:        getEnvFloat(0.80, "KB_THRESHOLD", "KB_SIMILARITY_THRESHOLD"),

		EmbeddingBackend: strings.ToLower(getEnvString("openai", "EMBEDDING_BACKEND")),
		EmbeddingModel:   getEnvString("", "EMBEDDING_MODEL", "EMBEDDING_MODEL_NAME"),
		EmbeddingURL:     getEnvString("", "EMBEDDING_SERVICE_URL", "EMBEDDING_BASE_URL"),
		EmbeddingAPIKey:  getSecret("openai_api_key", "EMBEDDING_API_KEY", "OPENAI_API_KEY"),

		MCPTavilyURL:     getEnvString("", "MCP_TAVILY_URL"),
		TavilyAPIKey:     getSecret("tavily_api_key", "TAVILY_API_KEY"),
		WebSearchTool:    strings.ToLower(getEnvString("tavily", "WEB_SEARCH_TOOL")),
		WebSearchTimeout: getEnvDuration(10*time.Second, "WEB_SEARCH_TIMEOUT"),
		TavilyRateLimit:  getEnvFloat(0, "TAVILY_RATE_LIMIT"),

		RedisAddr:        getEnvString("", "REDIS_ADDR", "REDIS_URL"),
		RedisPassword:    getSecret("redis_password", "REDIS_PASSWORD"),
		RedisDB:          getEnvInt(0, "REDIS_DB"),
		ClarificationTTL: getEnvDuration(15*time.Minute, "CLARIFICATION_TTL"),

		DataDir:         getEnvString("", "DATA_DIR"),
		CleanupInterval: getEnvDuration(5*time.Minute, "CLEANUP_INTERVAL"),

		GuardrailsPolicyFile:    getEnvString("", "GUARDRAILS_POLICY_FILE"),
		EnforceInputGuardrails:  getEnvBool(true, "ENFORCE_INPUT_GUARDRAILS"),
		EnforceOutputGuardrails: getEnvBool(true, "ENFORCE_OUTPUT_GUARDRAILS"),

		OTelEndpoint:  getEnvString("aleutian-otel-collector:4317", "OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceExporter: strings.ToLower(getEnvString(orchestrator.TraceExporterOTLP, "OTEL_TRACES_EXPORTER")),
	}
}

// lookupEnv returns the first non-empty value among keys.
func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value, true
		}
	}
	return "", false
}

// getEnvString returns the first set variable among keys, or defaultValue.
func getEnvString(defaultValue string, keys ...string) string {
	if value, ok := lookupEnv(keys...); ok {
		return value
	}
	return defaultValue
}

// getEnvInt returns the first set variable among keys as int, or
// defaultValue when unset or malformed.
func getEnvInt(defaultValue int, keys ...string) int {
	if value, ok := lookupEnv(keys...); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("Ignoring malformed integer setting", "keys", keys, "value", value)
	}
	return defaultValue
}

func getEnvFloat(defaultValue float64, keys ...string) float64 {
	if value, ok := lookupEnv(keys...); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("Ignoring malformed float setting", "keys", keys, "value", value)
	}
	return defaultValue
}

func getEnvBool(defaultValue bool, keys ...string) bool {
	if value, ok := lookupEnv(keys...); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		slog.Warn("Ignoring malformed boolean setting", "keys", keys, "value", value)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("90").
func getEnvDuration(defaultValue time.Duration, keys ...string) time.Duration {
	if value, ok := lookupEnv(keys...); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		slog.Warn("Ignoring malformed duration setting", "keys", keys, "value", value)
	}
	return defaultValue
}

// getSecret reads the first set variable among keys, falling back to the
// mounted secret file of the given name.
func getSecret(file string, keys ...string) string {
	if value, ok := lookupEnv(keys...); ok {
		return value
	}
	data, err := os.ReadFile(filepath.Join(secretsDir, file))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
