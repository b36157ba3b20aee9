// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/sashabaranov/go-openai"
)

// Transcriber turns recorded speech into a text query.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// ImageReader extracts text from an image.
type ImageReader interface {
	ReadImage(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}

// DecodeMedia decodes a base64 payload that may carry a data URL prefix
// ("data:image/png;base64,...") and returns the bytes and the mime type.
// fallbackMime is used when the payload has no prefix.
func DecodeMedia(payload, fallbackMime string) ([]byte, string, error) {
	mimeType := fallbackMime
	if strings.HasPrefix(payload, "data:") {
		if header, data, found := strings.Cut(payload, ","); found {
			payload = data
			header = strings.TrimPrefix(header, "data:")
			if mt, _, _ := strings.Cut(header, ";"); mt != "" {
				mimeType = mt
			}
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 media: %w", err)
	}
	return data, mimeType, nil
}

// =============================================================================
// Multimodal LLM reader
// =============================================================================

// MediaReader implements Transcriber and ImageReader on top of a multimodal
// model.
type MediaReader struct {
	client llm.MultimodalClient
}

func NewMediaReader(client llm.MultimodalClient) *MediaReader {
	return &MediaReader{client: client}
}

func (m *MediaReader) ReadImage(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	if prompt == "" {
		prompt = DefaultImagePrompt
	}
	text, err := m.client.GenerateFromMedia(ctx, prompt, image, mimeType)
	if err != nil {
		return "", fmt.Errorf("image text extraction failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (m *MediaReader) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	text, err := m.client.GenerateFromMedia(ctx, transcribePrompt, audio, mimeType)
	if err != nil {
		return "", fmt.Errorf("audio transcription failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// =============================================================================
// Whisper transcriber
// =============================================================================

// WhisperTranscriber calls an OpenAI-compatible /audio/transcriptions
// endpoint (OpenAI or Groq).
type WhisperTranscriber struct {
	client   *openai.Client
	model    string
	language string
}

// NewWhisperTranscriber builds a transcriber. baseURL may be empty for the
// public OpenAI API; Groq uses https://api.groq.com/openai/v1.
func NewWhisperTranscriber(apiKey, baseURL, model string) *WhisperTranscriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &WhisperTranscriber{client: openai.NewClientWithConfig(cfg), model: model, language: "en"}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "input" + audioExtension(mimeType),
		Reader:   bytes.NewReader(audio),
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func audioExtension(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".wav"
	}
}

var (
	_ Transcriber = (*MediaReader)(nil)
	_ ImageReader = (*MediaReader)(nil)
	_ Transcriber = (*WhisperTranscriber)(nil)
)
