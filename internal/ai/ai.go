// Package ai wraps the language model used for letter writing and the
// speech-to-text endpoint used for voice memos.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// LetterWriter turns a prompt into letter text.
type LetterWriter interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Transcriber converts a voice memo into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string, duration float64) (string, error)
}

// Config holds the OpenAI credentials and model names.
type Config struct {
	APIKey          string `koanf:"api_key"`
	ChatModel       string `koanf:"chat_model"`
	TranscribeModel string `koanf:"transcribe_model"`
}

// OpenAIWriter generates letters through the chat completions API.
type OpenAIWriter struct {
	llm     *openai.LLM
	limiter *rate.Limiter
}

func NewOpenAIWriter(cfg Config) (*OpenAIWriter, error) {
	model := cfg.ChatModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &OpenAIWriter{
		llm:     llm,
		limiter: rate.NewLimiter(rate.Every(1*time.Second), 5),
	}, nil
}

func (w *OpenAIWriter) Generate(ctx context.Context, prompt string) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()
	out, err := llms.GenerateFromSinglePrompt(ctx, w.llm, prompt,
		llms.WithTemperature(0.7))
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	return out, nil
}

// OpenAITranscriber calls the audio transcription endpoint directly; the
// timeout scales with memo length so long memos are not cut off.
type OpenAITranscriber struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewOpenAITranscriber(cfg Config) *OpenAITranscriber {
	model := cfg.TranscribeModel
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAITranscriber{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: "https://api.openai.com/v1",
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Every(1*time.Second), 5),
	}
}

// WithBaseURL redirects API calls, for tests.
func (t *OpenAITranscriber) WithBaseURL(u string) *OpenAITranscriber {
	t.baseURL = u
	return t
}

// transcribeTimeout allows 0.75s of processing per second of audio, with a
// floor for very short memos.
func transcribeTimeout(duration float64) time.Duration {
	timeout := time.Duration(duration * 0.75 * float64(time.Second))
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}
	return timeout
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, filename string, duration float64) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio part: %w", err)
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout(duration))
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcription returned status %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}
	return out.Text, nil
}
