// Package transcribe turns audio into text with OpenAI Whisper and splits the
// result into chat-sized messages.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/metrics"
)

// ErrEmptyTranscript is returned when Whisper answers without text.
var ErrEmptyTranscript = errors.New("no transcription text returned")

// openAITranscribe is replaced in tests.
var openAITranscribe = func(ctx context.Context, client *openai.Client, params openai.AudioTranscriptionNewParams) (string, error) {
	resp, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Client wraps the Whisper transcription endpoint.
type Client struct {
	api   openai.Client
	model string
}

// NewClient builds a client for model, "whisper-1" when empty.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = "whisper-1"
	}
	return &Client{api: openai.NewClient(option.WithAPIKey(apiKey)), model: model}
}

// Transcribe uploads the audio read from r under filename and returns the text.
func (c *Client) Transcribe(ctx context.Context, r io.Reader, filename string) (string, error) {
	ctype := mime.TypeByExtension(filepath.Ext(filename))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(r, filename, ctype),
		Model: openai.AudioModel(c.model),
	}
	start := time.Now()
	text, err := openAITranscribe(ctx, &c.api, params)
	metrics.ObserveVendorCall("openai", "transcribe", start, err)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyTranscript
	}
	logging.Ctx(ctx).Info().Str("event", "transcription").Str("file", filename).Int("chars", len(text)).Msg("audio transcribed")
	return text, nil
}
