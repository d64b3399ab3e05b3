// Package chat talks to OpenAI chat completions and keeps per-chat
// conversations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/metrics"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	temperature = 0.7
)

var (
	// ErrEmptyResponse is returned when the completion has no choices.
	ErrEmptyResponse = errors.New("empty completion response")
	// ErrRateLimited is returned when a chat exceeded its request quota.
	ErrRateLimited = errors.New("rate limited")
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// openAIComplete is replaced in tests.
var openAIComplete = func(ctx context.Context, client *openai.Client, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return client.Chat.Completions.New(ctx, params)
}

// Client wraps the OpenAI chat completion endpoint.
type Client struct {
	api openai.Client
}

// NewClient builds a client authenticated with apiKey.
func NewClient(apiKey string) *Client {
	return &Client{api: openai.NewClient(option.WithAPIKey(apiKey))}
}

// Complete sends messages to model and returns the first non-empty choice,
// or the first choice's content when all are empty.
func (c *Client) Complete(ctx context.Context, chatID int64, model string, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    toParams(messages),
		Temperature: openai.Float(temperature),
	}
	log := logging.Ctx(ctx)
	log.Info().Str("event", "chatgpt_request").Int64("chat_id", chatID).Str("model", model).Int("messages", len(messages)).Msg("sending to ChatGPT")

	start := time.Now()
	resp, err := openAIComplete(ctx, &c.api, params)
	metrics.ObserveVendorCall("openai", "chat", start, err)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	reply := resp.Choices[0].Message.Content
	for _, ch := range resp.Choices {
		if ch.Message.Content != "" {
			reply = ch.Message.Content
			break
		}
	}
	log.Info().Str("event", "chatgpt_response").Str("snippet", logging.Snippet(reply, 30)).Msg("received from ChatGPT")
	return reply, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
