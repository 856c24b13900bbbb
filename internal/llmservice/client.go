// Package llmservice is the client for the external generation service. The
// retrieval pipeline only produces the context block; everything about how
// the answer is generated, streamed or not, stays behind this boundary.
package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"pharmgpt/internal/config"
	"pharmgpt/internal/logging"
)

const systemPrompt = "You are PharmGPT, an AI pharmacology assistant. " +
	"Use the provided document context to answer the question. " +
	"If the context does not contain the answer, say so instead of guessing."

// Message is one prior turn of the conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

type Client struct {
	cfg *config.LLMConfig
	log zerolog.Logger
}

func NewClient(cfg *config.LLMConfig) *Client {
	return &Client{cfg: cfg, log: logging.Component("llmservice")}
}

// Chat sends the assembled context, the conversation history and the user
// message to the inference model. When onDelta is non-nil the response is
// streamed through it as fragments arrive; the full text is returned either
// way.
func (c *Client) Chat(ctx context.Context, contextBlock string, history []Message, userMessage string, onDelta func(string)) (string, error) {
	llm, err := openai.New(
		openai.WithBaseURL(c.cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(c.cfg.Key, "Bearer ")),
		openai.WithModel(c.cfg.Model),
	)
	if err != nil {
		return "", fmt.Errorf("initializing inference model: %w", err)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
	}
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}

	prompt := userMessage
	if contextBlock != "" {
		prompt = fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, userMessage)
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	var opts []llms.CallOption
	if onDelta != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			onDelta(string(chunk))
			return nil
		}))
	}

	c.log.Debug().Str("model", c.cfg.Model).Int("history", len(history)).
		Int("context_chars", len(contextBlock)).Msg("generating response")

	resp, err := llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generation returned no choices")
	}
	return resp.Choices[0].Content, nil
}
