// Package embedding constructs and shares the embedding model used for both
// document chunks and queries. The process keeps a single lazily-initialized
// embedder; callers receive an explicit handle instead of reaching into
// package globals at call sites.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pharmgpt/internal/config"
	"pharmgpt/internal/logging"
)

// Embedding requests are batched to stay under provider rate limits.
const batchSize = 20

var (
	mu     sync.Mutex
	shared embeddings.Embedder
)

// Shared returns the process-wide embedder, creating it on first use.
func Shared(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	mu.Lock()
	defer mu.Unlock()
	if shared != nil {
		return shared, nil
	}
	e, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	shared = e
	return shared, nil
}

// Reset drops the shared embedder so the next Shared call rebuilds it.
// Used by tests and by config reloads.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	shared = nil
}

// NewEmbedder builds an embedder for the configured provider.
func NewEmbedder(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	log := logging.Component("embedding")
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).
		Str("model", cfg.Model).Msg("initializing embedder")

	switch cfg.Provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama embedder: %w", err)
		}
		return embeddings.NewEmbedder(llm)
	case "openai", "":
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing openai embedder: %w", err)
		}
		return embeddings.NewEmbedder(llm)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// EmbedChunks generates embeddings for chunk contents in batches, preserving
// input order.
func EmbedChunks(ctx context.Context, embedder embeddings.Embedder, contents []string) ([][]float32, error) {
	if len(contents) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(contents))
	for start := 0; start < len(contents); start += batchSize {
		end := min(start+batchSize, len(contents))
		vectors, err := embedder.EmbedDocuments(ctx, contents[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}
