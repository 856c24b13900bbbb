package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pharmgpt/internal/models"
)

const blockSeparator = "\n\n"

// QueryContext assembles the document context block for one user turn.
// Preference order: complete knowledge base if it fits the budget,
// similarity-ranked excerpts otherwise, empty string when the conversation
// has no usable content.
func (p *Pipeline) QueryContext(ctx context.Context, message, convID, userID string) (string, error) {
	budget := p.cfg.RAG.ContextBudget

	chunks, err := p.store.FullRetrieval(ctx, convID, userID)
	if err != nil {
		return "", fmt.Errorf("full retrieval: %w", err)
	}
	if len(chunks) == 0 {
		return "", nil
	}

	full := buildFullContext(chunks)
	if len(full) <= budget {
		p.log.Debug().Int("chunks", len(chunks)).Int("chars", len(full)).
			Msg("using complete knowledge base as context")
		return full, nil
	}

	return p.excerptContext(ctx, message, convID, userID, budget)
}

// excerptContext searches with a permissive threshold first and a stricter
// one second, merges and de-duplicates by chunk identity, then concatenates
// best-first until the budget is exhausted.
func (p *Pipeline) excerptContext(ctx context.Context, message, convID, userID string, budget int) (string, error) {
	queryEmbedding, err := p.embedder.EmbedQuery(ctx, message)
	if err != nil {
		return "", fmt.Errorf("embedding query: %w", err)
	}

	loose, err := p.store.SimilaritySearch(ctx, queryEmbedding, convID, userID, p.cfg.RAG.TopK, p.cfg.RAG.MinScore)
	if err != nil {
		return "", fmt.Errorf("similarity search: %w", err)
	}
	strict, err := p.store.SimilaritySearch(ctx, queryEmbedding, convID, userID, p.cfg.RAG.TopK, p.cfg.RAG.StrictScore)
	if err != nil {
		return "", fmt.Errorf("similarity search: %w", err)
	}

	type key struct {
		doc   string
		index int
	}
	seen := make(map[key]bool)
	var merged []models.Chunk
	for _, c := range append(loose, strict...) {
		k := key{c.DocumentID, c.Index}
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, c)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Similarity > merged[j].Similarity })

	// Concatenate whole chunks only; a partial fragment would hand the
	// generation step a confusing cut-off sentence.
	var b strings.Builder
	used := 0
	for _, c := range merged {
		block := fmt.Sprintf("[%s] %s", c.Filename, c.Content)
		need := len(block)
		if used > 0 {
			need += len(blockSeparator)
		}
		if used+need > budget {
			break
		}
		if used > 0 {
			b.WriteString(blockSeparator)
		}
		b.WriteString(block)
		used += need
	}

	p.log.Debug().Int("excerpts", len(merged)).Int("chars", used).
		Msg("using similarity excerpts as context")
	return b.String(), nil
}

// buildFullContext reconstructs every document from its ordered chunks,
// labeled per document. Overlap regions are left redundant on purpose:
// de-duplication risks silently dropping legitimately repeated text.
func buildFullContext(chunks []models.Chunk) string {
	var b strings.Builder
	currentFile := ""
	for _, c := range chunks {
		if c.Filename != currentFile {
			if currentFile != "" {
				b.WriteString("\n---\n")
			}
			fmt.Fprintf(&b, "**File: %s**\n", c.Filename)
			currentFile = c.Filename
		}
		b.WriteString(c.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
