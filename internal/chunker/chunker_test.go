package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Sentence number %d carries a modest amount of text. ", i)
	}
	return b.String()
}

func TestSplitEmpty(t *testing.T) {
	assert.Nil(t, Split("", PolicyFor(0)))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	text := "A short pharmacology note about aspirin."
	chunks := Split(text, PolicyFor(len(text)))
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, text, chunks[0].Content)
}

func TestSplitIndicesDenseZeroBased(t *testing.T) {
	chunks := Split(sentences(200), PolicyFor(len(sentences(200))))
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestSplitFirstChunkIsPrefix(t *testing.T) {
	text := sentences(150)
	chunks := Split(text, PolicyFor(len(text)))
	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasPrefix(text, chunks[0].Content))
}

func TestSplitOverlapAndReconstruction(t *testing.T) {
	text := sentences(300)
	p := PolicyFor(len(text))
	chunks := Split(text, p)
	require.Greater(t, len(chunks), 1)

	rebuilt := chunks[0].Content
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		seed := prev
		if len(prev) > p.Overlap {
			seed = prev[len(prev)-p.Overlap:]
		}
		require.True(t, strings.HasPrefix(chunks[i].Content, seed),
			"chunk %d does not start with the overlap tail of chunk %d", i, i-1)
		rebuilt += chunks[i].Content[len(seed):]
	}
	assert.Equal(t, text, rebuilt)
}

func TestSplitChunkLengthBounded(t *testing.T) {
	text := sentences(400)
	p := PolicyFor(len(text))
	for _, c := range Split(text, p) {
		assert.LessOrEqual(t, len(c.Content), p.ChunkSize+p.Overlap)
	}
}

func TestSplitPrefersNaturalBoundaries(t *testing.T) {
	text := sentences(200)
	chunks := Split(text, PolicyFor(len(text)))
	require.Greater(t, len(chunks), 1)
	for i := 0; i < len(chunks)-1; i++ {
		last := chunks[i].Content[len(chunks[i].Content)-1]
		assert.Contains(t, " \n", string(last),
			"chunk %d should end at a word or sentence boundary", i)
	}
}

func TestSplitHardCutLastResort(t *testing.T) {
	// No separators present at all: a single unbroken run must still split.
	text := strings.Repeat("x", 5000)
	p := Policy{ChunkSize: 1000, Overlap: 100, Separators: DefaultSeparators}
	chunks := Split(text, p)
	require.Greater(t, len(chunks), 1)
	total := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), p.ChunkSize+p.Overlap)
		total += len(c.Content)
	}
	// Every byte of the input is covered at least once.
	assert.GreaterOrEqual(t, total, len(text))
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		name    string
		textLen int
		size    int
		overlap int
	}{
		{"short note", 300, 1500, 300},
		{"just below threshold", 3999, 1500, 300},
		{"at threshold", 4000, 3000, 500},
		{"long manual", 250000, 3000, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PolicyFor(tt.textLen)
			assert.Equal(t, tt.size, p.ChunkSize)
			assert.Equal(t, tt.overlap, p.Overlap)
			assert.NotEmpty(t, p.Separators)
		})
	}
}
