package helper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHashIsStable(t *testing.T) {
	a := FileHash([]byte("same bytes"))
	b := FileHash([]byte("same bytes"))
	c := FileHash([]byte("different bytes"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", SanitizeFilename("report.pdf"))
	assert.Equal(t, "a_b_c.txt", SanitizeFilename(`a/b\c.txt`))
	assert.Equal(t, "notes_.md", SanitizeFilename("notes?.md"))

	long := strings.Repeat("x", 200) + ".docx"
	got := SanitizeFilename(long)
	assert.LessOrEqual(t, len(got), 100)
	assert.True(t, strings.HasSuffix(got, ".docx"))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.0 KB", FormatFileSize(1024))
	assert.Equal(t, "1.5 MB", FormatFileSize(3*1024*1024/2))
	assert.Equal(t, "2.0 GB", FormatFileSize(2*1024*1024*1024))
}

func TestGenerateUUID(t *testing.T) {
	a, err := GenerateUUID()
	require.NoError(t, err)
	b, err := GenerateUUID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
