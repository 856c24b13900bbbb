package parser

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG.
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func zipWith(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractPlainText(t *testing.T) {
	e := NewExtractor(nil)
	res, err := e.Extract([]byte("hello pharmacology"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello pharmacology", res.Text)
	assert.Equal(t, "utf-8", res.Meta.Encoding)
}

func TestExtractTextEncodingFallback(t *testing.T) {
	// "café" in windows-1252.
	data := []byte{'c', 'a', 'f', 0xe9}
	res, err := extractText(data)
	require.NoError(t, err)
	assert.Equal(t, "café", res.Text)
	assert.Equal(t, "windows-1252", res.Meta.Encoding)
}

func TestExtractMarkdownStripsFormatting(t *testing.T) {
	e := NewExtractor(nil)
	md := "# Dosage\n\nTake *two* tablets daily.\n\n- morning\n- evening\n"
	res, err := e.Extract([]byte(md), "dosage.md")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Dosage")
	assert.Contains(t, res.Text, "two")
	assert.Contains(t, res.Text, "morning")
	assert.NotContains(t, res.Text, "#")
	assert.NotContains(t, res.Text, "*")
}

func TestExtractCSV(t *testing.T) {
	e := NewExtractor(nil)
	res, err := e.Extract([]byte("drug,dose\naspirin,100mg\nibuprofen,200mg\n"), "doses.csv")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Columns: drug, dose")
	assert.Contains(t, res.Text, "aspirin\t100mg")
}

func TestExtractCorruptPDF(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract([]byte("this is definitely not a pdf"), "report.pdf")
	assert.Error(t, err)
}

func TestExtractDOCX(t *testing.T) {
	e := NewExtractor(nil)
	data := zipWith(t, map[string]string{
		"word/document.xml": `<w:document><w:body><w:p><w:r><w:t>Hello docx world</w:t></w:r></w:p></w:body></w:document>`,
	})
	res, err := e.Extract(data, "doc.docx")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Hello docx world")
}

func TestExtractPPTX(t *testing.T) {
	e := NewExtractor(nil)
	data := zipWith(t, map[string]string{
		"ppt/slides/slide2.xml":           `<p:sld><a:t>Second slide</a:t></p:sld>`,
		"ppt/slides/slide1.xml":           `<p:sld><a:t>First slide</a:t><a:t>with a table cell</a:t></p:sld>`,
		"ppt/notesSlides/notesSlide1.xml": `<p:notes><a:t>Remember the disclaimer</a:t></p:notes>`,
	})
	res, err := e.Extract(data, "deck.pptx")
	require.NoError(t, err)

	assert.Contains(t, res.Text, "--- Slide 1 ---")
	assert.Contains(t, res.Text, "--- Slide 2 ---")
	assert.Contains(t, res.Text, "First slide")
	assert.Contains(t, res.Text, "with a table cell")
	assert.Contains(t, res.Text, "Notes: Remember the disclaimer")
	assert.Equal(t, 2, res.Meta.SlideCount)
	// Slides in numeric order regardless of zip entry order.
	assert.Less(t, strings.Index(res.Text, "First slide"), strings.Index(res.Text, "Second slide"))
}

func TestExtractImageMetadataOnly(t *testing.T) {
	e := NewExtractor(nil)
	data, err := base64.StdEncoding.DecodeString(tinyPNG)
	require.NoError(t, err)

	res, err := e.Extract(data, "scan.png")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "scan.png")
	assert.Contains(t, res.Text, "1x1")
	assert.Equal(t, 1, res.Meta.ImageWidth)
	assert.Equal(t, "png", res.Meta.ImageFormat)
}

func TestExtractImageWithOCR(t *testing.T) {
	e := NewExtractor(func(data []byte) (string, error) {
		return "recognized label text", nil
	})
	data, err := base64.StdEncoding.DecodeString(tinyPNG)
	require.NoError(t, err)

	res, err := e.Extract(data, "label.png")
	require.NoError(t, err)
	assert.Equal(t, "recognized label text", res.Text)
	assert.Equal(t, "ocr", res.Meta.Method)
}

func TestExtractUnknownBinaryRejected(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract([]byte{0x00, 0xff, 0xfe, 0x01}, "blob.bin")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractTagTextGuards(t *testing.T) {
	x := `<w:tbl><w:t>inside</w:t></w:tbl><w:t xml:space="preserve">with &amp; entity</w:t><w:t/>`
	got := extractTagText(x, "w:t")
	assert.Contains(t, got, "inside")
	assert.Contains(t, got, "with & entity")
}
