// Package parser converts uploaded files of heterogeneous formats into plain
// text suitable for chunking. Extraction degrades instead of aborting: a
// malformed file yields whatever partial text was recovered plus an error for
// the caller to record on the document.
package parser

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"pharmgpt/internal/logging"
)

// ErrUnsupportedFormat is returned for files no extraction strategy handles.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Metadata carries format-specific facts captured during extraction.
type Metadata struct {
	PageCount   int
	SlideCount  int
	SheetCount  int
	ImageWidth  int
	ImageHeight int
	ImageFormat string
	Encoding    string
	Method      string
}

// Result is the outcome of extracting one file.
type Result struct {
	Text string
	Meta Metadata
}

// OCR recognizes text in a raster image. Optional: when absent, image
// extraction captures metadata only.
type OCR func(data []byte) (string, error)

// Extractor dispatches file bytes to a per-format extraction routine.
type Extractor struct {
	ocr OCR
	log zerolog.Logger
}

func NewExtractor(ocr OCR) *Extractor {
	return &Extractor{ocr: ocr, log: logging.Component("parser")}
}

// Extract produces plain text from file bytes. It never panics; a failure
// returns partial text where available plus the error.
func (e *Extractor) Extract(data []byte, filename string) (Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return e.extractPDF(data)
	case ".docx":
		return e.extractDOCX(data)
	case ".pptx":
		return e.extractPPTX(data)
	case ".xlsx":
		return e.extractXLSX(data)
	case ".ods":
		return e.extractODS(data)
	case ".csv":
		return e.extractCSV(data)
	case ".md", ".markdown":
		return e.extractMarkdown(data)
	case ".txt":
		return extractText(data)
	case ".png", ".jpg", ".jpeg", ".gif":
		return e.extractImage(data, filepath.Base(filename))
	default:
		// Best effort: treat unknown extensions as plain text when the bytes
		// look like text, otherwise refuse.
		if utf8.Valid(data) {
			return extractText(data)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// strategy is one candidate extraction method; the first one returning usable
// text wins.
type strategy struct {
	name string
	run  func() (string, error)
}

func (e *Extractor) runStrategies(strategies []strategy) (string, string, error) {
	var firstErr error
	for _, s := range strategies {
		text, err := s.run()
		if err != nil {
			e.log.Debug().Str("strategy", s.name).Err(err).Msg("extraction strategy failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, s.name, nil
		}
	}
	if firstErr == nil {
		firstErr = errors.New("no strategy produced text")
	}
	return "", "", firstErr
}

func (e *Extractor) extractPDF(data []byte) (res Result, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf extraction failed: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("open pdf: %w", err)
	}

	numPages := reader.NumPage()
	var parts []string
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, perr := page.GetPlainText(nil)
		if perr != nil {
			e.log.Warn().Int("page", i).Err(perr).Msg("skipping unreadable pdf page")
			continue
		}
		if strings.TrimSpace(pageText) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", i, pageText))
		}
	}

	full := strings.Join(parts, "\n\n")
	meta := Metadata{PageCount: numPages, Method: "pdf"}
	if strings.TrimSpace(full) == "" {
		return Result{Meta: meta}, errors.New("no readable text found in pdf")
	}
	return Result{Text: full, Meta: meta}, nil
}

func (e *Extractor) extractDOCX(data []byte) (Result, error) {
	text, method, err := e.runStrategies([]strategy{
		{"docx-library", func() (string, error) { return docxViaLibrary(data) }},
		{"docx-zip", func() (string, error) { return docxViaZip(data) }},
	})
	if err != nil {
		return Result{}, fmt.Errorf("docx extraction failed: %w", err)
	}
	return Result{Text: text, Meta: Metadata{Method: method}}, nil
}

func docxViaLibrary(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer r.Close()
	return textFromWordXML(r.Editable().GetContent()), nil
}

// docxViaZip reads the document parts straight out of the zip container.
// Catches files the library refuses but whose XML is still intact.
func docxViaZip(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, name := range []string{"word/document.xml", "word/footnotes.xml", "word/endnotes.xml"} {
		raw, err := readZipFile(reader, name)
		if err != nil {
			continue
		}
		part := textFromWordXML(string(raw))
		if part != "" {
			b.WriteString(part)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func (e *Extractor) extractPPTX(data []byte) (Result, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("open pptx: %w", err)
	}

	slides := slideNumbers(reader, `^ppt/slides/slide(\d+)\.xml$`)
	notes := slideNumbers(reader, `^ppt/notesSlides/notesSlide(\d+)\.xml$`)

	var parts []string
	for _, n := range sortedKeys(slides) {
		raw, err := readZipFile(reader, slides[n])
		if err != nil {
			e.log.Warn().Int("slide", n).Err(err).Msg("skipping unreadable slide")
			continue
		}
		// <a:t> runs cover text-bearing shapes and embedded tables alike.
		body := extractTagText(string(raw), "a:t")
		var sb strings.Builder
		fmt.Fprintf(&sb, "--- Slide %d ---\n%s", n, strings.TrimSpace(body))
		if notePath, ok := notes[n]; ok {
			if rawNotes, err := readZipFile(reader, notePath); err == nil {
				if noteText := strings.TrimSpace(extractTagText(string(rawNotes), "a:t")); noteText != "" {
					fmt.Fprintf(&sb, "\nNotes: %s", noteText)
				}
			}
		}
		parts = append(parts, sb.String())
	}

	full := strings.Join(parts, "\n\n")
	meta := Metadata{SlideCount: len(slides), Method: "pptx"}
	if strings.TrimSpace(full) == "" {
		return Result{Meta: meta}, errors.New("no readable text found in pptx")
	}
	return Result{Text: full, Meta: meta}, nil
}

func (e *Extractor) extractXLSX(data []byte) (Result, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return Result{}, fmt.Errorf("open xlsx: %w", err)
	}

	var parts []string
	for _, sheet := range f.Sheets {
		var text strings.Builder
		fmt.Fprintf(&text, "## Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
		parts = append(parts, text.String())
	}

	full := strings.TrimSpace(strings.Join(parts, "\n"))
	meta := Metadata{SheetCount: len(f.Sheets), Method: "xlsx"}
	if full == "" {
		return Result{Meta: meta}, errors.New("no readable text found in workbook")
	}
	return Result{Text: full, Meta: meta}, nil
}

func (e *Extractor) extractODS(data []byte) (Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	var parts []string
	sheets := f.GetSheetList()
	for _, sheetName := range sheets {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		fmt.Fprintf(&text, "## Sheet: %s\n", sheetName)
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		parts = append(parts, text.String())
	}

	full := strings.TrimSpace(strings.Join(parts, "\n"))
	meta := Metadata{SheetCount: len(sheets), Method: "ods"}
	if full == "" {
		return Result{Meta: meta}, errors.New("no readable text found in spreadsheet")
	}
	return Result{Text: full, Meta: meta}, nil
}

func (e *Extractor) extractCSV(data []byte) (Result, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	var text strings.Builder
	rows := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever parsed so far.
			if rows == 0 {
				return Result{}, fmt.Errorf("parse csv: %w", err)
			}
			break
		}
		if rows == 0 {
			text.WriteString("Columns: " + strings.Join(record, ", ") + "\n")
		} else {
			text.WriteString(strings.Join(record, "\t") + "\n")
		}
		rows++
	}
	if rows == 0 {
		return Result{}, errors.New("empty csv")
	}
	return Result{Text: strings.TrimSpace(text.String()), Meta: Metadata{Method: "csv"}}, nil
}

func (e *Extractor) extractImage(data []byte, filename string) (Result, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}
	meta := Metadata{
		ImageWidth:  cfg.Width,
		ImageHeight: cfg.Height,
		ImageFormat: format,
		Method:      "image-metadata",
	}

	if e.ocr != nil {
		if text, ocrErr := e.ocr(data); ocrErr == nil && strings.TrimSpace(text) != "" {
			meta.Method = "ocr"
			return Result{Text: text, Meta: meta}, nil
		} else if ocrErr != nil {
			e.log.Warn().Err(ocrErr).Msg("ocr failed, keeping image metadata only")
		}
	}

	// Without OCR the document still carries its basic metadata so it is
	// never totally empty.
	text := fmt.Sprintf("Image: %s (%dx%d %s)", filename, cfg.Width, cfg.Height, strings.ToUpper(format))
	return Result{Text: text, Meta: meta}, nil
}

func extractText(data []byte) (Result, error) {
	if utf8.Valid(data) {
		return Result{Text: string(data), Meta: Metadata{Encoding: "utf-8", Method: "text"}}, nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return Result{}, fmt.Errorf("decode text: %w", err)
	}
	return Result{Text: string(decoded), Meta: Metadata{Encoding: "windows-1252", Method: "text"}}, nil
}

// readZipFile returns the contents of one named entry.
func readZipFile(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("entry %s not found", name)
}

// slideNumbers maps slide number to zip entry path for entries matching the
// pattern, whose first capture group must be the number.
func slideNumbers(reader *zip.Reader, pattern string) map[int]string {
	re := regexp.MustCompile(pattern)
	out := make(map[int]string)
	for _, file := range reader.File {
		m := re.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out[n] = file.Name
	}
	return out
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// textFromWordXML pulls the visible run text out of WordprocessingML,
// one line per paragraph.
func textFromWordXML(x string) string {
	var b strings.Builder
	for _, para := range strings.Split(x, "</w:p>") {
		line := extractTagText(para, "w:t")
		if strings.TrimSpace(line) != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// extractTagText collects the character data of every <tag>...</tag>
// occurrence, separating runs with spaces where the markup implies them.
func extractTagText(x, tag string) string {
	var b strings.Builder
	open := "<" + tag
	closing := "</" + tag + ">"
	rest := x
	for {
		i := strings.Index(rest, open)
		if i < 0 {
			break
		}
		rest = rest[i+len(open):]
		if len(rest) == 0 {
			break
		}
		// Reject longer tag names sharing the prefix (e.g. <w:tbl> for <w:t>).
		if rest[0] != '>' && rest[0] != ' ' && rest[0] != '/' {
			continue
		}
		j := strings.Index(rest, ">")
		if j < 0 {
			break
		}
		if rest[j-1] == '/' { // self-closing
			rest = rest[j+1:]
			continue
		}
		rest = rest[j+1:]
		k := strings.Index(rest, closing)
		if k < 0 {
			break
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(html.UnescapeString(rest[:k]))
		rest = rest[k+len(closing):]
	}
	return b.String()
}
