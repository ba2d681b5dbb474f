// Package extract turns document files into plain text for scene planning.
package extract

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultMaxSizeMB is the file size limit used when none is configured.
	DefaultMaxSizeMB = 50
	// MinTextChars is the shortest extracted text accepted for planning.
	MinTextChars = 10
)

// readFunc extracts raw text from a file of one format.
type readFunc func(path string) (string, error)

var readers = map[string]readFunc{
	".txt":  readPlain,
	".md":   readPlain,
	".html": readHTML,
	".htm":  readHTML,
	".pdf":  readPDF,
	".docx": readDOCX,
}

// Document is the extracted text of one file.
type Document struct {
	Path string
	Name string
	Ext  string
	Size int64
	Text string
}

// Extractor validates and reads documents.
type Extractor struct {
	maxBytes int64
}

// New creates an Extractor with the given size limit in megabytes.
// Non-positive values use DefaultMaxSizeMB.
func New(maxSizeMB int) *Extractor {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	return &Extractor{maxBytes: int64(maxSizeMB) * 1024 * 1024}
}

// Supported returns the accepted file extensions, sorted.
func Supported() []string {
	exts := make([]string, 0, len(readers))
	for ext := range readers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract validates path and returns its normalized text.
func (x *Extractor) Extract(path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	read, ok := readers[ext]
	if !ok {
		if ext == "" {
			ext = "(none)"
		}
		return nil, &InputError{Path: path, Reason: fmt.Sprintf("unsupported file type %s", ext)}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &InputError{Path: path, Reason: "file not found"}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, &InputError{Path: path, Reason: "is a directory"}
	}
	if info.Size() > x.maxBytes {
		return nil, &InputError{
			Path:   path,
			Reason: fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), x.maxBytes),
		}
	}

	raw, err := read(path)
	if err != nil {
		return nil, &ExtractionFailedError{Path: path, Format: strings.TrimPrefix(ext, "."), Err: err}
	}

	text := Clean(raw)
	if len([]rune(text)) < MinTextChars {
		return nil, &InputError{Path: path, Reason: "document contains too little text"}
	}

	slog.Debug("Extracted document", "path", path, "type", ext, "bytes", info.Size(), "chars", len(text))
	return &Document{
		Path: path,
		Name: filepath.Base(path),
		Ext:  ext,
		Size: info.Size(),
		Text: text,
	}, nil
}

// Clean collapses whitespace runs and drops control characters.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return ' '
		}
		if r < 0x20 || r == 0x7f || r == '\uFFFD' {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func readPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
