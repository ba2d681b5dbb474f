package extract

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docuscene/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func writeDOCX(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?><Types/>`))
	require.NoError(t, err)

	w, err = zw.Create(docxBody)
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestExtract_Formats(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "plain text",
			path: writeFile(t, dir, "notes.txt", "Quarterly  results\n\nimproved\tacross regions."),
			want: "Quarterly results improved across regions.",
		},
		{
			name: "markdown",
			path: writeFile(t, dir, "README.MD", "# Onboarding\n\nWelcome to the team."),
			want: "# Onboarding Welcome to the team.",
		},
		{
			name: "html",
			path: writeFile(t, dir, "page.html", `<html><head><title>Ignored</title><style>p{}</style></head>
<body><nav>Menu</nav><h1>Launch</h1><p>Our product ships<script>alert(1)</script> today.</p><p>Second paragraph.</p></body></html>`),
			want: "Launch Our product ships today. Second paragraph.",
		},
		{
			name: "htm",
			path: writeFile(t, dir, "old.htm", `<p>Legacy</p><p>page content here</p>`),
			want: "Legacy page content here",
		},
		{
			name: "docx",
			path: writeDOCX(t, dir, "memo.docx", `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Team</w:t></w:r><w:r><w:t xml:space="preserve"> offsite</w:t></w:r></w:p>
<w:p><w:r><w:t>Agenda</w:t><w:tab/><w:t>attached</w:t></w:r></w:p>
</w:body></w:document>`),
			want: "Team offsite Agenda attached",
		},
	}

	x := New(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := x.Extract(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Text)
			assert.Equal(t, filepath.Base(tt.path), doc.Name)
			assert.Equal(t, strings.ToLower(filepath.Ext(tt.path)), doc.Ext)
			assert.Positive(t, doc.Size)
		})
	}
}

func TestExtract_InputErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		path   string
		reason string
	}{
		{"image", writeFile(t, dir, "photo.png", "not really a png"), "unsupported file type .png"},
		{"pptx", writeFile(t, dir, "deck.pptx", "zip"), "unsupported file type .pptx"},
		{"xlsx", writeFile(t, dir, "sheet.xlsx", "zip"), "unsupported file type .xlsx"},
		{"no extension", writeFile(t, dir, "README", "plenty of text in here"), "unsupported file type (none)"},
		{"missing", filepath.Join(dir, "gone.txt"), "file not found"},
		{"too short", writeFile(t, dir, "short.txt", "  tiny \n\n"), "document contains too little text"},
		{"whitespace only", writeFile(t, dir, "blank.md", "\n\n\t   \n"), "document contains too little text"},
	}

	x := New(50)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.Extract(tt.path)
			require.Error(t, err)

			var inErr *InputError
			require.True(t, errors.As(err, &inErr), "got %T", err)
			assert.Equal(t, tt.reason, inErr.Reason)
			assert.ErrorIs(t, err, model.ErrInput)
		})
	}
}

func TestExtract_SizeLimit(t *testing.T) {
	dir := t.TempDir()
	big := writeFile(t, dir, "big.txt", strings.Repeat("a", 1024*1024+1))

	_, err := New(1).Extract(big)
	var inErr *InputError
	require.ErrorAs(t, err, &inErr)
	assert.Contains(t, inErr.Reason, "limit is 1048576")

	doc, err := New(2).Extract(big)
	require.NoError(t, err)
	assert.Len(t, doc.Text, 1024*1024+1)
}

func TestExtract_BrokenFiles(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		path   string
		format string
	}{
		{"docx not a zip", writeFile(t, dir, "broken.docx", "this is not a zip archive"), "docx"},
		{"docx without body", writeNoBodyDOCX(t, dir), "docx"},
		{"docx bad xml", writeDOCX(t, dir, "badxml.docx", "<w:document><w:body><w:p>"), "docx"},
	}

	x := New(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.Extract(tt.path)
			var exErr *ExtractionFailedError
			require.ErrorAs(t, err, &exErr)
			assert.Equal(t, tt.format, exErr.Format)
			assert.NotErrorIs(t, err, model.ErrInput)
		})
	}
}

func TestReadPDF_Missing(t *testing.T) {
	_, err := readPDF(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

// writeNoBodyDOCX writes an archive that lacks word/document.xml.
func writeNoBodyDOCX(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "nobody.docx")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<styles/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a  b", "a b"},
		{"\n\nline one\r\nline two\n", "line one line two"},
		{"bell\x07char", "bellchar"},
		{"bad \uFFFD rune", "bad rune"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), "Clean(%q)", tt.in)
	}
}

func TestSupported(t *testing.T) {
	assert.Equal(t, []string{".docx", ".htm", ".html", ".md", ".pdf", ".txt"}, Supported())
}
