package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	"docuscene/pkg/llm"
)

//go:embed templates
var builtin embed.FS

// Manager handles loading and rendering of prompt templates.
// Templates under common/ are parsed first so other templates can use their
// {{define}} blocks.
type Manager struct {
	root *template.Template
}

// NewManager loads templates from dir, or the built-in set when dir is empty.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		sub, err := fs.Sub(builtin, "templates")
		if err != nil {
			return nil, err
		}
		return NewManagerFS(sub)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("prompt directory: %w", err)
	}
	return NewManagerFS(os.DirFS(dir))
}

// NewManagerFS loads templates from fsys.
func NewManagerFS(fsys fs.FS) (*Manager, error) {
	m := &Manager{}
	m.root = template.New("root").Funcs(template.FuncMap{
		"document": documentFunc,
		"join":     strings.Join,
	})

	if err := m.load(fsys, true); err != nil {
		return nil, fmt.Errorf("loading common templates: %w", err)
	}
	if err := m.load(fsys, false); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return m, nil
}

func (m *Manager) load(fsys fs.FS, common bool) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		if strings.HasPrefix(path, "common/") != common {
			return nil
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}

		t := m.root
		if !common {
			t = m.root.New(path)
		}
		if _, err := t.Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	})
}

// Render executes the named template with the provided data.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Has reports whether a template with the given name was loaded.
func (m *Manager) Has(name string) bool {
	return m.root.Lookup(name) != nil
}

// documentFunc wraps text in the document markers the LLM log recognizes.
func documentFunc(text string) string {
	return llm.DocumentStart + "\n" + strings.TrimSpace(text) + "\n" + llm.DocumentEnd
}
