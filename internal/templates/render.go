// Package templates renders the HTML fragments the editor streams over
// Datastar. Fragments are embedded; a directory of *.html files can
// replace them at runtime.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"sync"
)

//go:embed fragments/*.html
var fragments embed.FS

func helpers() template.FuncMap {
	return template.FuncMap{
		"percent": func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	}
}

// Renderer executes named fragments. It is safe for concurrent use and
// may be reloaded while streams render.
type Renderer struct {
	mu  sync.RWMutex
	set *template.Template
}

// New returns a renderer over the fragments compiled into the binary.
func New() (*Renderer, error) {
	set, err := load(fragments, "fragments/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{set: set}, nil
}

// NewFromDir returns a renderer over the *.html files of dir.
func NewFromDir(dir string) (*Renderer, error) {
	set, err := load(os.DirFS(dir), "*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{set: set}, nil
}

func load(fsys fs.FS, pattern string) (*template.Template, error) {
	set, err := template.New("fragments").Funcs(helpers()).ParseFS(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("parse fragments: %w", err)
	}
	return set, nil
}

// Render executes the fragment name with data.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer appends the fragment name to buf.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	set := r.set
	r.mu.RUnlock()
	return set.ExecuteTemplate(buf, name, data)
}

// MustRender is Render for fragments known to exist.
func (r *Renderer) MustRender(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}

// Reload swaps in the fragments of dir. On error the current set is kept.
func (r *Renderer) Reload(dir string) error {
	set, err := load(os.DirFS(dir), "*.html")
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.set = set
	r.mu.Unlock()
	return nil
}
