package web

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// Templates holds the callback pages, each parsed on top of the base layout.
type Templates struct {
	pages map[string]*template.Template
}

// CallbackPageData is passed to the success and failure pages.
type CallbackPageData struct {
	Title   string
	Success bool
	Reason  string
}

// NewTemplates parses layouts/*.html once and clones it for every pages/*.html.
func NewTemplates(templatesFS fs.FS) (*Templates, error) {
	layout, err := template.ParseFS(templatesFS, "layouts/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing layouts: %w", err)
	}

	files, err := fs.Glob(templatesFS, "pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("finding pages: %w", err)
	}

	t := &Templates{pages: make(map[string]*template.Template, len(files))}
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".html")

		page, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning layout for %s: %w", name, err)
		}
		if _, err := page.ParseFS(templatesFS, file); err != nil {
			return nil, fmt.Errorf("parsing page %s: %w", name, err)
		}
		t.pages[name] = page
	}
	return t, nil
}

// Render executes the base layout with the named page's content.
func (t *Templates) Render(w io.Writer, page string, data any) error {
	tmpl, ok := t.pages[page]
	if !ok {
		return fmt.Errorf("template %q not found", page)
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}

// Respond renders page into a buffer and writes it with status. Nothing is
// written to w when rendering fails.
func (t *Templates) Respond(w http.ResponseWriter, status int, page string, data any) error {
	var buf bytes.Buffer
	if err := t.Render(&buf, page, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
	return nil
}
