// Package render turns an event into the text of a chat message.
package render

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/mywio/im-notify/pkg/event"
)

//go:embed templates/default.tmpl
var defaultTemplate string

// Data is the template input.
type Data struct {
	Event       *event.Event
	Issue       *event.Issue
	Recipient   *event.Identity
	Description string
	Comment     *event.Comment
	BaseURL     string
}

// Link points at the comment, the issue, or the issue built from BaseURL.
func (d Data) Link() string {
	if d.Comment != nil && d.Comment.URL != "" {
		return d.Comment.URL
	}
	if d.Issue == nil {
		return ""
	}
	if d.Issue.URL != "" {
		return d.Issue.URL
	}
	if d.BaseURL == "" || d.Issue.Owner == "" || d.Issue.Repo == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s/issues/%d", strings.TrimRight(d.BaseURL, "/"), d.Issue.Owner, d.Issue.Repo, d.Issue.Number)
}

var funcs = template.FuncMap{
	"who":   func(id *event.Identity) string { return id.String() },
	"lower": strings.ToLower,
	"truncate": func(n int, s string) string {
		s = strings.TrimSpace(s)
		r := []rune(s)
		if len(r) <= n {
			return s
		}
		return string(r[:n]) + "…"
	},
}

// Renderer executes a message template.
type Renderer struct {
	tmpl *template.Template
}

// New parses text, or the built-in template when text is empty.
func New(text string) (*Renderer, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultTemplate
	}
	tmpl, err := template.New("message").Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// NewFromFile parses the template stored at path.
func NewFromFile(path string) (*Renderer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return New(string(raw))
}

// Render executes the template. The result is trimmed; an empty message is
// an error.
func (r *Renderer) Render(data Data) (string, error) {
	var b strings.Builder
	if err := r.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("render: empty message")
	}
	return out, nil
}
