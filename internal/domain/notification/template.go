package notification

import (
	"fmt"
	"strings"
)

// Template defines a reusable notification text.
type Template struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	templates map[string]*Template
}

// Built-in template ids.
const (
	TemplateVisitCreated       = "visit-created"
	TemplateVisitItemsSelected = "visit-items-selected"
	TemplateVisitCompleted     = "visit-completed"
	TemplateVisitForceClosed   = "visit-force-closed"
)

// NewTemplateEngine creates a TemplateEngine with the workflow templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    TemplateVisitCreated,
			Type:  TypeVisitCreated,
			Title: "New visit {{visit_number}}",
			Body:  "Visit {{visit_number}} ({{visit_type}}) is waiting for {{department}}.",
		},
		{
			ID:    TemplateVisitItemsSelected,
			Type:  TypeVisitItemsSelected,
			Title: "Visit {{visit_number}} needs {{department}}",
			Body:  "The doctor selected {{item_count}} item(s) for {{department}} on visit {{visit_number}}.",
		},
		{
			ID:    TemplateVisitCompleted,
			Type:  TypeVisitCompleted,
			Title: "Visit {{visit_number}} completed",
			Body:  "All departments have completed visit {{visit_number}}.",
		},
		{
			ID:    TemplateVisitForceClosed,
			Type:  TypeVisitForceClosed,
			Title: "Visit {{visit_number}} closed",
			Body:  "Visit {{visit_number}} was closed by the front desk. {{notes}}",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// Render fills a template. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (*Template, error) {
	t, ok := e.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("template %q not found", templateID)
	}

	out := *t
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		out.Title = strings.ReplaceAll(out.Title, placeholder, v)
		out.Body = strings.ReplaceAll(out.Body, placeholder, v)
	}
	out.Body = strings.TrimSpace(out.Body)
	return &out, nil
}
