// Package template resolves template ids plus variable maps into final
// notification text. The engine only depends on the Renderer interface;
// Store is the in-process implementation.
package template

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrRender           = errors.New("template render failed")
)

// Rendered is the final text produced for a notification.
type Rendered struct {
	Title string
	Body  string
}

// Renderer resolves a template id and variables into final text.
type Renderer interface {
	Render(templateID string, variables map[string]string) (Rendered, error)
}

type entry struct {
	title *template.Template
	body  *template.Template
}

// Store compiles and renders named title/body template pairs.
type Store struct {
	mu        sync.RWMutex
	templates map[string]entry
}

func NewStore() *Store {
	return &Store{templates: make(map[string]entry)}
}

// Register adds or replaces a template definition.
func (s *Store) Register(id, title, body string) error {
	titleTmpl, err := template.New(id + ":title").Parse(title)
	if err != nil {
		return fmt.Errorf("parse template %s title: %w", id, err)
	}
	bodyTmpl, err := template.New(id + ":body").Parse(body)
	if err != nil {
		return fmt.Errorf("parse template %s body: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[id] = entry{title: titleTmpl, body: bodyTmpl}
	return nil
}

// Render executes the named template pair with the provided variables.
func (s *Store) Render(templateID string, variables map[string]string) (Rendered, error) {
	s.mu.RLock()
	e, ok := s.templates[templateID]
	s.mu.RUnlock()
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	var title, body strings.Builder
	if err := e.title.Execute(&title, variables); err != nil {
		return Rendered{}, fmt.Errorf("%w: %s title: %v", ErrRender, templateID, err)
	}
	if err := e.body.Execute(&body, variables); err != nil {
		return Rendered{}, fmt.Errorf("%w: %s body: %v", ErrRender, templateID, err)
	}
	return Rendered{Title: title.String(), Body: body.String()}, nil
}
