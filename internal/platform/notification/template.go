package notification

import (
	"fmt"
	"strings"
	"sync"
)

// TemplateEngine renders notification messages with {{key}} substitution.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Type]string
}

func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{templates: map[Type]string{
		TypeRequest:    `You have been assigned the {{report_type}} report "{{title}}" for {{patient}}, due {{deadline}}.`,
		TypeReminder:   `Reminder: the {{report_type}} report "{{title}}" is due {{deadline}}.`,
		TypeCompletion: `The {{report_type}} report "{{title}}" you requested was completed by {{actor}}.`,
		TypeOverdue:    `The {{report_type}} report "{{title}}" is overdue; it was due {{deadline}}.`,
	}}
}

func (e *TemplateEngine) Register(t Type, body string) {
	e.mu.Lock()
	e.templates[t] = body
	e.mu.Unlock()
}

// Render substitutes data into the template for t. Placeholders without a
// value are left as-is.
func (e *TemplateEngine) Render(t Type, data map[string]string) (string, error) {
	e.mu.RLock()
	body, ok := e.templates[t]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no template for notification type %q", t)
	}
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}
