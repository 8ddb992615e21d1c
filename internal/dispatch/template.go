package dispatch

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
)

// DefaultMessageTemplate is the confirmation text sent after consent.
const DefaultMessageTemplate = "Thank you, {{.Name}}, for choosing {{.Product}}!"

// MessageRenderer renders the confirmation body with strict missing-key semantics.
type MessageRenderer struct {
	tmpl *template.Template
}

// NewMessageRenderer parses text once. Empty text uses DefaultMessageTemplate.
func NewMessageRenderer(text string) (*MessageRenderer, error) {
	if text == "" {
		text = DefaultMessageTemplate
	}
	t, err := template.New("confirmation").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("dispatch: parse message template: %w", err)
	}
	return &MessageRenderer{tmpl: t}, nil
}

// Render produces the message body for sub. Name, Product and Phone are the
// only keys available to the template.
func (r *MessageRenderer) Render(sub *submissions.Submission) (string, error) {
	var buf bytes.Buffer
	data := map[string]any{
		"Name":    sub.Name,
		"Product": sub.Product,
		"Phone":   sub.Phone,
	}
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("dispatch: render message: %w", err)
	}
	return buf.String(), nil
}
