// Package notify delivers transactional email with sanitising, per-recipient caps and bounded retries
package notify

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"booking-service/internal/apperr"
)

// Message is one outbound email with a single recipient
type Message struct {
	From    string `validate:"required"`
	To      string `validate:"required,email"`
	ReplyTo string `validate:"omitempty,email"`
	Subject string `validate:"required,max=250"`
	HTML    string
	Text    string
	// Tag scopes the cooldown; two messages with different tags to one recipient do not collide
	Tag string
}

// Provider is an email delivery backend
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (id string, err error)
}

type sanitizer struct {
	html *bluemonday.Policy
	text *bluemonday.Policy
}

func newSanitizer() sanitizer {
	return sanitizer{html: bluemonday.UGCPolicy(), text: bluemonday.StrictPolicy()}
}

// plain strips every tag; the strict policy escapes entities which plain text must not carry
func (s sanitizer) plain(in string) string {
	return html.UnescapeString(s.text.Sanitize(in))
}

func (s sanitizer) apply(m Message) Message {
	m.Subject = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(s.plain(m.Subject)))
	if m.HTML != "" {
		m.HTML = s.html.Sanitize(m.HTML)
	}
	if m.Text != "" {
		m.Text = s.plain(m.Text)
	}
	m.To = strings.ToLower(strings.TrimSpace(m.To))
	return m
}

func validate(v *validator.Validate, m Message) error {
	if err := v.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return apperr.Invalid(strings.ToLower(f.Field()), "email "+strings.ToLower(f.Field())+" failed "+f.Tag()+" validation")
		}
		return apperr.Wrap(err, apperr.KindInput, "invalid email message")
	}
	if strings.TrimSpace(m.HTML) == "" && strings.TrimSpace(m.Text) == "" {
		return apperr.Invalid("body", "email needs an html or text body")
	}
	return nil
}
