// Package template renders notification content. Rendering happens once, at
// record-creation time, so retries resend exactly what was composed and the
// stored record is a complete audit artifact.
package template

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
	apperrors "github.com/taskfleet/notifier/pkg/errors"
)

// Content is the rendered output stored on the notification record.
type Content struct {
	Title   string
	Message string
	HTML    *string
}

type Renderer struct {
	repo  repository.TemplateRepository
	cache *cache.Cache
}

type parsedTemplate struct {
	subject *texttemplate.Template
	message *texttemplate.Template
	html    *htmltemplate.Template
}

func NewRenderer(repo repository.TemplateRepository) *Renderer {
	return &Renderer{
		repo:  repo,
		cache: cache.New(10*time.Minute, 30*time.Minute),
	}
}

// Render looks up the (type, channel, language) template, falling back to
// the default language, and substitutes the variable bag. A missing template
// or an unresolved placeholder is a validation error: the scheduling call
// fails and no record is created.
func (r *Renderer) Render(ctx context.Context, typ model.NotificationType, channel model.Channel, language string, vars map[string]interface{}) (*Content, error) {
	tpl, err := r.lookup(ctx, typ, channel, language)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, apperrors.Validation(
			fmt.Sprintf("no template for type=%s channel=%s language=%s", typ, channel, language), nil)
	}

	parsed, err := r.parse(tpl)
	if err != nil {
		return nil, err
	}

	title, err := execute(parsed.subject, vars)
	if err != nil {
		return nil, apperrors.Validation("failed to render subject", err)
	}
	message, err := execute(parsed.message, vars)
	if err != nil {
		return nil, apperrors.Validation("failed to render message", err)
	}

	content := &Content{Title: title, Message: message}
	if parsed.html != nil {
		var buf bytes.Buffer
		if err := parsed.html.Execute(&buf, vars); err != nil {
			return nil, apperrors.Validation("failed to render html body", err)
		}
		html := buf.String()
		content.HTML = &html
	}
	return content, nil
}

func (r *Renderer) lookup(ctx context.Context, typ model.NotificationType, channel model.Channel, language string) (*model.Template, error) {
	if language == "" {
		language = model.DefaultLanguage
	}
	tpl, err := r.repo.Get(ctx, typ, channel, language)
	if err != nil {
		return nil, apperrors.Store("failed to load template", err)
	}
	if tpl == nil && language != model.DefaultLanguage {
		tpl, err = r.repo.Get(ctx, typ, channel, model.DefaultLanguage)
		if err != nil {
			return nil, apperrors.Store("failed to load fallback template", err)
		}
	}
	return tpl, nil
}

func (r *Renderer) parse(tpl *model.Template) (*parsedTemplate, error) {
	key := fmt.Sprintf("%s|%s|%s|%d", tpl.Type, tpl.Channel, tpl.Language, tpl.UpdatedAt.UnixNano())
	if cached, found := r.cache.Get(key); found {
		return cached.(*parsedTemplate), nil
	}

	// missingkey=error surfaces undeclared placeholders at schedule time.
	subject, err := texttemplate.New("subject").Option("missingkey=error").Parse(tpl.Subject)
	if err != nil {
		return nil, apperrors.Validation("invalid subject template", err)
	}
	message, err := texttemplate.New("message").Option("missingkey=error").Parse(tpl.Message)
	if err != nil {
		return nil, apperrors.Validation("invalid message template", err)
	}

	parsed := &parsedTemplate{subject: subject, message: message}
	if tpl.HTMLBody != nil {
		html, err := htmltemplate.New("html").Option("missingkey=error").Parse(*tpl.HTMLBody)
		if err != nil {
			return nil, apperrors.Validation("invalid html template", err)
		}
		parsed.html = html
	}

	r.cache.Set(key, parsed, cache.DefaultExpiration)
	return parsed, nil
}

func execute(tpl *texttemplate.Template, vars map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}
