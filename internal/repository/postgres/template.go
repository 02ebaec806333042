package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
)

type templateRepository struct {
	BaseRepository
}

func NewTemplateRepository(base BaseRepository) repository.TemplateRepository {
	return &templateRepository{base}
}

func (r *templateRepository) Get(ctx context.Context, typ model.NotificationType, channel model.Channel, language string) (*model.Template, error) {
	query := `
		SELECT id, type, channel, language, subject, message, html_body, created_at, updated_at
		FROM notification_templates
		WHERE type = $1 AND channel = $2 AND language = $3
	`
	var tpl model.Template
	if err := r.db.GetContext(ctx, &tpl, query, typ, channel, language); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tpl, nil
}

func (r *templateRepository) Upsert(ctx context.Context, tpl *model.Template) error {
	if tpl == nil {
		return fmt.Errorf("template cannot be nil")
	}

	query := `
		INSERT INTO notification_templates (
			id, type, channel, language, subject, message, html_body, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (type, channel, language) DO UPDATE SET
			subject = EXCLUDED.subject,
			message = EXCLUDED.message,
			html_body = EXCLUDED.html_body,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		tpl.ID,
		tpl.Type,
		tpl.Channel,
		tpl.Language,
		tpl.Subject,
		tpl.Message,
		tpl.HTMLBody,
		tpl.CreatedAt,
		tpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	return nil
}
