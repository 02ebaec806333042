package template

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/internal/repository"
)

type defaultText struct {
	subject string
	message string
}

// One subject/message pair per type; seeded for every channel, with an HTML
// body only on email. Administrators override per channel/language later.
var defaultTexts = map[model.NotificationType]defaultText{
	model.TypeDueReminder: {
		subject: "Reminder: {{.task_title}} is due {{.due_in}}",
		message: "Your task \"{{.task_title}}\" is due {{.due_in}} ({{.due_date}}). Urgency: {{.urgency}}.",
	},
	model.TypeOverdueAlert: {
		subject: "Overdue: {{.task_title}}",
		message: "Your task \"{{.task_title}}\" was due {{.due_date}} and is now overdue.",
	},
	model.TypeAssignment: {
		subject: "{{.assigner_name}} assigned you a task",
		message: "{{.assigner_name}} assigned you the task \"{{.task_title}}\".",
	},
	model.TypeCompletion: {
		subject: "{{.completer_name}} completed {{.task_title}}",
		message: "{{.completer_name}} marked the task \"{{.task_title}}\" as completed.",
	},
	model.TypeStatusChange: {
		subject: "{{.task_title}} moved to {{.new_status}}",
		message: "The task \"{{.task_title}}\" changed status from {{.old_status}} to {{.new_status}}.",
	},
	model.TypePriorityChange: {
		subject: "{{.task_title}} priority changed to {{.new_priority}}",
		message: "The task \"{{.task_title}}\" changed priority from {{.old_priority}} to {{.new_priority}}.",
	},
	model.TypeDailySummary: {
		subject: "Your daily task summary",
		message: "Today: {{.due_today}} due, {{.overdue}} overdue, {{.completed}} completed.",
	},
	model.TypeWeeklySummary: {
		subject: "Your weekly task summary",
		message: "This week: {{.due_today}} due, {{.overdue}} overdue, {{.completed}} completed.",
	},
	model.TypeComment: {
		subject: "{{.commenter_name}} commented on {{.task_title}}",
		message: "{{.commenter_name}} commented on \"{{.task_title}}\": {{.comment}}",
	},
}

var allChannels = []model.Channel{
	model.ChannelEmail,
	model.ChannelPush,
	model.ChannelInApp,
	model.ChannelSMS,
}

// SeedDefaults upserts the built-in templates for every (type, channel) in
// the default language. Existing administrative edits keep their rows only
// if they changed the language; default-language rows are reset, which is
// what "seeded at startup" means here.
func SeedDefaults(ctx context.Context, repo repository.TemplateRepository) error {
	now := time.Now()
	for typ, text := range defaultTexts {
		for _, channel := range allChannels {
			tpl := &model.Template{
				ID:        uuid.New(),
				Type:      typ,
				Channel:   channel,
				Language:  model.DefaultLanguage,
				Subject:   text.subject,
				Message:   text.message,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if channel == model.ChannelEmail {
				html := fmt.Sprintf("<h3>%s</h3><p>%s</p>", text.subject, text.message)
				tpl.HTMLBody = &html
			}
			if err := repo.Upsert(ctx, tpl); err != nil {
				return fmt.Errorf("failed to seed template %s/%s: %w", typ, channel, err)
			}
		}
	}
	return nil
}
