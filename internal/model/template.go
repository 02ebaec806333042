package model

import (
	"time"

	"github.com/google/uuid"
)

// Template holds the subject/message/html sources for one
// (type, channel, language) key. Templates are seeded at startup and
// immutable on the hot path; edits are an administrative operation.
type Template struct {
	ID       uuid.UUID        `db:"id"`
	Type     NotificationType `db:"type"`
	Channel  Channel          `db:"channel"`
	Language string           `db:"language"`
	Subject  string           `db:"subject"`
	Message  string           `db:"message"`
	HTMLBody *string          `db:"html_body"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DefaultLanguage is the fallback when a user has no language set or no
// template exists for theirs.
const DefaultLanguage = "en"
