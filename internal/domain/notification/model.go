package notification

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Types of workflow notification.
const (
	TypeVisitCreated       = "visit_created"
	TypeVisitItemsSelected = "visit_items_selected"
	TypeVisitCompleted     = "visit_completed"
	TypeVisitForceClosed   = "visit_force_closed"
	TypeGeneral            = "general"
)

// Notification is one recipient's copy of a message. Role-addressed
// requests produce one row per resolved user.
type Notification struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	RecipientUserID uuid.UUID  `db:"recipient_user_id" json:"recipient_user_id"`
	SenderUserID    *uuid.UUID `db:"sender_user_id" json:"sender_user_id,omitempty"`
	VisitID         *uuid.UUID `db:"visit_id" json:"visit_id,omitempty"`
	Type            string     `db:"type" json:"type"`
	Title           string     `db:"title" json:"title"`
	Message         string     `db:"message" json:"message"`
	IsRead          bool       `db:"is_read" json:"is_read"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ReadAt          *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// Request asks for a notification to a single user or to every active
// member of a role. Exactly one of ToUserID and ToRole is set. When
// TemplateID is set, Title, Message and Type come from the template
// rendered with Data.
type Request struct {
	FromUserID uuid.UUID
	ToUserID   *uuid.UUID
	ToRole     string
	VisitID    *uuid.UUID
	Type       string
	Title      string
	Message    string
	TemplateID string
	Data       map[string]string
}

// ForUser addresses r to one user.
func ForUser(id uuid.UUID, r Request) Request {
	r.ToUserID = &id
	r.ToRole = ""
	return r
}

// ForRole addresses r to the active members of role.
func ForRole(role string, r Request) Request {
	r.ToUserID = nil
	r.ToRole = role
	return r
}

func (r Request) Validate() error {
	if (r.ToUserID == nil) == (r.ToRole == "") {
		return fmt.Errorf("exactly one of recipient user and recipient role must be set")
	}
	if r.ToUserID != nil && *r.ToUserID == uuid.Nil {
		return fmt.Errorf("recipient user id is empty")
	}
	if r.TemplateID == "" && r.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// target names the recipient for logs.
func (r Request) target() string {
	if r.ToUserID != nil {
		return "user:" + r.ToUserID.String()
	}
	return "role:" + r.ToRole
}
