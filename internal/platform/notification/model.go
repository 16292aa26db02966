package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of notifications a clinician can receive.
type Type string

const (
	TypeRequest    Type = "request"
	TypeReminder   Type = "reminder"
	TypeCompletion Type = "completion"
	TypeOverdue    Type = "overdue"
)

func (t Type) Valid() bool {
	switch t {
	case TypeRequest, TypeReminder, TypeCompletion, TypeOverdue:
		return true
	}
	return false
}

// Event is a workflow occurrence handed to the dispatcher. Not every event
// produces notifications.
type Event string

const (
	EventRequested Event = "requested"
	EventReminder  Event = "reminder"
	EventStarted   Event = "started"
	EventCompleted Event = "completed"
	EventOverdue   Event = "overdue"
)

func (e Event) notificationType() (Type, bool) {
	switch e {
	case EventRequested:
		return TypeRequest, true
	case EventReminder:
		return TypeReminder, true
	case EventCompleted:
		return TypeCompletion, true
	case EventOverdue:
		return TypeOverdue, true
	}
	return "", false
}

type Notification struct {
	ID          uuid.UUID  `json:"id"`
	ReportID    uuid.UUID  `json:"report_id"`
	RecipientID string     `json:"recipient_id"`
	Type        Type       `json:"type"`
	Message     string     `json:"message"`
	Read        bool       `json:"read"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	DedupeKey   *string    `json:"-"`
}
