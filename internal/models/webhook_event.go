package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventTarget string

const (
	TargetPayment EventTarget = "payment"
	TargetAccount EventTarget = "account"
)

// WebhookEvent is one entry of a record's append-only event log. The unique index keeps a
// redelivered external event from ever being logged twice for the same record.
type WebhookEvent struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TargetType      EventTarget    `gorm:"type:varchar(20);not null;index:ux_webhook_events_target_event,unique,priority:1" json:"target_type"`
	TargetID        string         `gorm:"type:varchar(64);not null;index:ux_webhook_events_target_event,unique,priority:2" json:"target_id"`
	ExternalEventID string         `gorm:"type:varchar(191);not null;index:ux_webhook_events_target_event,unique,priority:3" json:"external_event_id"`
	Type            string         `gorm:"type:varchar(100);not null;index" json:"type"`
	EventCreated    int64          `gorm:"not null;default:0" json:"event_created"`
	Payload         datatypes.JSON `json:"payload"`
	Processed       bool           `gorm:"not null;default:false" json:"processed"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error,omitempty"`
	ReceivedAt      time.Time      `gorm:"not null;index" json:"received_at"`
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}
