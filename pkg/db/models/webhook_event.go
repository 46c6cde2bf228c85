package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// WebhookEvent is the idempotency ledger: one row per gateway event id.
type WebhookEvent struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	Gateway         enums.PaymentGateway     `gorm:"column:gateway;not null;uniqueIndex:ux_webhook_events_gateway_event"`
	EventID         string                   `gorm:"column:event_id;not null;uniqueIndex:ux_webhook_events_gateway_event"`
	Type            string                   `gorm:"column:type;not null"`
	Payload         string                   `gorm:"column:payload;not null"`
	Status          enums.WebhookEventStatus `gorm:"column:status;not null;default:'received';index"`
	Attempts        int                      `gorm:"column:attempts;not null;default:0"`
	ProcessingError *string                  `gorm:"column:processing_error"`
	Note            *string                  `gorm:"column:note"`
	ProcessedAt     *time.Time               `gorm:"column:processed_at"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
