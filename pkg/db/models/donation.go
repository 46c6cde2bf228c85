package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Donation is a standalone gift with the same paid/pending/failed lifecycle as an order.
type Donation struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID          *uuid.UUID           `gorm:"column:user_id;type:uuid"`
	DonorName       string               `gorm:"column:donor_name;not null"`
	DonorEmail      string               `gorm:"column:donor_email;not null"`
	Message         *string              `gorm:"column:message"`
	AmountCents     int64                `gorm:"column:amount_cents;not null"`
	Currency        string               `gorm:"column:currency;not null"`
	Status          enums.DonationStatus `gorm:"column:status;not null;default:'pending'"`
	Gateway         enums.PaymentGateway `gorm:"column:gateway;not null"`
	PaymentID       *string              `gorm:"column:payment_id;index"`
	PaymentIntentID *string              `gorm:"column:payment_intent_id"`
	PaidAt          *time.Time           `gorm:"column:paid_at"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (d *Donation) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
