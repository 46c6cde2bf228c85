package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

const maxErrorLength = 2000

// Ledger stores one row per gateway event id and walks it through
// received -> applying -> applied | failed, or received -> ignored.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Find(ctx context.Context, gateway enums.PaymentGateway, eventID string) (*models.WebhookEvent, error) {
	var row models.WebhookEvent
	err := l.db.WithContext(ctx).Where("gateway = ? AND event_id = ?", gateway, eventID).Take(&row).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Record persists the raw event as received. A concurrent insert of the same
// event id is resolved by reading the winner's row.
func (l *Ledger) Record(ctx context.Context, evt Event) (*models.WebhookEvent, error) {
	row := &models.WebhookEvent{
		Gateway: evt.Gateway,
		EventID: evt.EventID,
		Type:    evt.Type,
		Payload: string(evt.Payload),
		Status:  enums.WebhookEventStatusReceived,
	}
	if err := l.db.WithContext(ctx).Create(row).Error; err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, err
		}
		existing, findErr := l.Find(ctx, evt.Gateway, evt.EventID)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	return row, nil
}

// MarkApplying bumps the attempt counter as a delivery starts applying.
func (l *Ledger) MarkApplying(ctx context.Context, id uuid.UUID, now time.Time) error {
	return l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.WebhookEventStatusApplying,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		}).Error
}

func (l *Ledger) MarkApplied(ctx context.Context, id uuid.UUID, note string, now time.Time) error {
	return l.finish(ctx, id, enums.WebhookEventStatusApplied, note, now)
}

func (l *Ledger) MarkIgnored(ctx context.Context, id uuid.UUID, now time.Time) error {
	return l.finish(ctx, id, enums.WebhookEventStatusIgnored, "", now)
}

func (l *Ledger) finish(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, note string, now time.Time) error {
	updates := map[string]any{
		"status":           status,
		"processed_at":     now,
		"processing_error": nil,
		"updated_at":       now,
	}
	if note != "" {
		updates["note"] = note
	}
	return l.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// MarkFailed records why applying failed. processed_at stays null so the
// next delivery applies again.
func (l *Ledger) MarkFailed(ctx context.Context, id uuid.UUID, cause error, now time.Time) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           enums.WebhookEventStatusFailed,
			"processing_error": msg,
			"updated_at":       now,
		}).Error
}

// StuckCount is the number of ledger rows per status that have not reached a
// terminal state since before a cutoff.
type StuckCount struct {
	Status enums.WebhookEventStatus
	Count  int64
}

// CountStuck reports failed rows and rows left in applying or received before
// the cutoff.
func (l *Ledger) CountStuck(ctx context.Context, cutoff time.Time) ([]StuckCount, error) {
	var rows []StuckCount
	err := l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Select("status, COUNT(*) AS count").
		Where("status IN ? AND updated_at < ?", []enums.WebhookEventStatus{
			enums.WebhookEventStatusReceived,
			enums.WebhookEventStatusApplying,
			enums.WebhookEventStatusFailed,
		}, cutoff).
		Group("status").
		Order("status").
		Scan(&rows).Error
	return rows, err
}
