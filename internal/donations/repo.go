package donations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Repository persists donations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, donation *models.Donation) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Donation, error)
	SetPaymentID(ctx context.Context, id uuid.UUID, paymentID string, now time.Time) error
	MarkPaid(ctx context.Context, id uuid.UUID, paid PaidUpdate) (bool, error)
	FailPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// PaidUpdate carries the gateway references stored when a donation settles.
type PaidUpdate struct {
	PaidAt          time.Time
	PaymentID       string
	PaymentIntentID string
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, donation *models.Donation) error {
	return r.db.WithContext(ctx).Create(donation).Error
}

// Delete removes an unpaid donation whose gateway session never opened.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ? AND paid_at IS NULL", id).Delete(&models.Donation{}).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	return r.find(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Donation, error) {
	if paymentID == "" {
		return nil, nil
	}
	return r.find(r.db.WithContext(ctx).Where("payment_id = ?", paymentID))
}

func (r *repository) find(q *gorm.DB) (*models.Donation, error) {
	var donation models.Donation
	if err := q.Take(&donation).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &donation, nil
}

func (r *repository) SetPaymentID(ctx context.Context, id uuid.UUID, paymentID string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id = ?", id).
		Updates(map[string]any{"payment_id": paymentID, "updated_at": now}).Error
}

// MarkPaid settles an unpaid donation and reports whether a row changed.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paid PaidUpdate) (bool, error) {
	updates := map[string]any{
		"paid_at":    paid.PaidAt,
		"status":     enums.DonationStatusPaid,
		"updated_at": paid.PaidAt,
	}
	if paid.PaymentID != "" {
		updates["payment_id"] = paid.PaymentID
	}
	if paid.PaymentIntentID != "" {
		updates["payment_intent_id"] = paid.PaymentIntentID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id = ? AND paid_at IS NULL", id).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) FailPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id = ? AND status = ? AND paid_at IS NULL", id, enums.DonationStatusPending).
		Updates(map[string]any{"status": enums.DonationStatusFailed, "updated_at": now})
	return res.RowsAffected > 0, res.Error
}
