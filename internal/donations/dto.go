package donations

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

type DonationDTO struct {
	ID          uuid.UUID            `json:"id"`
	DonorName   string               `json:"donor_name"`
	Message     *string              `json:"message,omitempty"`
	AmountCents int64                `json:"amount_cents"`
	Currency    string               `json:"currency"`
	Status      enums.DonationStatus `json:"status"`
	Gateway     enums.PaymentGateway `json:"gateway"`
	PaidAt      *time.Time           `json:"paid_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func NewDonationDTO(d *models.Donation) DonationDTO {
	return DonationDTO{
		ID:          d.ID,
		DonorName:   d.DonorName,
		Message:     d.Message,
		AmountCents: d.AmountCents,
		Currency:    d.Currency,
		Status:      d.Status,
		Gateway:     d.Gateway,
		PaidAt:      d.PaidAt,
		CreatedAt:   d.CreatedAt,
	}
}

type CreateResult struct {
	DonationID  uuid.UUID            `json:"donation_id"`
	Gateway     enums.PaymentGateway `json:"gateway"`
	SessionID   string               `json:"session_id"`
	RedirectURL string               `json:"redirect_url"`
	AmountCents int64                `json:"amount_cents"`
	Currency    string               `json:"currency"`
}
