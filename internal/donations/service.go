package donations

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	MinAmountCents   = 100
	MaxAmountCents   = 1_000_000_00
	maxMessageLength = 500
)

// Service takes one-off donations through the hosted gateways.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	Get(ctx context.Context, id uuid.UUID) (*DonationDTO, error)
	ConfirmReturn(ctx context.Context, id uuid.UUID, token string) (*DonationDTO, error)
}

type CreateInput struct {
	UserID      *uuid.UUID
	AmountCents int64
	Currency    string
	DonorName   string
	DonorEmail  string
	Message     string
	Gateway     string
}

type gatewayRegistry interface {
	Get(name enums.PaymentGateway) (payments.Gateway, error)
}

type paymentApplier interface {
	ApplyOutcome(ctx context.Context, outcome payments.Outcome) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ReturnURLs struct {
	Success string
	Cancel  string
}

type ServiceParams struct {
	Repo            Repository
	Tx              txRunner
	Gateways        gatewayRegistry
	Applier         paymentApplier
	ReturnURLs      ReturnURLs
	DefaultCurrency string
	Logger          *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	gateways gatewayRegistry
	applier  paymentApplier
	urls     ReturnURLs
	currency string
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "donations repository required")
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case params.Gateways == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway registry required")
	case params.Applier == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment applier required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = "usd"
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		gateways: params.Gateways,
		applier:  params.Applier,
		urls:     params.ReturnURLs,
		currency: currency,
		logg:     params.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create records a pending donation and opens a gateway session for it. A
// donation the gateway refused is deleted again.
func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	donation, gatewayName, err := s.build(input)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, donation); err != nil {
		return nil, asServiceError(err, "create donation")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"donation_id": donation.ID.String(), "gateway": string(gatewayName)})

	session, err := gateway.CreateSession(ctx, s.sessionRequest(donation))
	if err != nil {
		s.logg.Error(ctx, "donation.session_failed", err)
		if delErr := s.repo.Delete(ctx, donation.ID); delErr != nil {
			s.logg.Error(ctx, "donation.rollback_failed", delErr)
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable, please try again")
	}

	if err := s.repo.SetPaymentID(ctx, donation.ID, session.ID, s.now()); err != nil {
		return nil, asServiceError(err, "store donation payment id")
	}
	s.logg.Info(ctx, "donation.session_created")
	return &CreateResult{
		DonationID:  donation.ID,
		Gateway:     gatewayName,
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		AmountCents: donation.AmountCents,
		Currency:    donation.Currency,
	}, nil
}

func (s *service) build(input CreateInput) (*models.Donation, enums.PaymentGateway, error) {
	gatewayName, err := enums.ParsePaymentGateway(input.Gateway)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment gateway")
	}
	if input.AmountCents < MinAmountCents || input.AmountCents > MaxAmountCents {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "donation amount out of range").
			WithDetails(map[string]any{"min_cents": MinAmountCents, "max_cents": MaxAmountCents})
	}
	name := strings.TrimSpace(input.DonorName)
	if name == "" {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "donor name is required")
	}
	email := strings.TrimSpace(input.DonorEmail)
	if !strings.Contains(email, "@") {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "donor email is invalid")
	}
	message := strings.TrimSpace(input.Message)
	if len(message) > maxMessageLength {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "message too long")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.currency
	}

	donation := &models.Donation{
		UserID:      input.UserID,
		DonorName:   name,
		DonorEmail:  email,
		AmountCents: input.AmountCents,
		Currency:    currency,
		Status:      enums.DonationStatusPending,
		Gateway:     gatewayName,
	}
	if message != "" {
		donation.Message = &message
	}
	return donation, gatewayName, nil
}

func (s *service) sessionRequest(d *models.Donation) payments.SessionRequest {
	return payments.SessionRequest{
		Kind:        payments.KindDonation,
		ReferenceID: d.ID,
		Currency:    d.Currency,
		Items: []payments.LineItem{{
			Name:            "Donation",
			Quantity:        1,
			UnitAmountCents: d.AmountCents,
		}},
		TotalCents:     d.AmountCents,
		CustomerEmail:  d.DonorEmail,
		Description:    "Donation " + d.ID.String()[:8],
		SuccessURL:     withQuery(s.urls.Success, "donation_id", d.ID.String()),
		CancelURL:      withQuery(s.urls.Cancel, "donation_id", d.ID.String()),
		IdempotencyKey: "donation-" + d.ID.String(),
	}
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*DonationDTO, error) {
	donation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := NewDonationDTO(donation)
	return &dto, nil
}

// ConfirmReturn settles the donation from the browser return when the
// gateway reports a final outcome. Reconciliation guards against the webhook
// having done it first.
func (s *service) ConfirmReturn(ctx context.Context, id uuid.UUID, token string) (*DonationDTO, error) {
	donation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if donation.PaidAt != nil {
		dto := NewDonationDTO(donation)
		return &dto, nil
	}
	token = strings.TrimSpace(token)
	if token == "" && donation.PaymentID != nil {
		token = *donation.PaymentID
	}
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment token is required")
	}
	gateway, err := s.gateways.Get(donation.Gateway)
	if err != nil {
		return nil, err
	}
	outcome, err := gateway.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if outcome.ReferenceID != uuid.Nil && (outcome.Kind != payments.KindDonation || outcome.ReferenceID != donation.ID) {
		return nil, pkgerrors.New(pkgerrors.CodeVerification, "payment does not belong to this donation")
	}
	outcome.Kind, outcome.ReferenceID = payments.KindDonation, donation.ID
	if outcome.Status != enums.PaymentStatusPending {
		if err := s.applier.ApplyOutcome(ctx, outcome); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, donation.ID)
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation id required")
	}
	donation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, asServiceError(err, "load donation")
	}
	if donation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "donation not found")
	}
	return donation, nil
}

func asServiceError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
