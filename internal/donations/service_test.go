package donations

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type stubGateway struct {
	name     enums.PaymentGateway
	requests []payments.SessionRequest
	err      error
	outcome  payments.Outcome
}

func (g *stubGateway) Name() enums.PaymentGateway { return g.name }

func (g *stubGateway) CreateSession(_ context.Context, req payments.SessionRequest) (payments.Session, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return payments.Session{}, g.err
	}
	return payments.Session{Gateway: g.name, ID: "cs_donation", RedirectURL: "https://pay.test/cs_donation"}, nil
}

func (g *stubGateway) Verify(context.Context, string) (payments.Outcome, error) {
	return g.outcome, nil
}

type applierFunc func(payments.Outcome) error

func (f applierFunc) ApplyOutcome(_ context.Context, o payments.Outcome) error { return f(o) }

func newTestService(t *testing.T, gw *stubGateway, apply applierFunc) (Service, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.Client(t)
	if apply == nil {
		apply = func(payments.Outcome) error { return nil }
	}
	svc, err := NewService(ServiceParams{
		Repo:            NewRepository(conn),
		Tx:              client,
		Gateways:        payments.NewRegistry(gw),
		Applier:         apply,
		ReturnURLs:      ReturnURLs{Success: "https://shop.test/donate/thanks", Cancel: "https://shop.test/donate"},
		DefaultCurrency: "USD",
		Logger:          logger.Nop(),
	})
	require.NoError(t, err)
	return svc, conn
}

func TestCreateOpensDonationSession(t *testing.T) {
	gw := &stubGateway{name: enums.PaymentGatewayStripe}
	svc, conn := newTestService(t, gw, nil)

	res, err := svc.Create(context.Background(), CreateInput{
		AmountCents: 2500,
		DonorName:   "Ada",
		DonorEmail:  "ada@example.com",
		Message:     "keep it up",
		Gateway:     "stripe",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/cs_donation", res.RedirectURL)
	assert.Equal(t, "usd", res.Currency)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, payments.KindDonation, req.Kind)
	assert.Equal(t, res.DonationID, req.ReferenceID)
	assert.Equal(t, int64(2500), req.TotalCents)
	assert.Contains(t, req.SuccessURL, "donation_id="+res.DonationID.String())
	require.NoError(t, req.Validate())

	var stored models.Donation
	require.NoError(t, conn.Take(&stored, "id = ?", res.DonationID).Error)
	assert.Equal(t, enums.DonationStatusPending, stored.Status)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, "cs_donation", *stored.PaymentID)
}

func TestCreateRollsBackWhenGatewayFails(t *testing.T) {
	gw := &stubGateway{name: enums.PaymentGatewayStripe, err: errors.New("stripe down")}
	svc, conn := newTestService(t, gw, nil)

	_, err := svc.Create(context.Background(), CreateInput{AmountCents: 1000, DonorName: "Ada", DonorEmail: "ada@example.com", Gateway: "stripe"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	var count int64
	require.NoError(t, conn.Model(&models.Donation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateValidatesInput(t *testing.T) {
	gw := &stubGateway{name: enums.PaymentGatewayStripe}
	svc, _ := newTestService(t, gw, nil)
	ctx := context.Background()

	cases := []CreateInput{
		{AmountCents: 50, DonorName: "Ada", DonorEmail: "ada@example.com", Gateway: "stripe"},
		{AmountCents: 1000, DonorName: " ", DonorEmail: "ada@example.com", Gateway: "stripe"},
		{AmountCents: 1000, DonorName: "Ada", DonorEmail: "nope", Gateway: "stripe"},
		{AmountCents: 1000, DonorName: "Ada", DonorEmail: "ada@example.com", Gateway: "cash"},
		{AmountCents: 1000, DonorName: "Ada", DonorEmail: "ada@example.com", Gateway: "paypal"},
	}
	for _, in := range cases {
		_, err := svc.Create(ctx, in)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v", in)
	}
	assert.Empty(t, gw.requests)
}

func TestConfirmReturnAppliesSettledOutcome(t *testing.T) {
	gw := &stubGateway{name: enums.PaymentGatewayStripe}
	var applied []payments.Outcome
	svc, _ := newTestService(t, gw, func(o payments.Outcome) error {
		applied = append(applied, o)
		return nil
	})
	ctx := context.Background()
	res, err := svc.Create(ctx, CreateInput{AmountCents: 1000, DonorName: "Ada", DonorEmail: "ada@example.com", Gateway: "stripe"})
	require.NoError(t, err)

	gw.outcome = payments.Outcome{Gateway: enums.PaymentGatewayStripe, Status: enums.PaymentStatusCompleted, SessionID: "cs_donation", Kind: payments.KindDonation, ReferenceID: res.DonationID}
	_, err = svc.ConfirmReturn(ctx, res.DonationID, "")
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, res.DonationID, applied[0].ReferenceID)

	gw.outcome.Kind, gw.outcome.ReferenceID = payments.KindOrder, uuid.New()
	_, err = svc.ConfirmReturn(ctx, res.DonationID, "cs_donation")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeVerification))
}

func TestGetUnknownDonation(t *testing.T) {
	svc, _ := newTestService(t, &stubGateway{name: enums.PaymentGatewayStripe}, nil)
	_, err := svc.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
