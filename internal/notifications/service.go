package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Service creates back office notifications and serves the admin inbox.
// The Create* methods write through tx when it is non-nil so they commit or
// roll back with the caller's transaction.
type Service interface {
	CreateOrderNotification(ctx context.Context, tx *gorm.DB, order *models.Order, shortfalls []Shortfall) error
	CreateDonationNotification(ctx context.Context, tx *gorm.DB, donation *models.Donation) error
	CreateOrderStatusNotification(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus) error

	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context) (int64, error)
	PurgeRead(ctx context.Context, olderThan time.Time) (int64, error)
}

// Shortfall describes one order line that could not be fully taken from stock.
type Shortfall struct {
	ProductID   uuid.UUID
	VariantID   *uuid.UUID
	ProductName string
	SKU         string
	Requested   int
	Available   int
}

// Missing is the number of units backordered. A short line is skipped
// entirely rather than partially filled, so it is the whole request.
func (s Shortfall) Missing() int {
	if s.Requested <= s.Available {
		return 0
	}
	return s.Requested
}

type service struct {
	repo Repository
	now  func() time.Time
}

// ListParams configures pagination for notifications.
type ListParams struct {
	Limit      int
	Cursor     string
	UnreadOnly bool
	Type       string
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor,omitempty"`
}

// NewService wires notifications dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateOrderNotification writes the single order_paid row for a paid order.
// Backordered lines ride along in the message and under data.shortfalls.
func (s *service) CreateOrderNotification(ctx context.Context, tx *gorm.DB, order *models.Order, shortfalls []Shortfall) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	units := 0
	for _, item := range order.Items {
		units += item.Quantity
	}
	message := fmt.Sprintf("Order %s paid: %s via %s",
		shortID(order.ID), formatMoney(order.TotalCents, order.Currency), order.PaymentMethod)
	data := map[string]any{
		"order_id":    order.ID.String(),
		"total_cents": order.TotalCents,
		"currency":    order.Currency,
		"gateway":     string(order.PaymentMethod),
		"units":       units,
	}
	if len(shortfalls) > 0 {
		backordered, lines := shortfallData(shortfalls)
		message += fmt.Sprintf(". %d unit(s) across %d line(s) backordered", backordered, len(shortfalls))
		data["backordered_units"] = backordered
		data["shortfalls"] = lines
	}
	return s.create(ctx, tx, &models.Notification{
		Type:    enums.NotificationTypeOrderPaid,
		Title:   "New order paid",
		Message: message,
		Data:    data,
	})
}

func shortfallData(shortfalls []Shortfall) (int, []map[string]any) {
	total := 0
	lines := make([]map[string]any, 0, len(shortfalls))
	for _, line := range shortfalls {
		total += line.Missing()
		entry := map[string]any{
			"product_id":      line.ProductID.String(),
			"product_name":    line.ProductName,
			"requested":       line.Requested,
			"available":       line.Available,
			"backordered_qty": line.Missing(),
		}
		if line.VariantID != nil {
			entry["variant_id"] = line.VariantID.String()
		}
		if line.SKU != "" {
			entry["sku"] = line.SKU
		}
		lines = append(lines, entry)
	}
	return total, lines
}

func (s *service) CreateDonationNotification(ctx context.Context, tx *gorm.DB, donation *models.Donation) error {
	if donation == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "donation required")
	}
	donor := strings.TrimSpace(donation.DonorName)
	if donor == "" {
		donor = "Anonymous"
	}
	return s.create(ctx, tx, &models.Notification{
		Type:    enums.NotificationTypeDonationReceived,
		Title:   "Donation received",
		Message: fmt.Sprintf("%s donated %s", donor, formatMoney(donation.AmountCents, donation.Currency)),
		Data: map[string]any{
			"donation_id":  donation.ID.String(),
			"amount_cents": donation.AmountCents,
			"currency":     donation.Currency,
			"donor_email":  donation.DonorEmail,
		},
	})
}

func (s *service) CreateOrderStatusNotification(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	return s.create(ctx, tx, &models.Notification{
		Type:    enums.NotificationTypeOrderStatus,
		Title:   "Order status changed",
		Message: fmt.Sprintf("Order %s moved from %s to %s", shortID(order.ID), from, order.Status),
		Data: map[string]any{
			"order_id": order.ID.String(),
			"from":     string(from),
			"to":       string(order.Status),
		},
	})
}

func (s *service) create(ctx context.Context, tx *gorm.DB, n *models.Notification) error {
	if err := s.repo.WithTx(tx).Create(ctx, n); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create notification")
	}
	return nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := listNotificationsParams{
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
	}
	if params.Type != "" {
		if !enums.NotificationType(params.Type).IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown notification type")
		}
		query.Type = params.Type
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.Cursor = cursor

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	page := pagination.Build(rows, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return &ListResult{Items: page.Items, Cursor: page.NextCursor}, nil
}

func (s *service) MarkRead(ctx context.Context, notificationID uuid.UUID) error {
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, notificationID, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context) (int64, error) {
	count, err := s.repo.MarkAllRead(ctx, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

func (s *service) PurgeRead(ctx context.Context, olderThan time.Time) (int64, error) {
	count, err := s.repo.DeleteReadBefore(ctx, olderThan)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge read notifications")
	}
	return count, nil
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}

func formatMoney(cents int64, currency string) string {
	return strings.ToUpper(currency) + " " + decimal.New(cents, -2).StringFixed(2)
}
