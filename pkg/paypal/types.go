package paypal

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"
)

// Order statuses returned by the v2 orders API.
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusApproved  = "APPROVED"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusVoided    = "VOIDED"

	CaptureStatusCompleted = "COMPLETED"
	CaptureStatusPending   = "PENDING"
	CaptureStatusDeclined  = "DECLINED"
	CaptureStatusRefunded  = "REFUNDED"
	CaptureStatusFailed    = "FAILED"
)

// Webhook event types handled by the storefront.
const (
	EventCheckoutOrderApproved  = "CHECKOUT.ORDER.APPROVED"
	EventPaymentCaptureComplete = "PAYMENT.CAPTURE.COMPLETED"
	EventPaymentCaptureDenied   = "PAYMENT.CAPTURE.DENIED"
	EventPaymentCaptureRefunded = "PAYMENT.CAPTURE.REFUNDED"
)

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Item struct {
	Name       string `json:"name"`
	Quantity   string `json:"quantity"`
	UnitAmount Money  `json:"unit_amount"`
	SKU        string `json:"sku,omitempty"`
}

type AmountBreakdown struct {
	ItemTotal *Money `json:"item_total,omitempty"`
	Shipping  *Money `json:"shipping,omitempty"`
}

type Amount struct {
	Money
	Breakdown *AmountBreakdown `json:"breakdown,omitempty"`
}

type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Amount      Amount    `json:"amount"`
	Items       []Item    `json:"items,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

type Payments struct {
	Captures []Capture `json:"captures,omitempty"`
}

type Capture struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Amount            *Money             `json:"amount,omitempty"`
	CustomID          string             `json:"custom_id,omitempty"`
	SupplementaryData *SupplementaryData `json:"supplementary_data,omitempty"`
	Links             []Link             `json:"links,omitempty"`
}

// UpCaptureID returns the capture a refund resource belongs to, read from its
// rel "up" link (.../v2/payments/captures/{id}). Empty when there is none.
func (c *Capture) UpCaptureID() string {
	if c == nil {
		return ""
	}
	for _, link := range c.Links {
		if link.Rel != "up" {
			continue
		}
		u, err := url.Parse(link.Href)
		if err != nil {
			return ""
		}
		dir, id := path.Split(strings.TrimSuffix(u.Path, "/"))
		if path.Base(dir) != "captures" {
			return ""
		}
		return id
	}
	return ""
}

type SupplementaryData struct {
	RelatedIDs struct {
		OrderID string `json:"order_id"`
	} `json:"related_ids"`
}

type ApplicationContext struct {
	BrandName    string `json:"brand_name,omitempty"`
	ReturnURL    string `json:"return_url"`
	CancelURL    string `json:"cancel_url"`
	UserAction   string `json:"user_action,omitempty"`
	ShippingPref string `json:"shipping_preference,omitempty"`
}

// CreateOrderRequest is the body of POST /v2/checkout/orders.
type CreateOrderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []PurchaseUnit     `json:"purchase_units"`
	ApplicationContext ApplicationContext `json:"application_context"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

// ApproveURL returns the link the buyer must be redirected to.
func (o *Order) ApproveURL() string {
	if o == nil {
		return ""
	}
	for _, link := range o.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

// FirstCapture returns the first capture across purchase units.
func (o *Order) FirstCapture() *Capture {
	if o == nil {
		return nil
	}
	for _, unit := range o.PurchaseUnits {
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			return &unit.Payments.Captures[0]
		}
	}
	return nil
}

// CustomID returns the first purchase unit custom id.
func (o *Order) CustomID() string {
	if o == nil {
		return ""
	}
	for _, unit := range o.PurchaseUnits {
		if unit.CustomID != "" {
			return unit.CustomID
		}
	}
	return ""
}

// WebhookEvent is the envelope of every PayPal notification.
type WebhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Summary      string          `json:"summary,omitempty"`
	Resource     json.RawMessage `json:"resource"`
	CreateTime   string          `json:"create_time,omitempty"`
}

// WebhookHeaders are the transmission headers PayPal signs each delivery with.
type WebhookHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// Header names used by PayPal webhook deliveries.
const (
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
)

// Complete reports whether every signature header is present.
func (h WebhookHeaders) Complete() bool {
	return h.AuthAlgo != "" && h.CertURL != "" && h.TransmissionID != "" && h.TransmissionSig != "" && h.TransmissionTime != ""
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}
