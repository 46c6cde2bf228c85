package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	tokenPath        = "/v1/oauth2/token"
	ordersPath       = "/v2/checkout/orders"
	verifyPath       = "/v1/notifications/verify-webhook-signature"
	requestIDHeader  = "PayPal-Request-Id"
	preferHeader     = "Prefer"
	maxErrorBodySize = 8 << 10
)

var errCredentialsRequired = errors.New("paypal client id and secret are required")

// APIError is a non-2xx PayPal response.
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal %d %s: %s (debug_id=%s)", e.StatusCode, e.Name, e.Message, e.DebugID)
}

// Client calls the PayPal REST API. Requests are authorised with an OAuth
// client-credentials token that is cached and refreshed EarlyExpiry before
// PayPal would expire it.
type Client struct {
	baseURL   string
	webhookID string
	http      *http.Client
}

// Options overrides the defaults taken from config. Tests point BaseURL at httptest.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(ctx context.Context, cfg config.PayPalConfig, logg *logger.Logger, opts ...Options) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errCredentialsRequired
	}

	baseURL := cfg.BaseURL()
	base := &http.Client{Timeout: cfg.Timeout}
	for _, o := range opts {
		if o.BaseURL != "" {
			baseURL = strings.TrimRight(o.BaseURL, "/")
		}
		if o.HTTPClient != nil {
			base = o.HTTPClient
		}
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	source := oauth2.ReuseTokenSourceWithExpiry(nil, fetchEveryTime{ctx: tokenCtx, cfg: cc}, cfg.TokenEarlyExpiry)

	logg.Info(logg.WithField(ctx, "paypal_base_url", baseURL), "paypal client initialized")

	return &Client{
		baseURL:   baseURL,
		webhookID: cfg.WebhookID,
		http: &http.Client{
			Timeout:   base.Timeout,
			Transport: &oauth2.Transport{Source: source, Base: base.Transport},
		},
	}, nil
}

// fetchEveryTime asks the token endpoint on every call; caching is left to
// the ReuseTokenSource wrapping it so the early expiry window is honoured.
type fetchEveryTime struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

func (f fetchEveryTime) Token() (*oauth2.Token, error) {
	return f.cfg.Token(f.ctx)
}

// CreateOrder creates a CAPTURE intent order. requestID makes the call idempotent on PayPal's side.
func (c *Client) CreateOrder(ctx context.Context, requestID string, body CreateOrderRequest) (*Order, error) {
	if body.Intent == "" {
		body.Intent = "CAPTURE"
	}
	var out Order
	if err := c.do(ctx, http.MethodPost, ordersPath, requestID, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodGet, ordersPath+"/"+url.PathEscape(orderID), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CaptureOrder captures an approved order. Capturing twice with the same
// requestID returns the original capture.
func (c *Client) CaptureOrder(ctx context.Context, orderID, requestID string) (*Order, error) {
	var out Order
	path := ordersPath + "/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, requestID, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyWebhookSignature asks PayPal to validate a delivery against the configured webhook id.
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers WebhookHeaders, rawEvent []byte) (bool, error) {
	if c.webhookID == "" {
		return false, errors.New("paypal webhook id is not configured")
	}
	if !headers.Complete() {
		return false, nil
	}
	req := verifyRequest{
		AuthAlgo:         headers.AuthAlgo,
		CertURL:          headers.CertURL,
		TransmissionID:   headers.TransmissionID,
		TransmissionSig:  headers.TransmissionSig,
		TransmissionTime: headers.TransmissionTime,
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(rawEvent),
	}
	var out verifyResponse
	if err := c.do(ctx, http.MethodPost, verifyPath, "", req, &out); err != nil {
		return false, err
	}
	return out.VerificationStatus == "SUCCESS", nil
}

func (c *Client) do(ctx context.Context, method, path, requestID string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode paypal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build paypal request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}
	req.Header.Set(preferHeader, "return=representation")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paypal %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		_ = json.Unmarshal(raw, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode paypal response (%s): %w", time.Since(started), err)
	}
	return nil
}

// HeadersFrom extracts the signature headers from an inbound request.
func HeadersFrom(h http.Header) WebhookHeaders {
	return WebhookHeaders{
		AuthAlgo:         h.Get(HeaderAuthAlgo),
		CertURL:          h.Get(HeaderCertURL),
		TransmissionID:   h.Get(HeaderTransmissionID),
		TransmissionSig:  h.Get(HeaderTransmissionSig),
		TransmissionTime: h.Get(HeaderTransmissionTime),
	}
}

// NewPurchaseUnit builds a purchase unit whose amount breakdown matches its items.
func NewPurchaseUnit(referenceID, customID, currency string, items []Item, itemTotal, shipping int64) PurchaseUnit {
	return PurchaseUnit{
		ReferenceID: referenceID,
		CustomID:    customID,
		Items:       items,
		Amount: Amount{
			Money: money(currency, itemTotal+shipping),
			Breakdown: &AmountBreakdown{
				ItemTotal: ptr(money(currency, itemTotal)),
				Shipping:  ptr(money(currency, shipping)),
			},
		},
	}
}

// NewItem builds a line item priced in minor units.
func NewItem(name, sku, currency string, quantity int, unitCents int64) Item {
	return Item{
		Name:       name,
		SKU:        sku,
		Quantity:   fmt.Sprint(quantity),
		UnitAmount: money(currency, unitCents),
	}
}

func ptr[T any](v T) *T {
	return &v
}
