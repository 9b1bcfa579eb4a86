package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	PayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	PayPalLiveURL    = "https://api-m.paypal.com"

	maxResponseSize = 1 << 20
)

// PayPalConfig configures the PayPal orders adapter.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	BrandName    string
	Timeout      time.Duration
	MaxTries     uint
}

// Validate checks credentials are present and fills in defaults.
func (c *PayPalConfig) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("paypal client id and secret are required")
	}
	if c.BaseURL == "" {
		c.BaseURL = PayPalSandboxURL
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid paypal base url: %w", err)
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	return nil
}

var _ Checkout = (*PayPal)(nil)

// PayPal implements Checkout with the PayPal orders v2 API.
type PayPal struct {
	cfg    PayPalConfig
	client *http.Client
}

// NewPayPal creates the adapter. API calls authenticate with an OAuth client-credentials
// token that is fetched and refreshed automatically.
func NewPayPal(cfg PayPalConfig) (*PayPal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.BaseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	base := &http.Client{Timeout: cfg.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	client := cc.Client(ctx)
	client.Timeout = cfg.Timeout

	return &PayPal{cfg: cfg, client: client}, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string        `json:"reference_id,omitempty"`
	CustomID    string        `json:"custom_id,omitempty"`
	Description string        `json:"description,omitempty"`
	Amount      *paypalAmount `json:"amount,omitempty"`
	Payments    *struct {
		Captures []struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			CustomID string `json:"custom_id"`
		} `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		BrandName  string `json:"brand_name,omitempty"`
		UserAction string `json:"user_action"`
		ReturnURL  string `json:"return_url"`
		CancelURL  string `json:"cancel_url"`
	} `json:"application_context"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Links         []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (e *paypalError) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// apiError is a non-2xx response from PayPal.
type apiError struct {
	Status int
	Body   paypalError
}

func (e *apiError) Error() string {
	return fmt.Sprintf("paypal returned HTTP %d: %s %s", e.Status, e.Body.Name, e.Body.Message)
}

func (e *apiError) Unwrap() error {
	return ErrProvider
}

// InitCheckout creates an order for the course and returns its approval URL.
func (p *PayPal) InitCheckout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkout request: %w", err)
	}

	body := paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.CourseID,
			CustomID:    req.UserID,
			Description: req.Description,
			Amount: &paypalAmount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        FormatAmount(req.AmountMinor, req.Currency),
			},
		}},
	}
	body.ApplicationContext.BrandName = p.cfg.BrandName
	body.ApplicationContext.UserAction = "PAY_NOW"
	body.ApplicationContext.ReturnURL = req.ReturnURL
	body.ApplicationContext.CancelURL = req.CancelURL

	var order paypalOrder
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	approveURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approveURL = link.Href
			break
		}
	}
	if approveURL == "" {
		return nil, fmt.Errorf("%w: order %s has no approval link", ErrProvider, order.ID)
	}

	log.Info().
		Str("order_id", order.ID).
		Str("course", req.CourseID).
		Str("user", req.UserID).
		Msg("Created payment order")

	return &Order{ID: order.ID, Status: order.Status, ApproveURL: approveURL}, nil
}

// CaptureCheckout captures an approved order. Capturing an order that was already
// captured returns the completed order, so a reloaded success page still enrolls.
func (p *PayPal) CaptureCheckout(ctx context.Context, orderID string) (*Capture, error) {
	if orderID == "" {
		return nil, ErrOrderNotFound
	}

	path := "/v2/checkout/orders/" + url.PathEscape(orderID)

	var order paypalOrder
	err := p.do(ctx, http.MethodPost, path+"/capture", struct{}{}, &order)

	var apiErr *apiError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity && apiErr.Body.hasIssue("ORDER_ALREADY_CAPTURED"):
		log.Debug().Str("order_id", orderID).Msg("Order already captured, loading it")
		if err := p.do(ctx, http.MethodGet, path, nil, &order); err != nil {
			return nil, fmt.Errorf("failed to load order: %w", err)
		}
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return nil, ErrOrderNotFound
	default:
		return nil, fmt.Errorf("failed to capture order: %w", err)
	}

	if order.Status != "COMPLETED" || len(order.PurchaseUnits) == 0 {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotCompleted, orderID, order.Status)
	}

	unit := order.PurchaseUnits[0]
	capture := &Capture{
		OrderID:  order.ID,
		Status:   order.Status,
		CourseID: unit.ReferenceID,
		UserID:   unit.CustomID,
	}
	if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
		c := unit.Payments.Captures[0]
		capture.CaptureID = c.ID
		if capture.UserID == "" {
			capture.UserID = c.CustomID
		}
	}

	return capture, nil
}

// do sends a JSON request, retrying 429 and 5xx responses with exponential backoff.
// POSTs carry a PayPal-Request-Id so retries are idempotent.
func (p *PayPal) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	requestID := uuid.NewString()

	operation := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if method == http.MethodPost {
			req.Header.Set("PayPal-Request-Id", requestID)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				return struct{}{}, backoff.Permanent(fmt.Errorf("%w: token request failed: %w", ErrProvider, err))
			}
			return struct{}{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return struct{}{}, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(data) == 0 {
				return struct{}{}, nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
			return struct{}{}, nil
		}

		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, &apiErr.Body)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("Retrying PayPal request")
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
				return struct{}{}, backoff.RetryAfter(seconds)
			}
			return struct{}{}, apiErr
		}

		return struct{}{}, backoff.Permanent(apiErr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(p.cfg.MaxTries),
		backoff.WithMaxElapsedTime(2*p.cfg.Timeout),
	)
	return err
}
