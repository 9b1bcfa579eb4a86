// Package payment creates and captures course checkouts with the payment provider and
// turns captured orders into enrollments.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderNotCompleted is returned when a capture did not complete the order.
	ErrOrderNotCompleted = errors.New("order not completed")

	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")

	// ErrProvider wraps failures reported by the payment provider.
	ErrProvider = errors.New("payment provider error")
)

// CheckoutRequest describes the order to create for a course purchase.
type CheckoutRequest struct {
	CourseID    string
	Description string
	AmountMinor int64 // minor currency units (cents)
	Currency    string
	UserID      string
	ReturnURL   string
	CancelURL   string
}

// Validate checks the request is complete.
func (r *CheckoutRequest) Validate() error {
	switch {
	case r.CourseID == "":
		return errors.New("course id is required")
	case r.UserID == "":
		return errors.New("user id is required")
	case r.AmountMinor <= 0:
		return errors.New("amount must be positive")
	case len(r.Currency) != 3:
		return fmt.Errorf("invalid currency %q", r.Currency)
	case r.ReturnURL == "" || r.CancelURL == "":
		return errors.New("return and cancel urls are required")
	}
	return nil
}

// Order is a created, not yet approved, checkout.
type Order struct {
	ID         string
	Status     string
	ApproveURL string
}

// Capture is the result of capturing an approved order.
type Capture struct {
	OrderID   string
	CaptureID string
	Status    string
	CourseID  string
	UserID    string
}

// Checkout is the minimal contract the site needs from a payment provider.
type Checkout interface {
	InitCheckout(ctx context.Context, req CheckoutRequest) (*Order, error)
	CaptureCheckout(ctx context.Context, orderID string) (*Capture, error)
}

// currencies without minor units
var zeroDecimalCurrencies = map[string]bool{
	"HUF": true,
	"JPY": true,
	"TWD": true,
}

// FormatAmount renders minor units as a decimal string for currency.
func FormatAmount(minor int64, currency string) string {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return fmt.Sprintf("%d", minor)
	}
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
