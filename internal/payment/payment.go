// Package payment integrates the three payment rails: the Razorpay
// gateway, EKQR UPI-QR and offline (cash at the desk).  Providers only talk
// to the outside world; reconciling outcomes with bookings is done by the
// service layer.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProviderDisabled = errors.New("payment method is not enabled")
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrProvider         = errors.New("payment provider error")
)

// Outcome is the normalised result of a provider status check.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// OrderRequest describes the money to collect for one booking.
type OrderRequest struct {
	Reference     string // booking reference, used as the gateway receipt
	ClientTxnID   string // our idempotency key at the provider
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// Order is what the client needs to complete a payment.
type Order struct {
	OrderID    string            `json:"order_id"`
	Amount     int64             `json:"amount"` // minor units
	Currency   string            `json:"currency"`
	KeyID      string            `json:"key_id,omitempty"`
	PaymentURL string            `json:"payment_url,omitempty"`
	UPIIntent  map[string]string `json:"upi_intent,omitempty"`
}

// Status is the state of an order as reported by a provider.
type Status struct {
	Outcome   Outcome
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal // zero when the provider does not report it
	Reason    string
}

// Provider creates orders on one rail.
type Provider interface {
	Method() string
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
}

// StatusChecker is implemented by rails whose outcome is discovered by
// polling.  createdAt is the time the order was placed.
type StatusChecker interface {
	CheckStatus(ctx context.Context, orderID string, createdAt time.Time) (Status, error)
}

// Registry holds the enabled providers keyed by method.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p, replacing any provider with the same method.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Method()] = p
}

// Get returns the provider for method.
func (r *Registry) Get(method string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderDisabled, method)
	}
	return p, nil
}

// Methods lists the enabled methods in stable order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for m := range r.providers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

var hundred = decimal.NewFromInt(100)

// ToMinor converts an amount to the smallest currency unit (paise).
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinor converts minor units back to a 2dp amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
