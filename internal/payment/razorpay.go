package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// RazorpayConfig holds gateway credentials.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
}

// orderAPI and paymentAPI are the subsets of the razorpay-go client used
// here; tests substitute fakes.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Razorpay is the card/netbanking/UPI gateway rail.  Checkout happens in
// the browser; we create the order and verify what comes back.
type Razorpay struct {
	cfg      RazorpayConfig
	orders   orderAPI
	payments paymentAPI
	breaker  *CircuitBreaker
}

func NewRazorpay(cfg RazorpayConfig) *Razorpay {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return newRazorpay(cfg, client.Order, client.Payment)
}

func newRazorpay(cfg RazorpayConfig, orders orderAPI, payments paymentAPI) *Razorpay {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Razorpay{cfg: cfg, orders: orders, payments: payments, breaker: NewCircuitBreaker("razorpay")}
}

func (r *Razorpay) Method() string { return model.MethodRazorpay }

// CreateOrder creates a gateway order for the amount in paise with the
// booking reference as receipt.
func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	cur := req.Currency
	if cur == "" {
		cur = r.cfg.Currency
	}
	amount := ToMinor(req.Amount)
	data := map[string]interface{}{
		"amount":          amount,
		"currency":        cur,
		"receipt":         req.Reference,
		"payment_capture": 1,
		"notes": map[string]interface{}{
			"booking_reference": req.Reference,
			"client_txn_id":     req.ClientTxnID,
		},
	}
	res, err := r.breaker.Execute(ctx, func() (any, error) {
		body, err := r.orders.Create(data, nil)
		if err != nil {
			return nil, &ProviderError{Provider: "razorpay", Message: err.Error()}
		}
		return body, nil
	})
	if err != nil {
		return Order{}, err
	}
	body := res.(map[string]interface{})
	id, _ := body["id"].(string)
	if id == "" {
		return Order{}, &ProviderError{Provider: "razorpay", Message: "order response without id"}
	}
	return Order{OrderID: id, Amount: amount, Currency: cur, KeyID: r.cfg.KeyID}, nil
}

// VerifyCheckout checks the signature returned to the browser after a
// successful checkout: hex(HMAC_SHA256(order_id|payment_id, key_secret)).
func (r *Razorpay) VerifyCheckout(orderID, paymentID, signature string) error {
	if !validHMAC([]byte(orderID+"|"+paymentID), r.cfg.KeySecret, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// FetchPayment reads a payment from the gateway.
func (r *Razorpay) FetchPayment(ctx context.Context, paymentID string) (Status, error) {
	res, err := r.breaker.Execute(ctx, func() (any, error) {
		body, err := r.payments.Fetch(paymentID, nil, nil)
		if err != nil {
			return nil, &ProviderError{Provider: "razorpay", Message: err.Error()}
		}
		return body, nil
	})
	if err != nil {
		return Status{}, err
	}
	body := res.(map[string]interface{})
	return paymentStatus(body), nil
}

// Gateway outcomes arrive through checkout verification and webhooks, so
// Razorpay is not a StatusChecker.
var _ Provider = (*Razorpay)(nil)

// WebhookEvent is the relevant part of a Razorpay webhook delivery.
type WebhookEvent struct {
	Event  string
	Status Status
	// Known is false for event types we acknowledge but ignore.
	Known bool
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity map[string]interface{} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity map[string]interface{} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook verifies X-Razorpay-Signature over the raw body and
// extracts the outcome.  payment.captured and order.paid are successes;
// payment.failed is a failure.
func (r *Razorpay) ParseWebhook(body []byte, signature string) (WebhookEvent, error) {
	if r.cfg.WebhookSecret == "" || !validHMAC(body, r.cfg.WebhookSecret, signature) {
		return WebhookEvent{}, ErrInvalidSignature
	}
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	ev := WebhookEvent{Event: wb.Event}
	payment := wb.Payload.Payment.Entity
	switch wb.Event {
	case "payment.captured", "order.paid":
		ev.Known = true
		if payment != nil {
			ev.Status = paymentStatus(payment)
		}
		ev.Status.Outcome = OutcomeSuccess
		if ev.Status.OrderID == "" {
			ev.Status.OrderID, _ = wb.Payload.Order.Entity["id"].(string)
		}
		if ev.Status.Amount.IsZero() {
			if v, ok := number(wb.Payload.Order.Entity["amount_paid"]); ok {
				ev.Status.Amount = FromMinor(v)
			}
		}
	case "payment.failed":
		ev.Known = true
		ev.Status = paymentStatus(payment)
		ev.Status.Outcome = OutcomeFailure
	}
	if ev.Known && ev.Status.OrderID == "" {
		return ev, errors.New("webhook without order id")
	}
	return ev, nil
}

// paymentStatus normalises a payment entity.
func paymentStatus(p map[string]interface{}) Status {
	st := Status{Outcome: OutcomePending}
	st.PaymentID, _ = p["id"].(string)
	st.OrderID, _ = p["order_id"].(string)
	if v, ok := number(p["amount"]); ok {
		st.Amount = FromMinor(v)
	}
	switch s, _ := p["status"].(string); s {
	case "captured":
		st.Outcome = OutcomeSuccess
	case "failed":
		st.Outcome = OutcomeFailure
		desc, _ := p["error_description"].(string)
		if desc == "" {
			desc, _ = p["error_reason"].(string)
		}
		st.Reason = FriendlyReason(desc)
	}
	return st
}

// number reads a JSON number decoded into interface{}.
func number(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func validHMAC(message []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign returns hex(HMAC_SHA256(message, secret)).  Exposed for tests and
// local tooling that simulate gateway callbacks.
func Sign(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
