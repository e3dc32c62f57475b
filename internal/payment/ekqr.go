package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// EKQRConfig holds UPI-QR gateway settings.
type EKQRConfig struct {
	APIKey      string
	BaseURL     string
	RedirectURL string
	Currency    string
}

// EKQR is the UPI-QR rail.  Orders are keyed by our client_txn_id and the
// outcome is discovered by polling check_order_status.
type EKQR struct {
	cfg     EKQRConfig
	hc      *http.Client
	breaker *CircuitBreaker
}

func NewEKQR(cfg EKQRConfig) *EKQR {
	return newEKQR(cfg, &http.Client{Timeout: 10 * time.Second})
}

func newEKQR(cfg EKQRConfig, hc *http.Client) *EKQR {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &EKQR{cfg: cfg, hc: hc, breaker: NewCircuitBreaker("ekqr")}
}

func (e *EKQR) Method() string { return model.MethodEKQR }

type ekqrReply struct {
	Status bool            `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// CreateOrder registers the payment and returns the hosted payment page
// and UPI deep links.  The order id is the client_txn_id.
func (e *EKQR) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	payload := map[string]string{
		"key":             e.cfg.APIKey,
		"client_txn_id":   req.ClientTxnID,
		"amount":          req.Amount.StringFixed(2),
		"p_info":          req.Description,
		"customer_name":   req.CustomerName,
		"customer_email":  req.CustomerEmail,
		"customer_mobile": req.CustomerPhone,
		"redirect_url":    e.cfg.RedirectURL,
		"udf1":            req.Reference,
	}
	var data struct {
		OrderID    any               `json:"order_id"`
		PaymentURL string            `json:"payment_url"`
		UPIIntent  map[string]string `json:"upi_intent"`
	}
	if err := e.call(ctx, "/create_order", payload, &data); err != nil {
		return Order{}, err
	}
	if data.PaymentURL == "" {
		return Order{}, &ProviderError{Provider: "ekqr", Message: "create_order response without payment_url"}
	}
	return Order{
		OrderID:    req.ClientTxnID,
		Amount:     ToMinor(req.Amount),
		Currency:   e.cfg.Currency,
		PaymentURL: data.PaymentURL,
		UPIIntent:  data.UPIIntent,
	}, nil
}

// CheckStatus asks EKQR for the state of an order.  "success" and
// "failure" are final; every other provider status means still pending.
func (e *EKQR) CheckStatus(ctx context.Context, orderID string, createdAt time.Time) (Status, error) {
	payload := map[string]string{
		"key":           e.cfg.APIKey,
		"client_txn_id": orderID,
		"txn_date":      createdAt.In(ist).Format("02-01-2006"),
	}
	var data struct {
		ID       any    `json:"id"`
		Status   string `json:"status"`
		Amount   any    `json:"amount"`
		UPITxnID string `json:"upi_txn_id"`
		Remark   string `json:"remark"`
	}
	if err := e.call(ctx, "/check_order_status", payload, &data); err != nil {
		return Status{}, err
	}
	st := Status{Outcome: OutcomePending, OrderID: orderID, PaymentID: data.UPITxnID}
	if data.Amount != nil {
		if amt, err := decimal.NewFromString(fmt.Sprint(data.Amount)); err == nil {
			st.Amount = amt
		}
	}
	switch strings.ToLower(data.Status) {
	case "success":
		st.Outcome = OutcomeSuccess
		if st.PaymentID == "" && data.ID != nil {
			st.PaymentID = fmt.Sprint(data.ID)
		}
	case "failure":
		st.Outcome = OutcomeFailure
		st.Reason = FriendlyReason(data.Remark)
	}
	return st, nil
}

// ist is the provider's business timezone; txn_date is a local date.
var ist = time.FixedZone("IST", 5*3600+1800)

func (e *EKQR) call(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = e.breaker.Execute(ctx, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.hc.Do(req)
		if err != nil {
			return nil, &ProviderError{Provider: "ekqr", Message: err.Error()}
		}
		defer resp.Body.Close()

		var reply ekqrReply
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			return nil, &ProviderError{Provider: "ekqr", StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode %s: %v", path, err)}
		}
		if resp.StatusCode >= 300 || !reply.Status {
			code := resp.StatusCode
			if code < 300 {
				// EKQR reports rejected input with HTTP 200 and status=false
				code = http.StatusBadRequest
			}
			return nil, &ProviderError{Provider: "ekqr", StatusCode: code, Message: reply.Msg}
		}
		if out != nil && len(reply.Data) > 0 {
			if err := json.Unmarshal(reply.Data, out); err != nil {
				return nil, &ProviderError{Provider: "ekqr", StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode %s data: %v", path, err)}
			}
		}
		return nil, nil
	})
	return err
}
