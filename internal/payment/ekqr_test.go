package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ekqrServer(t *testing.T, handler func(path string, body map[string]string) (int, string)) *EKQR {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		code, resp := handler(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return newEKQR(EKQRConfig{APIKey: "k", BaseURL: srv.URL + "/", RedirectURL: "https://app/return"}, srv.Client())
}

func TestEKQRCreateOrder(t *testing.T) {
	var got map[string]string
	e := ekqrServer(t, func(path string, body map[string]string) (int, string) {
		assert.Equal(t, "/create_order", path)
		got = body
		return 200, `{"status":true,"msg":"Order Created","data":{"order_id":8812,"payment_url":"https://pay.ekqr/abc","upi_intent":{"bhim_link":"upi://pay?pa=x"}}}`
	})

	o, err := e.CreateOrder(context.Background(), OrderRequest{
		Reference:     "SH-1",
		ClientTxnID:   "txn-uuid",
		Amount:        decimal.RequireFromString("648.5"),
		Description:   "Seat A1",
		CustomerName:  "Asha",
		CustomerEmail: "asha@example.com",
		CustomerPhone: "9000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "txn-uuid", o.OrderID)
	assert.Equal(t, "https://pay.ekqr/abc", o.PaymentURL)
	assert.Equal(t, "upi://pay?pa=x", o.UPIIntent["bhim_link"])
	assert.Equal(t, "648.50", got["amount"])
	assert.Equal(t, "k", got["key"])
	assert.Equal(t, "https://app/return", got["redirect_url"])
}

func TestEKQRCreateOrder_Rejected(t *testing.T) {
	e := ekqrServer(t, func(string, map[string]string) (int, string) {
		return 200, `{"status":false,"msg":"Invalid amount"}`
	})
	_, err := e.CreateOrder(context.Background(), OrderRequest{ClientTxnID: "x", Amount: decimal.NewFromInt(1)})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "Invalid amount", pe.Message)
	assert.Equal(t, StateClosed, e.breaker.State())
}

func TestEKQRCheckStatus(t *testing.T) {
	created := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC) // 02-06-2026 in IST
	cases := []struct {
		status  string
		outcome Outcome
	}{
		{"success", OutcomeSuccess},
		{"failure", OutcomeFailure},
		{"created", OutcomePending},
		{"scanning", OutcomePending},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			e := ekqrServer(t, func(path string, body map[string]string) (int, string) {
				assert.Equal(t, "/check_order_status", path)
				assert.Equal(t, "txn-1", body["client_txn_id"])
				assert.Equal(t, "02-06-2026", body["txn_date"])
				return 200, `{"status":true,"msg":"Transaction found","data":{"id":77,"status":"` + tc.status +
					`","amount":648.5,"upi_txn_id":"UPI123","remark":"insufficient balance"}}`
			})
			st, err := e.CheckStatus(context.Background(), "txn-1", created)
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, st.Outcome)
			assert.True(t, st.Amount.Equal(decimal.RequireFromString("648.5")))
			if tc.outcome == OutcomeFailure {
				assert.Equal(t, "insufficient funds", st.Reason)
			}
		})
	}
}

func TestEKQRServerErrorCountsAgainstBreaker(t *testing.T) {
	e := ekqrServer(t, func(string, map[string]string) (int, string) {
		return 502, `{"status":false,"msg":"bad gateway"}`
	})
	e.breaker.minRequests = 2
	for i := 0; i < 2; i++ {
		_, err := e.CheckStatus(context.Background(), "t", time.Now())
		assert.ErrorIs(t, err, ErrProvider)
	}
	assert.Equal(t, StateOpen, e.breaker.State())
	_, err := e.CheckStatus(context.Background(), "t", time.Now())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
