package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	got  map[string]interface{}
	resp map[string]interface{}
	err  error
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.got = data
	return f.resp, f.err
}

type fakePayments struct{ resp map[string]interface{} }

func (f *fakePayments) Fetch(string, map[string]interface{}, map[string]string) (map[string]interface{}, error) {
	return f.resp, nil
}

var rzpCfg = RazorpayConfig{KeyID: "rzp_test_key", KeySecret: "key_secret", WebhookSecret: "hook_secret", Currency: "INR"}

func TestRazorpayCreateOrder(t *testing.T) {
	orders := &fakeOrders{resp: map[string]interface{}{"id": "order_123", "amount": float64(64850)}}
	rp := newRazorpay(rzpCfg, orders, &fakePayments{})

	o, err := rp.CreateOrder(context.Background(), OrderRequest{
		Reference: "SH-ABC123",
		Amount:    decimal.RequireFromString("648.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, "order_123", o.OrderID)
	assert.Equal(t, int64(64850), o.Amount)
	assert.Equal(t, "INR", o.Currency)
	assert.Equal(t, "rzp_test_key", o.KeyID)
	assert.Equal(t, int64(64850), orders.got["amount"])
	assert.Equal(t, "SH-ABC123", orders.got["receipt"])
}

func TestRazorpayCreateOrder_ProviderError(t *testing.T) {
	rp := newRazorpay(rzpCfg, &fakeOrders{err: errors.New("BAD_REQUEST_ERROR")}, &fakePayments{})
	_, err := rp.CreateOrder(context.Background(), OrderRequest{Reference: "R", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrProvider)
}

func TestRazorpayVerifyCheckout(t *testing.T) {
	rp := newRazorpay(rzpCfg, &fakeOrders{}, &fakePayments{})
	sig := Sign([]byte("order_1|pay_1"), "key_secret")

	assert.NoError(t, rp.VerifyCheckout("order_1", "pay_1", sig))
	assert.ErrorIs(t, rp.VerifyCheckout("order_1", "pay_2", sig), ErrInvalidSignature)
	assert.ErrorIs(t, rp.VerifyCheckout("order_1", "pay_1", "not-hex"), ErrInvalidSignature)
}

func TestRazorpayFetchPayment(t *testing.T) {
	rp := newRazorpay(rzpCfg, &fakeOrders{}, &fakePayments{resp: map[string]interface{}{
		"id": "pay_9", "order_id": "order_9", "amount": float64(90000), "status": "failed",
		"error_description": "Payment failed due to insufficient balance",
	}})
	st, err := rp.FetchPayment(context.Background(), "pay_9")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, st.Outcome)
	assert.Equal(t, "order_9", st.OrderID)
	assert.True(t, st.Amount.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, "insufficient funds", st.Reason)
}

func TestRazorpayParseWebhook(t *testing.T) {
	rp := newRazorpay(rzpCfg, &fakeOrders{}, &fakePayments{})

	captured := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":64850,"status":"captured"}}}}`)
	ev, err := rp.ParseWebhook(captured, Sign(captured, "hook_secret"))
	require.NoError(t, err)
	assert.True(t, ev.Known)
	assert.Equal(t, OutcomeSuccess, ev.Status.Outcome)
	assert.Equal(t, "order_1", ev.Status.OrderID)
	assert.Equal(t, "pay_1", ev.Status.PaymentID)
	assert.True(t, ev.Status.Amount.Equal(decimal.RequireFromString("648.50")))

	orderPaid := []byte(`{"event":"order.paid","payload":{"order":{"entity":{"id":"order_2","amount_paid":1000}}}}`)
	ev, err = rp.ParseWebhook(orderPaid, Sign(orderPaid, "hook_secret"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, ev.Status.Outcome)
	assert.Equal(t, "order_2", ev.Status.OrderID)
	assert.True(t, ev.Status.Amount.Equal(decimal.NewFromInt(10)))

	failed := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_3","order_id":"order_3","status":"failed","error_description":"Card declined"}}}}`)
	ev, err = rp.ParseWebhook(failed, Sign(failed, "hook_secret"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, ev.Status.Outcome)
	assert.Equal(t, "payment declined by bank", ev.Status.Reason)

	other := []byte(`{"event":"refund.created","payload":{}}`)
	ev, err = rp.ParseWebhook(other, Sign(other, "hook_secret"))
	require.NoError(t, err)
	assert.False(t, ev.Known)

	_, err = rp.ParseWebhook(captured, Sign(captured, "wrong"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(64850), ToMinor(decimal.RequireFromString("648.5")))
	assert.Equal(t, int64(1), ToMinor(decimal.RequireFromString("0.005")))
	assert.True(t, FromMinor(199).Equal(decimal.RequireFromString("1.99")))
}

func TestFriendlyReason(t *testing.T) {
	assert.Equal(t, "insufficient funds", FriendlyReason("INSUFFICIENT_FUNDS in account"))
	assert.Equal(t, "payment timed out", FriendlyReason("Request timed out at bank"))
	assert.Equal(t, "invalid UPI id", FriendlyReason("Invalid VPA entered"))
	assert.Equal(t, "payment failed", FriendlyReason("something odd"))
	assert.Equal(t, "payment failed", FriendlyReason(""))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewOffline("INR"))
	reg.Register(newRazorpay(rzpCfg, &fakeOrders{}, &fakePayments{}))

	p, err := reg.Get("OFFLINE")
	require.NoError(t, err)
	assert.Equal(t, "OFFLINE", p.Method())
	_, err = reg.Get("EKQR")
	assert.ErrorIs(t, err, ErrProviderDisabled)
	assert.Equal(t, []string{"OFFLINE", "RAZORPAY"}, reg.Methods())
}
