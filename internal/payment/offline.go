package payment

import (
	"context"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// Offline records cash or bank-transfer payments made at the hall.  There
// is no external call; staff confirm the transaction by hand.
type Offline struct{ currency string }

func NewOffline(currency string) *Offline { return &Offline{currency: currency} }

func (o *Offline) Method() string { return model.MethodOffline }

func (o *Offline) CreateOrder(_ context.Context, req OrderRequest) (Order, error) {
	cur := req.Currency
	if cur == "" {
		cur = o.currency
	}
	return Order{
		OrderID:  "OFFLINE-" + req.Reference,
		Amount:   ToMinor(req.Amount),
		Currency: cur,
	}, nil
}
