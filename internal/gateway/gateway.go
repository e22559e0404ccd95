package gateway

import (
	"context"
	"errors"
)

// ErrInsufficientBalance signals an authorization rejected for lack of
// payer funds, as opposed to a rail outage.
var ErrInsufficientBalance = errors.New("insufficient payer balance")

// Receipt confirms a completed gateway operation.
type Receipt struct {
	Reference string
	Amount    int64
}

// Authorization is the result of preparing a ticket purchase. No funds move
// at this point: the on-chain rail verifies balance and hands back a
// settlement reference, the fiat rail opens a checkout session the buyer is
// redirected to.
type Authorization struct {
	Reference   string
	RedirectURL string
	Provisional bool
}

// Gateway is the payment-rail capability. Implementations must honor the
// idempotency key: repeating a call with the same key moves money at most
// once.
type Gateway interface {
	CheckBalance(ctx context.Context, payer string, amount int64) (bool, error)
	AuthorizePurchase(ctx context.Context, payer string, amount int64, idempotencyKey string) (*Authorization, error)
	Transfer(ctx context.Context, from string, to string, amount int64, idempotencyKey string) (*Receipt, error)
	Refund(ctx context.Context, receiptRef string, amount int64, idempotencyKey string) (*Receipt, error)
}
