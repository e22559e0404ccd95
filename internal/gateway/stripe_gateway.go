package gateway

import (
	"backend/internal/config"
	"backend/internal/logger"
	"context"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/refund"
	"github.com/stripe/stripe-go/v78/transfer"
	"go.uber.org/zap"
)

// StripeGateway settles the fiat rail. Purchases open a hosted checkout
// session and become final through the provider webhook; payouts use the
// transfer API against connected accounts.
type StripeGateway struct {
	frontendURL string
}

func NewStripeGateway(configuration config.Config) *StripeGateway {
	stripe.Key = configuration.StripeSecretKey

	return &StripeGateway{
		frontendURL: configuration.FrontendURL,
	}
}

// CheckBalance always passes on the fiat rail: the card network authorizes
// funds at checkout, not before.
func (g *StripeGateway) CheckBalance(ctx context.Context, payer string, amount int64) (bool, error) {
	return true, nil
}

func (g *StripeGateway) AuthorizePurchase(ctx context.Context, payer string, amount int64, idempotencyKey string) (*Authorization, error) {
	logger.Debug("stripe gateway: creating checkout session...", zap.Int64("amount", amount))

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(idempotencyKey),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Raffle Ticket"),
					},
					UnitAmount: stripe.Int64(amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.frontendURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(g.frontendURL + "/cancel"),
	}
	params.SetIdempotencyKey(idempotencyKey)

	checkoutSession, err := session.New(params)
	if err != nil {
		return nil, err
	}

	logger.Debug("stripe gateway: creating checkout session... done", zap.String("session", checkoutSession.ID))
	return &Authorization{
		Reference:   checkoutSession.ID,
		RedirectURL: checkoutSession.URL,
		Provisional: true,
	}, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, from string, to string, amount int64, idempotencyKey string) (*Receipt, error) {
	logger.Debug("stripe gateway: sending transfer...", zap.String("destination", to), zap.Int64("amount", amount))

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Destination: stripe.String(to),
	}
	params.SetIdempotencyKey(idempotencyKey)

	created, err := transfer.New(params)
	if err != nil {
		return nil, err
	}

	logger.Debug("stripe gateway: sending transfer... done", zap.String("transfer", created.ID))
	return &Receipt{
		Reference: created.ID,
		Amount:    amount,
	}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, receiptRef string, amount int64, idempotencyKey string) (*Receipt, error) {
	logger.Debug("stripe gateway: refunding payment...", zap.String("payment", receiptRef), zap.Int64("amount", amount))

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(receiptRef),
		Amount:        stripe.Int64(amount),
	}
	params.SetIdempotencyKey(idempotencyKey)

	created, err := refund.New(params)
	if err != nil {
		return nil, err
	}

	logger.Debug("stripe gateway: refunding payment... done", zap.String("refund", created.ID))
	return &Receipt{
		Reference: created.ID,
		Amount:    amount,
	}, nil
}
