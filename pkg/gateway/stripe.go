package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/refund"

	"planpay_backend/internal/model"
)

// StripeGateway drives Stripe Checkout for invoice collection. Every call
// carries a timeout so a slow gateway can never wedge a worker.
type StripeGateway struct {
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

func NewStripeGateway(secretKey, successURL, cancelURL string, timeout time.Duration) *StripeGateway {
	stripe.Key = secretKey
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StripeGateway{
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Timeout:    timeout,
	}
}

func (g *StripeGateway) Initiate(ctx context.Context, invoice *model.Invoice, user *model.User, method string) (*InitiateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	amountMinor := invoice.Amount.Mul(decimal.NewFromInt(100)).IntPart()

	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(user.Email),
		SuccessURL:    stripe.String(g.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:     stripe.String(g.CancelURL + "?session_id={CHECKOUT_SESSION_ID}"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(invoice.Currency),
					UnitAmount: stripe.Int64(amountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Invoice %s", invoice.InvoiceNumber)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(invoice.InvoiceNumber),
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}

	result := &InitiateResult{
		SessionKey:  sess.ID,
		RedirectURL: sess.URL,
	}
	if sess.PaymentIntent != nil {
		result.TransactionID = sess.PaymentIntent.ID
	}
	return result, nil
}

func (g *StripeGateway) Validate(ctx context.Context, sessionKey string) (Status, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	}
	sess, err := session.Get(sessionKey, params)
	if err != nil {
		return StatusFailed, "", fmt.Errorf("stripe session lookup: %w", err)
	}

	txnID := ""
	if sess.PaymentIntent != nil {
		txnID = sess.PaymentIntent.ID
	}

	switch sess.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return StatusPaid, txnID, nil
	case stripe.CheckoutSessionPaymentStatusUnpaid:
		return StatusPending, txnID, nil
	default:
		return StatusPending, txnID, nil
	}
}

func refundParams(ctx context.Context, transactionRef string, amount decimal.Decimal, remarks string) *stripe.RefundParams {
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(transactionRef),
		Amount:        stripe.Int64(amount.Mul(decimal.NewFromInt(100)).IntPart()),
	}
	params.AddMetadata("remarks", remarks)
	return params
}

func (g *StripeGateway) Refund(ctx context.Context, transactionRef string, amount decimal.Decimal, remarks string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	params := refundParams(ctx, transactionRef, amount, remarks)

	r, err := refund.New(params)
	if err != nil {
		return StatusFailed, fmt.Errorf("stripe refund: %w", err)
	}

	switch r.Status {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending:
		return StatusPaid, nil
	default:
		return StatusFailed, nil
	}
}
