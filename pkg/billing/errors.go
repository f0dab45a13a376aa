package billing

import "errors"

var (
	ErrInvalidTier            = errors.New("invalid subscription tier")
	ErrInvalidCycle           = errors.New("invalid billing cycle")
	ErrPricingNotFound        = errors.New("no active pricing for tier and cycle")
	ErrAmbiguousPricing       = errors.New("multiple active price rows for the same pricing key")
	ErrDuplicateSubscription  = errors.New("user already has a pending or active subscription")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrDowngradeNotAllowed    = errors.New("downgrades are not supported, cancel and resubscribe instead")
	ErrSubscriptionNotActive  = errors.New("subscription is not active")
	ErrRefundExceedsPaid      = errors.New("refund amount exceeds refundable balance")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrReactivationNotAllowed = errors.New("only cancelled or expired subscriptions can be reactivated")
)
