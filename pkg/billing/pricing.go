package billing

import (
	"fmt"

	"gorm.io/gorm"

	"planpay_backend/internal/model"
)

// PricingResolver looks up the active catalog row for a pricing key.
// Absence is a hard error for callers: there is no fallback pricing.
type PricingResolver struct {
	DB    *gorm.DB
	Clock Clock
}

func NewPricingResolver(db *gorm.DB, clock Clock) *PricingResolver {
	return &PricingResolver{DB: db, Clock: clock}
}

// GetPricing returns the single active price row for the tuple, or
// ErrPricingNotFound. Finding more than one active row is a data-integrity
// violation and reported as ErrAmbiguousPricing rather than picking one.
func (r *PricingResolver) GetPricing(tier model.SubscriptionTier, cycle model.BillingCycle, currency, region string) (*model.SubscriptionPrice, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	if !cycle.Valid() {
		return nil, ErrInvalidCycle
	}
	if currency == "" {
		currency = "USD"
	}
	if region == "" {
		region = "global"
	}

	now := r.Clock.Now()

	var rows []model.SubscriptionPrice
	err := r.DB.
		Where("tier = ? AND billing_cycle = ? AND currency = ? AND region = ? AND active = ?",
			tier, cycle, currency, region, true).
		Where("valid_from IS NULL OR valid_from <= ?", now).
		Where("valid_until IS NULL OR valid_until > ?", now).
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pricing lookup: %w", err)
	}

	switch len(rows) {
	case 0:
		return nil, ErrPricingNotFound
	case 1:
		return &rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s/%s/%s/%s", ErrAmbiguousPricing, tier, cycle, currency, region)
	}
}
