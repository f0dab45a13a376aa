package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"planpay_backend/internal/model"
)

// PurchaseContext describes the purchase a coupon is being applied to.
type PurchaseContext struct {
	PurchaseType model.PurchaseType
	Tier         model.SubscriptionTier
	Cycle        model.BillingCycle
	Subtotal     decimal.Decimal
}

type CouponValidator struct {
	DB    *gorm.DB
	Clock Clock
}

func NewCouponValidator(db *gorm.DB, clock Clock) *CouponValidator {
	return &CouponValidator{DB: db, Clock: clock}
}

// Validate returns the coupon when every rule passes and (nil, nil) when any
// business rule disqualifies it. Callers skip the discount on nil; the error
// is reserved for infrastructure failures.
func (v *CouponValidator) Validate(code string, userID uint, pctx PurchaseContext) (*model.Coupon, error) {
	code = model.NormalizeCouponCode(code)
	if code == "" {
		return nil, nil
	}

	var coupon model.Coupon
	err := v.DB.Where("code = ?", code).First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coupon lookup: %w", err)
	}

	now := v.Clock.Now()
	if !coupon.Active {
		return nil, nil
	}
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return nil, nil
	}
	if coupon.ValidUntil != nil && !now.Before(*coupon.ValidUntil) {
		return nil, nil
	}

	if coupon.MaxUses > 0 {
		var uses int64
		if err := v.DB.Model(&model.Invoice{}).
			Where("coupon_code = ?", coupon.Code).
			Count(&uses).Error; err != nil {
			return nil, fmt.Errorf("coupon usage count: %w", err)
		}
		if uses >= int64(coupon.MaxUses) {
			return nil, nil
		}
	}

	if coupon.MaxUsesPerUser > 0 {
		var userUses int64
		if err := v.DB.Model(&model.Invoice{}).
			Where("coupon_code = ? AND user_id = ?", coupon.Code, userID).
			Count(&userUses).Error; err != nil {
			return nil, fmt.Errorf("coupon per-user count: %w", err)
		}
		if userUses >= int64(coupon.MaxUsesPerUser) {
			return nil, nil
		}
	}

	if coupon.MinPurchaseAmount.IsPositive() && pctx.Subtotal.LessThan(coupon.MinPurchaseAmount) {
		return nil, nil
	}

	if len(coupon.PurchaseTypes) > 0 && !containsString(coupon.PurchaseTypes, string(pctx.PurchaseType)) {
		return nil, nil
	}
	if pctx.Tier != "" && len(coupon.ApplicableTiers) > 0 && !containsString(coupon.ApplicableTiers, string(pctx.Tier)) {
		return nil, nil
	}
	if pctx.Cycle != "" && len(coupon.ApplicableCycles) > 0 && !containsString(coupon.ApplicableCycles, string(pctx.Cycle)) {
		return nil, nil
	}

	return &coupon, nil
}

// CalculateDiscount computes the discount a coupon yields on a subtotal,
// clamped so the payable amount can never go negative.
func CalculateDiscount(coupon *model.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if coupon == nil || subtotal.IsNegative() || subtotal.IsZero() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch coupon.Type {
	case model.CouponPercentage:
		discount = subtotal.Mul(coupon.DiscountValue).Div(decimal.NewFromInt(100))
	case model.CouponFixed:
		discount = coupon.DiscountValue
	case model.CouponFreeTrial:
		discount = subtotal
	default:
		return decimal.Zero
	}

	discount = discount.Round(2)
	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
