package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"planpay_backend/internal/model"
)

func TestCalculateDiscount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   *model.Coupon
		subtotal string
		want     string
	}{
		{
			name:     "percentage",
			coupon:   &model.Coupon{Type: model.CouponPercentage, DiscountValue: money("10")},
			subtotal: "39.99",
			want:     "4.00",
		},
		{
			name:     "fixed",
			coupon:   &model.Coupon{Type: model.CouponFixed, DiscountValue: money("20.00")},
			subtotal: "100.00",
			want:     "20.00",
		},
		{
			name:     "fixed clamped to subtotal",
			coupon:   &model.Coupon{Type: model.CouponFixed, DiscountValue: money("50.00")},
			subtotal: "29.99",
			want:     "29.99",
		},
		{
			name:     "free trial covers everything",
			coupon:   &model.Coupon{Type: model.CouponFreeTrial},
			subtotal: "59.99",
			want:     "59.99",
		},
		{
			name:     "full percentage",
			coupon:   &model.Coupon{Type: model.CouponPercentage, DiscountValue: money("100")},
			subtotal: "29.99",
			want:     "29.99",
		},
		{
			name:     "unknown type yields nothing",
			coupon:   &model.Coupon{Type: model.CouponType("BOGOF"), DiscountValue: money("10")},
			subtotal: "100.00",
			want:     "0.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDiscount(tt.coupon, decimal.RequireFromString(tt.subtotal))
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestCalculateDiscountDegenerateInputs(t *testing.T) {
	coupon := &model.Coupon{Type: model.CouponPercentage, DiscountValue: money("10")}

	assert.True(t, CalculateDiscount(nil, money("100")).IsZero())
	assert.True(t, CalculateDiscount(coupon, decimal.Zero).IsZero())
	assert.True(t, CalculateDiscount(coupon, money("-5")).IsZero())

	negative := &model.Coupon{Type: model.CouponFixed, DiscountValue: money("-10")}
	assert.True(t, CalculateDiscount(negative, money("100")).IsZero())
}

func TestNormalizeCouponCode(t *testing.T) {
	assert.Equal(t, "WELCOME10", model.NormalizeCouponCode("  welcome10 "))
	assert.Equal(t, "", model.NormalizeCouponCode("   "))
}
