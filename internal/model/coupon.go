package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CouponType string

const (
	CouponPercentage CouponType = "PERCENTAGE"
	CouponFixed      CouponType = "FIXED"
	CouponFreeTrial  CouponType = "FREE_TRIAL"
)

// Coupon usage is derived by counting invoices that reference the code,
// never by a counter column, so validation always sees current usage.
type Coupon struct {
	gorm.Model
	Code              string          `json:"code" gorm:"uniqueIndex;not null"`
	Type              CouponType      `json:"type" gorm:"not null"`
	DiscountValue     decimal.Decimal `json:"discount_value" gorm:"type:numeric(10,2)"`
	MinPurchaseAmount decimal.Decimal `json:"min_purchase_amount" gorm:"type:numeric(10,2);default:0"`
	MaxUses           int             `json:"max_uses" gorm:"default:0"`
	MaxUsesPerUser    int             `json:"max_uses_per_user" gorm:"default:0"`
	ValidFrom         *time.Time      `json:"valid_from,omitempty"`
	ValidUntil        *time.Time      `json:"valid_until,omitempty"`
	Active            bool            `json:"active" gorm:"default:true"`

	// Empty allow-list means "no restriction".
	ApplicableTiers  datatypes.JSONSlice[string] `json:"applicable_tiers,omitempty"`
	ApplicableCycles datatypes.JSONSlice[string] `json:"applicable_cycles,omitempty"`
	PurchaseTypes    datatypes.JSONSlice[string] `json:"purchase_types,omitempty"`
}

// NormalizeCouponCode upper-cases and trims a candidate code before lookup.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
