package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SubscriptionPrice is the read-only price catalog row for a
// (tier, cycle, currency, region) tuple. The billing engine looks these
// up and never mutates them.
type SubscriptionPrice struct {
	gorm.Model
	Tier            SubscriptionTier `json:"tier" gorm:"index:idx_price_key;not null"`
	BillingCycle    BillingCycle     `json:"billing_cycle" gorm:"index:idx_price_key;not null"`
	Currency        string           `json:"currency" gorm:"index:idx_price_key;default:'USD'"`
	Region          string           `json:"region" gorm:"index:idx_price_key;default:'global'"`
	Price           decimal.Decimal  `json:"price" gorm:"type:numeric(10,2);not null"`
	SetupFee        decimal.Decimal  `json:"setup_fee" gorm:"type:numeric(10,2);default:0"`
	TaxRate         decimal.Decimal  `json:"tax_rate" gorm:"type:numeric(6,4);default:0"`
	DiscountPercent decimal.Decimal  `json:"discount_percent" gorm:"type:numeric(5,2);default:0"`
	Active          bool             `json:"active" gorm:"default:true"`
	ValidFrom       *time.Time       `json:"valid_from,omitempty"`
	ValidUntil      *time.Time       `json:"valid_until,omitempty"`
}
