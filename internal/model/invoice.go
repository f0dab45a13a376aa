package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoiceCompleted InvoiceStatus = "COMPLETED"
	InvoiceFailed    InvoiceStatus = "FAILED"
	InvoiceRefunded  InvoiceStatus = "REFUNDED"
)

type PurchaseType string

const (
	PurchaseSubscription PurchaseType = "subscription"
	PurchaseRenewal      PurchaseType = "renewal"
	PurchasePlanChange   PurchaseType = "plan_change"
	PurchaseReactivation PurchaseType = "reactivation"
	PurchaseTrialEnd     PurchaseType = "trial_conversion"
)

// InvoiceItem semantic types, stored in ItemType.
const (
	ItemSetupFee       = "setup_fee"
	ItemRecurring      = "recurring"
	ItemCredit         = "credit"
	ItemProratedCharge = "prorated_charge"
)

type Invoice struct {
	gorm.Model
	InvoiceNumber  string          `json:"invoice_number" gorm:"uniqueIndex;not null"`
	UserID         uint            `json:"user_id" gorm:"index;uniqueIndex:idx_invoice_user_idem;not null"`
	SubscriptionID *uint           `json:"subscription_id,omitempty" gorm:"index"`
	PurchaseType   PurchaseType    `json:"purchase_type" gorm:"default:'subscription'"`
	Subtotal       decimal.Decimal `json:"subtotal" gorm:"type:numeric(10,2)"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:numeric(10,2);default:0"`
	TaxAmount      decimal.Decimal `json:"tax_amount" gorm:"type:numeric(10,2);default:0"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:numeric(10,2)"`
	Currency       string          `json:"currency" gorm:"default:'USD'"`
	Status         InvoiceStatus   `json:"status" gorm:"index;default:'PENDING'"`
	DueDate        time.Time       `json:"due_date"`
	PaidDate       *time.Time      `json:"paid_date,omitempty"`
	CouponCode     *string         `json:"coupon_code,omitempty" gorm:"index"`
	IdempotencyKey *string         `json:"-" gorm:"uniqueIndex:idx_invoice_user_idem"`

	Items        []InvoiceItem `json:"items" gorm:"foreignKey:InvoiceID"`
	User         User          `json:"-" gorm:"foreignKey:UserID"`
	Subscription *Subscription `json:"-" gorm:"foreignKey:SubscriptionID"`
}

type InvoiceItem struct {
	gorm.Model
	InvoiceID   uint            `json:"invoice_id" gorm:"index;not null"`
	Name        string          `json:"name" gorm:"not null"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity" gorm:"default:1"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(10,2)"`
	TotalPrice  decimal.Decimal `json:"total_price" gorm:"type:numeric(10,2)"`
	ItemType    string          `json:"item_type"`
}
