package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundCompleted RefundStatus = "COMPLETED"
	RefundRejected  RefundStatus = "REJECTED"
)

type Refund struct {
	gorm.Model
	InvoiceID   uint            `json:"invoice_id" gorm:"index;not null"`
	PaymentID   *uint           `json:"payment_id,omitempty" gorm:"index"`
	UserID      uint            `json:"user_id" gorm:"index;not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(10,2)"`
	Reason      string          `json:"reason"`
	Status      RefundStatus    `json:"status" gorm:"index;default:'PENDING'"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`

	Invoice Invoice  `json:"-" gorm:"foreignKey:InvoiceID"`
	Payment *Payment `json:"-" gorm:"foreignKey:PaymentID"`
}
