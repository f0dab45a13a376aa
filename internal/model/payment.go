package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// RetryState carries the dunning bookkeeping for a failed payment.
// Attempts counts retries already scheduled; once Attempts reaches
// MaxRetries the payment is escalated to permanent failure.
type RetryState struct {
	Attempts          int        `json:"retry_attempts"`
	MaxRetries        int        `json:"max_retries"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	LastRetryAt       *time.Time `json:"last_retry_at,omitempty"`
	PermanentlyFailed bool       `json:"permanently_failed"`
	LastError         string     `json:"last_error,omitempty"`
}

func (r RetryState) Exhausted() bool {
	return r.Attempts >= r.MaxRetries
}

type Payment struct {
	gorm.Model
	InvoiceID     uint            `json:"invoice_id" gorm:"index;not null"`
	UserID        uint            `json:"user_id" gorm:"index;not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(10,2)"`
	Currency      string          `json:"currency" gorm:"default:'USD'"`
	Status        PaymentStatus   `json:"status" gorm:"index;default:'PENDING'"`
	PaymentMethod string          `json:"payment_method"`
	Provider      string          `json:"provider"`
	TransactionID string          `json:"transaction_id" gorm:"index"`
	SessionKey    string          `json:"-" gorm:"index"`

	// Raw gateway payload, kept verbatim for reconciliation audits.
	Metadata datatypes.JSON `json:"metadata,omitempty"`

	Retry datatypes.JSONType[RetryState] `json:"retry_state"`

	Invoice Invoice `json:"-" gorm:"foreignKey:InvoiceID"`
}
