package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"planpay_backend/internal/model"
)

// Status is the gateway's view of a transaction.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

var ErrSessionNotFound = errors.New("gateway session not found")

type InitiateResult struct {
	SessionKey    string
	RedirectURL   string
	TransactionID string
}

// Gateway is the opaque payment provider contract. Implementations are
// fallible and slow; callers must pass a bounded context and never invoke
// these inside an open database transaction.
type Gateway interface {
	Initiate(ctx context.Context, invoice *model.Invoice, user *model.User, method string) (*InitiateResult, error)
	Validate(ctx context.Context, sessionKey string) (Status, string, error)
	Refund(ctx context.Context, transactionRef string, amount decimal.Decimal, remarks string) (Status, error)
}
