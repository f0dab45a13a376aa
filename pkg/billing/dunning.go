package billing

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"planpay_backend/internal/model"
)

// DefaultMaxRetries bounds the dunning schedule.
const DefaultMaxRetries = 3

// retryDelayDays is the backoff schedule: retry attempt n is scheduled
// retryDelayDays[n-1] days after the failure that triggered it.
var retryDelayDays = [...]int{3, 5, 7}

// RetryDelay returns the wait before the given attempt (1-based). Attempts
// past the schedule reuse the last delay.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryDelayDays) {
		attempt = len(retryDelayDays)
	}
	return time.Duration(retryDelayDays[attempt-1]) * 24 * time.Hour
}

type DunningEngine struct {
	DB    *gorm.DB
	Clock Clock
}

func NewDunningEngine(db *gorm.DB, clock Clock) *DunningEngine {
	return &DunningEngine{DB: db, Clock: clock}
}

// RecordFailure marks the payment FAILED and, when attempts remain, stamps
// next_retry_at per the backoff schedule. Exhausted payments escalate to
// permanent failure instead. Safe to call for both the initial failure and
// every failed retry.
func (d *DunningEngine) RecordFailure(payment *model.Payment, reason string) (model.RetryState, error) {
	now := d.Clock.Now()

	state := payment.Retry.Data()
	if state.MaxRetries == 0 {
		state.MaxRetries = DefaultMaxRetries
	}
	state.LastError = reason

	if state.Exhausted() {
		state.PermanentlyFailed = true
		state.NextRetryAt = nil
		if err := d.markPermanentFailure(payment.ID, payment.InvoiceID, state); err != nil {
			return state, err
		}
		payment.Retry = datatypes.NewJSONType(state)
		return state, nil
	}

	next := now.Add(RetryDelay(state.Attempts + 1))
	state.NextRetryAt = &next

	err := d.DB.Model(payment).Updates(map[string]interface{}{
		"status": model.PaymentFailed,
		"retry":  datatypes.NewJSONType(state),
	}).Error
	if err != nil {
		return state, fmt.Errorf("record payment failure: %w", err)
	}
	payment.Retry = datatypes.NewJSONType(state)
	return state, nil
}

// BeginAttempt consumes one retry: it increments the attempt counter and
// stamps last_retry_at before the gateway is called, so a crash mid-attempt
// still counts against the budget.
func (d *DunningEngine) BeginAttempt(payment *model.Payment) (model.RetryState, error) {
	now := d.Clock.Now()

	state := payment.Retry.Data()
	if state.MaxRetries == 0 {
		state.MaxRetries = DefaultMaxRetries
	}
	state.Attempts++
	state.LastRetryAt = &now
	state.NextRetryAt = nil

	if err := d.DB.Model(payment).
		Update("retry", datatypes.NewJSONType(state)).Error; err != nil {
		return state, fmt.Errorf("begin retry attempt: %w", err)
	}
	payment.Retry = datatypes.NewJSONType(state)
	return state, nil
}

// RescheduleAt restores a retry due time, used when dispatching a claimed
// retry to the queue fails and the attempt must become visible again.
func (d *DunningEngine) RescheduleAt(payment *model.Payment, at time.Time) error {
	state := payment.Retry.Data()
	state.NextRetryAt = &at
	if err := d.DB.Model(payment).
		Update("retry", datatypes.NewJSONType(state)).Error; err != nil {
		return fmt.Errorf("reschedule retry: %w", err)
	}
	payment.Retry = datatypes.NewJSONType(state)
	return nil
}

// MarkPermanentFailure escalates a payment whose retries are exhausted.
func (d *DunningEngine) MarkPermanentFailure(paymentID uint) error {
	var payment model.Payment
	if err := d.DB.First(&payment, paymentID).Error; err != nil {
		return fmt.Errorf("load payment %d: %w", paymentID, err)
	}
	return d.markPermanentFailure(payment.ID, payment.InvoiceID, payment.Retry.Data())
}

// markPermanentFailure applies the three-entity escalation atomically:
// payment flagged permanently failed, invoice FAILED, and a still ACTIVE or
// PENDING linked subscription EXPIRED. A torn intermediate state here is a
// data-consistency defect, hence the single transaction.
func (d *DunningEngine) markPermanentFailure(paymentID, invoiceID uint, state model.RetryState) error {
	state.PermanentlyFailed = true
	state.NextRetryAt = nil

	return d.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Payment{}).
			Where("id = ?", paymentID).
			Updates(map[string]interface{}{
				"status": model.PaymentFailed,
				"retry":  datatypes.NewJSONType(state),
			}).Error; err != nil {
			return fmt.Errorf("fail payment: %w", err)
		}

		if err := tx.Model(&model.Invoice{}).
			Where("id = ?", invoiceID).
			Update("status", model.InvoiceFailed).Error; err != nil {
			return fmt.Errorf("fail invoice: %w", err)
		}

		var invoice model.Invoice
		if err := tx.First(&invoice, invoiceID).Error; err != nil {
			return fmt.Errorf("load invoice: %w", err)
		}
		if invoice.SubscriptionID != nil {
			if err := tx.Model(&model.Subscription{}).
				Where("id = ? AND status IN ?", *invoice.SubscriptionID,
					[]model.SubscriptionStatus{model.SubscriptionActive, model.SubscriptionPending}).
				Update("status", model.SubscriptionExpired).Error; err != nil {
				return fmt.Errorf("expire subscription: %w", err)
			}
		}
		return nil
	})
}

// DuePayments selects FAILED payments whose retry is due or whose budget is
// spent, in ascending-id order after the cursor. The caller escalates
// exhausted entries and dispatches the rest. The returned lastID advances
// the cursor over every scanned row.
func (d *DunningEngine) DuePayments(cursor uint, batchSize int) ([]model.Payment, uint, error) {
	now := d.Clock.Now()
	var payments []model.Payment
	err := d.DB.
		Where("status = ? AND id > ?", model.PaymentFailed, cursor).
		Order("id ASC").
		Limit(batchSize).
		Find(&payments).Error
	if err != nil {
		return nil, cursor, fmt.Errorf("due payments: %w", err)
	}

	lastID := cursor
	var eligible []model.Payment
	for _, p := range payments {
		lastID = p.ID
		state := p.Retry.Data()
		if state.PermanentlyFailed {
			continue
		}
		if state.Exhausted() {
			eligible = append(eligible, p)
			continue
		}
		if state.NextRetryAt == nil || state.NextRetryAt.After(now) {
			continue
		}
		eligible = append(eligible, p)
	}
	return eligible, lastID, nil
}
