package billing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"planpay_backend/internal/model"
	"planpay_backend/pkg/gateway"
)

// Reconciler converges gateway callbacks (synchronous path) and dunning
// retries (asynchronous path) onto the same payment/invoice/subscription
// transition rules. Gateway calls always happen outside any open
// transaction.
type Reconciler struct {
	DB      *gorm.DB
	Clock   Clock
	Gateway gateway.Gateway
	Dunning *DunningEngine
}

func NewReconciler(db *gorm.DB, clock Clock, gw gateway.Gateway, dunning *DunningEngine) *Reconciler {
	return &Reconciler{DB: db, Clock: clock, Gateway: gw, Dunning: dunning}
}

// InitiatePayment opens a gateway checkout for an invoice and records the
// PENDING payment tied to the returned session.
func (r *Reconciler) InitiatePayment(ctx context.Context, invoice *model.Invoice, method string) (*model.Payment, string, error) {
	var user model.User
	if err := r.DB.First(&user, invoice.UserID).Error; err != nil {
		return nil, "", fmt.Errorf("load user: %w", err)
	}

	res, err := r.Gateway.Initiate(ctx, invoice, &user, method)
	if err != nil {
		return nil, "", err
	}

	payment := &model.Payment{
		InvoiceID:     invoice.ID,
		UserID:        invoice.UserID,
		Amount:        invoice.Amount,
		Currency:      invoice.Currency,
		Status:        model.PaymentPending,
		PaymentMethod: method,
		Provider:      "stripe",
		TransactionID: res.TransactionID,
		SessionKey:    res.SessionKey,
	}
	if err := r.DB.Create(payment).Error; err != nil {
		return nil, "", fmt.Errorf("create payment: %w", err)
	}
	return payment, res.RedirectURL, nil
}

// HandleSuccess validates a success callback with the gateway and then, in
// one transaction, marks the payment COMPLETED, its invoice COMPLETED with a
// paid date, and a linked subscription ACTIVE. Renewal invoices additionally
// roll the subscription into its next billing period. Replayed callbacks are
// no-ops.
func (r *Reconciler) HandleSuccess(ctx context.Context, sessionKey string) error {
	var payment model.Payment
	err := r.DB.Where("session_key = ?", sessionKey).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}

	if payment.Status == model.PaymentCompleted {
		return nil
	}

	status, txnID, err := r.Gateway.Validate(ctx, sessionKey)
	if err != nil {
		return err
	}
	if status != gateway.StatusPaid {
		return fmt.Errorf("gateway reports session %s as %s, not paid", sessionKey, status)
	}

	now := r.Clock.Now()
	return r.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": model.PaymentCompleted}
		if txnID != "" {
			updates["transaction_id"] = txnID
		}
		if err := tx.Model(&payment).Updates(updates).Error; err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}

		var invoice model.Invoice
		if err := tx.First(&invoice, payment.InvoiceID).Error; err != nil {
			return fmt.Errorf("load invoice: %w", err)
		}
		if err := tx.Model(&invoice).Updates(map[string]interface{}{
			"status":    model.InvoiceCompleted,
			"paid_date": &now,
		}).Error; err != nil {
			return fmt.Errorf("complete invoice: %w", err)
		}

		if invoice.SubscriptionID == nil {
			return nil
		}

		var sub model.Subscription
		if err := tx.First(&sub, *invoice.SubscriptionID).Error; err != nil {
			return fmt.Errorf("load subscription: %w", err)
		}

		subUpdates := map[string]interface{}{"status": model.SubscriptionActive}
		if invoice.PurchaseType == model.PurchaseRenewal {
			newEnd, err := CalculateEndDate(sub.EndDate, sub.BillingCycle)
			if err != nil {
				return err
			}
			subUpdates["start_date"] = sub.EndDate
			subUpdates["end_date"] = newEnd
			subUpdates["expiry_processed"] = false
		}
		if err := tx.Model(&sub).Updates(subUpdates).Error; err != nil {
			return fmt.Errorf("activate subscription: %w", err)
		}
		return nil
	})
}

// HandleFailure marks the payment FAILED with the gateway's reason and hands
// it to the dunning engine. The subscription is left untouched; only retry
// exhaustion may expire it later.
func (r *Reconciler) HandleFailure(ctx context.Context, sessionKey, reason string) error {
	var payment model.Payment
	err := r.DB.Where("session_key = ?", sessionKey).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}

	if payment.Status == model.PaymentCompleted {
		log.Printf("Ignoring failure callback for completed payment %d", payment.ID)
		return nil
	}

	_, err = r.Dunning.RecordFailure(&payment, reason)
	return err
}

// RetryPayment is the dunning worker body: it opens a fresh gateway session
// for the invoice of an already-claimed retry (the scan consumes the attempt
// before dispatching). The outcome arrives through the usual success/failure
// callbacks. Redelivered jobs are harmless: a payment no longer FAILED is
// skipped.
func (r *Reconciler) RetryPayment(ctx context.Context, paymentID uint) error {
	var payment model.Payment
	if err := r.DB.First(&payment, paymentID).Error; err != nil {
		return fmt.Errorf("load payment %d: %w", paymentID, err)
	}

	state := payment.Retry.Data()
	if state.PermanentlyFailed || payment.Status != model.PaymentFailed {
		return nil
	}

	var invoice model.Invoice
	if err := r.DB.First(&invoice, payment.InvoiceID).Error; err != nil {
		return fmt.Errorf("load invoice: %w", err)
	}
	var user model.User
	if err := r.DB.First(&user, payment.UserID).Error; err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	res, err := r.Gateway.Initiate(ctx, &invoice, &user, payment.PaymentMethod)
	if err != nil {
		// Transient gateway trouble burns the attempt and reschedules.
		if _, recErr := r.Dunning.RecordFailure(&payment, err.Error()); recErr != nil {
			return recErr
		}
		return err
	}

	if err := r.DB.Model(&payment).Updates(map[string]interface{}{
		"status":      model.PaymentPending,
		"session_key": res.SessionKey,
	}).Error; err != nil {
		return fmt.Errorf("update payment session: %w", err)
	}

	log.Printf("Dunning retry %d/%d opened session %s for payment %d",
		payment.Retry.Data().Attempts, payment.Retry.Data().MaxRetries, res.SessionKey, payment.ID)
	return nil
}

// RequestRefund records a refund request after checking it against the
// invoice's refundable balance.
func (r *Reconciler) RequestRefund(userID, invoiceID uint, amount decimal.Decimal, reason string) (*model.Refund, error) {
	var invoice model.Invoice
	err := r.DB.Where("id = ? AND user_id = ?", invoiceID, userID).First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}

	refundable, err := r.refundableBalance(r.DB, invoice.ID)
	if err != nil {
		return nil, err
	}
	if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(refundable) {
		return nil, ErrRefundExceedsPaid
	}

	refund := &model.Refund{
		InvoiceID: invoice.ID,
		UserID:    userID,
		Amount:    amount.Round(2),
		Reason:    reason,
		Status:    model.RefundPending,
	}
	if err := r.DB.Create(refund).Error; err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	return refund, nil
}

// ApproveRefund executes an admin-approved refund: the gateway call runs
// first, outside any transaction, then refund, invoice, payments and a
// linked subscription transition together.
func (r *Reconciler) ApproveRefund(ctx context.Context, refundID uint) error {
	var refund model.Refund
	err := r.DB.Preload("Invoice").Where("id = ? AND status = ?", refundID, model.RefundPending).
		First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("refund %d: %w", refundID, gorm.ErrRecordNotFound)
	}
	if err != nil {
		return fmt.Errorf("load refund: %w", err)
	}

	// Re-check the balance at approval time; completed refunds may have
	// landed since the request.
	refundable, err := r.refundableBalance(r.DB, refund.InvoiceID)
	if err != nil {
		return err
	}
	if refund.Amount.GreaterThan(refundable) {
		if dbErr := r.DB.Model(&refund).Update("status", model.RefundRejected).Error; dbErr != nil {
			return dbErr
		}
		return ErrRefundExceedsPaid
	}

	var paid model.Payment
	err = r.DB.Where("invoice_id = ? AND status = ?", refund.InvoiceID, model.PaymentCompleted).
		Order("id DESC").First(&paid).Error
	if err != nil {
		return fmt.Errorf("no completed payment to refund: %w", err)
	}

	status, err := r.Gateway.Refund(ctx, paid.TransactionID, refund.Amount, refund.Reason)
	if err != nil {
		return err
	}
	if status != gateway.StatusPaid {
		if dbErr := r.DB.Model(&refund).Update("status", model.RefundRejected).Error; dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("gateway rejected refund %d", refund.ID)
	}

	now := r.Clock.Now()
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&refund).Updates(map[string]interface{}{
			"status":       model.RefundCompleted,
			"processed_at": &now,
			"payment_id":   paid.ID,
		}).Error; err != nil {
			return fmt.Errorf("complete refund: %w", err)
		}

		if err := tx.Model(&model.Invoice{}).
			Where("id = ?", refund.InvoiceID).
			Update("status", model.InvoiceRefunded).Error; err != nil {
			return fmt.Errorf("refund invoice: %w", err)
		}

		if err := tx.Model(&model.Payment{}).
			Where("invoice_id = ? AND status = ?", refund.InvoiceID, model.PaymentCompleted).
			Update("status", model.PaymentRefunded).Error; err != nil {
			return fmt.Errorf("refund payments: %w", err)
		}

		if refund.Invoice.SubscriptionID != nil {
			if err := tx.Model(&model.Subscription{}).
				Where("id = ? AND status IN ?", *refund.Invoice.SubscriptionID,
					[]model.SubscriptionStatus{model.SubscriptionPending, model.SubscriptionActive}).
				Updates(map[string]interface{}{
					"status":       model.SubscriptionCancelled,
					"cancelled_at": &now,
				}).Error; err != nil {
				return fmt.Errorf("cancel subscription: %w", err)
			}
		}
		return nil
	})
}

// refundableBalance is sum(completed payments) − sum(completed refunds) for
// an invoice; a completed refund total may never exceed it.
func (r *Reconciler) refundableBalance(db *gorm.DB, invoiceID uint) (decimal.Decimal, error) {
	var paid, refunded decimal.NullDecimal

	err := db.Model(&model.Payment{}).
		Select("SUM(amount)").
		Where("invoice_id = ? AND status = ?", invoiceID, model.PaymentCompleted).
		Scan(&paid).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}

	err = db.Model(&model.Refund{}).
		Select("SUM(amount)").
		Where("invoice_id = ? AND status = ?", invoiceID, model.RefundCompleted).
		Scan(&refunded).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum refunds: %w", err)
	}

	total := decimal.Zero
	if paid.Valid {
		total = paid.Decimal
	}
	if refunded.Valid {
		total = total.Sub(refunded.Decimal)
	}
	return total, nil
}
