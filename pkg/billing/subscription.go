package billing

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"planpay_backend/internal/model"
)

type SubscriptionService struct {
	DB       *gorm.DB
	Clock    Clock
	Pricing  *PricingResolver
	Invoices *InvoiceGenerator
}

func NewSubscriptionService(db *gorm.DB, clock Clock, pricing *PricingResolver, invoices *InvoiceGenerator) *SubscriptionService {
	return &SubscriptionService{DB: db, Clock: clock, Pricing: pricing, Invoices: invoices}
}

type CreateParams struct {
	UserID         uint
	Tier           model.SubscriptionTier
	Cycle          model.BillingCycle
	Currency       string
	Region         string
	CouponCode     string
	IdempotencyKey string
	TrialDays      int
}

type CreateResult struct {
	Subscription *model.Subscription
	Invoice      *model.Invoice
	Replayed     bool
}

// Create opens a subscription and its first invoice. A repeated request with
// the same idempotency key returns the original pair instead of a duplicate;
// a user with a PENDING or ACTIVE subscription is rejected. Both checks run
// inside the same transaction as the insert.
func (s *SubscriptionService) Create(p CreateParams) (*CreateResult, error) {
	if !p.Tier.Valid() {
		return nil, ErrInvalidTier
	}
	if !p.Cycle.Valid() {
		return nil, ErrInvalidCycle
	}

	price, err := s.Pricing.GetPricing(p.Tier, p.Cycle, p.Currency, p.Region)
	if err != nil {
		return nil, err
	}

	dates, err := CalculateDates(s.Clock, p.Cycle)
	if err != nil {
		return nil, err
	}

	var result CreateResult
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := s.Invoices.FindByIdempotencyKey(tx, p.UserID, p.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Invoice = existing
			result.Subscription = existing.Subscription
			result.Replayed = true
			return nil
		}

		var active int64
		if err := tx.Model(&model.Subscription{}).
			Where("user_id = ? AND status IN ?", p.UserID,
				[]model.SubscriptionStatus{model.SubscriptionPending, model.SubscriptionActive}).
			Count(&active).Error; err != nil {
			return fmt.Errorf("duplicate check: %w", err)
		}
		if active > 0 {
			return ErrDuplicateSubscription
		}

		sub := &model.Subscription{
			UserID:       p.UserID,
			Tier:         p.Tier,
			BillingCycle: p.Cycle,
			Status:       model.SubscriptionPending,
			StartDate:    dates.Start,
			EndDate:      dates.End,
			AutoRenew:    dates.AutoRenew,
		}
		if p.TrialDays > 0 {
			trialEnd := dates.Start.AddDate(0, 0, p.TrialDays)
			sub.TrialEnd = &trialEnd
			sub.Status = model.SubscriptionActive
		}
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		result.Subscription = sub

		// Trial subscriptions are billed by the trial-conversion scan at
		// trial end, not up front.
		if p.TrialDays > 0 {
			return nil
		}

		invoice, err := s.Invoices.Generate(tx, InvoiceParams{
			UserID:         p.UserID,
			SubscriptionID: &sub.ID,
			PurchaseType:   model.PurchaseSubscription,
			Tier:           p.Tier,
			Cycle:          p.Cycle,
			Price:          price,
			CouponCode:     p.CouponCode,
			IdempotencyKey: p.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		result.Invoice = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type ChangeParams struct {
	UserID         uint
	NewTier        model.SubscriptionTier
	NewCycle       model.BillingCycle
	CouponCode     string
	IdempotencyKey string
}

type ChangeResult struct {
	Subscription *model.Subscription
	Invoice      *model.Invoice
	Proration    ProrationResult
	Replayed     bool
}

// ChangePlan prorates a mid-cycle tier or cycle change. Downgrades on either
// axis are refused before the proration engine runs.
func (s *SubscriptionService) ChangePlan(p ChangeParams) (*ChangeResult, error) {
	if !p.NewTier.Valid() {
		return nil, ErrInvalidTier
	}
	if !p.NewCycle.Valid() {
		return nil, ErrInvalidCycle
	}

	var sub model.Subscription
	err := s.DB.Where("user_id = ? AND status = ?", p.UserID, model.SubscriptionActive).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	if p.NewTier.Rank() < sub.Tier.Rank() || p.NewCycle.Rank() < sub.BillingCycle.Rank() {
		return nil, ErrDowngradeNotAllowed
	}
	if p.NewTier == sub.Tier && p.NewCycle == sub.BillingCycle {
		return nil, fmt.Errorf("%w: already on %s/%s", ErrDowngradeNotAllowed, sub.Tier, sub.BillingCycle)
	}

	var user model.User
	if err := s.DB.First(&user, p.UserID).Error; err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	currentPrice, err := s.Pricing.GetPricing(sub.Tier, sub.BillingCycle, user.Currency, user.Region)
	if err != nil {
		return nil, err
	}
	newPrice, err := s.Pricing.GetPricing(p.NewTier, p.NewCycle, user.Currency, user.Region)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	proration := Prorate(now, &sub, EffectivePlanPrice(currentPrice), EffectivePlanPrice(newPrice))

	var result ChangeResult
	result.Proration = proration

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := s.Invoices.FindByIdempotencyKey(tx, p.UserID, p.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Invoice = existing
			result.Subscription = &sub
			result.Replayed = true
			return nil
		}

		invoice, err := s.Invoices.Generate(tx, InvoiceParams{
			UserID:         p.UserID,
			SubscriptionID: &sub.ID,
			PurchaseType:   model.PurchasePlanChange,
			Tier:           p.NewTier,
			Cycle:          p.NewCycle,
			Price:          newPrice,
			CouponCode:     p.CouponCode,
			IdempotencyKey: p.IdempotencyKey,
			Proration:      &proration,
		})
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"tier":          p.NewTier,
			"billing_cycle": p.NewCycle,
		}
		if proration.IsNewBillingCycle {
			end, err := CalculateEndDate(now, p.NewCycle)
			if err != nil {
				return err
			}
			updates["start_date"] = now
			updates["end_date"] = end
			updates["auto_renew"] = p.NewCycle != model.CycleLifetime
			updates["expiry_processed"] = false
		}
		if err := tx.Model(&sub).Updates(updates).Error; err != nil {
			return fmt.Errorf("apply plan change: %w", err)
		}

		// Nothing to collect: close the invoice immediately so the change
		// does not sit in PENDING forever.
		if invoice.Amount.IsZero() {
			paid := now
			if err := tx.Model(invoice).Updates(map[string]interface{}{
				"status":    model.InvoiceCompleted,
				"paid_date": &paid,
			}).Error; err != nil {
				return fmt.Errorf("close zero invoice: %w", err)
			}
		}

		result.Invoice = invoice
		result.Subscription = &sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel flips a PENDING or ACTIVE subscription to CANCELLED.
func (s *SubscriptionService) Cancel(userID uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.DB.Where("user_id = ? AND status IN ?", userID,
		[]model.SubscriptionStatus{model.SubscriptionPending, model.SubscriptionActive}).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	now := s.Clock.Now()
	if err := s.DB.Model(&sub).Updates(map[string]interface{}{
		"status":       model.SubscriptionCancelled,
		"cancelled_at": &now,
		"auto_renew":   false,
	}).Error; err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return &sub, nil
}

// Reactivate brings the user's most recent CANCELLED or EXPIRED
// subscription back to PENDING with a fresh billing period and invoice.
func (s *SubscriptionService) Reactivate(userID uint, couponCode, idempotencyKey string) (*CreateResult, error) {
	var sub model.Subscription
	err := s.DB.Where("user_id = ? AND status IN ?", userID,
		[]model.SubscriptionStatus{model.SubscriptionCancelled, model.SubscriptionExpired}).
		Order("id DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReactivationNotAllowed
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	var user model.User
	if err := s.DB.First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	price, err := s.Pricing.GetPricing(sub.Tier, sub.BillingCycle, user.Currency, user.Region)
	if err != nil {
		return nil, err
	}
	dates, err := CalculateDates(s.Clock, sub.BillingCycle)
	if err != nil {
		return nil, err
	}

	var result CreateResult
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := s.Invoices.FindByIdempotencyKey(tx, userID, idempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Invoice = existing
			result.Subscription = existing.Subscription
			result.Replayed = true
			return nil
		}

		var active int64
		if err := tx.Model(&model.Subscription{}).
			Where("user_id = ? AND status IN ?", userID,
				[]model.SubscriptionStatus{model.SubscriptionPending, model.SubscriptionActive}).
			Count(&active).Error; err != nil {
			return fmt.Errorf("duplicate check: %w", err)
		}
		if active > 0 {
			return ErrDuplicateSubscription
		}

		if err := tx.Model(&sub).Updates(map[string]interface{}{
			"status":           model.SubscriptionPending,
			"start_date":       dates.Start,
			"end_date":         dates.End,
			"auto_renew":       dates.AutoRenew,
			"cancelled_at":     nil,
			"expiry_processed": false,
		}).Error; err != nil {
			return fmt.Errorf("reactivate subscription: %w", err)
		}
		result.Subscription = &sub

		invoice, err := s.Invoices.Generate(tx, InvoiceParams{
			UserID:         userID,
			SubscriptionID: &sub.ID,
			PurchaseType:   model.PurchaseReactivation,
			Tier:           sub.Tier,
			Cycle:          sub.BillingCycle,
			Price:          price,
			CouponCode:     couponCode,
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			return err
		}
		result.Invoice = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ProcessRenewal is the renewal worker body. It re-checks current state so
// redelivered jobs are harmless, and resets renewal_in_progress on every
// exit path; a subscription left flagged would never renew again.
func (s *SubscriptionService) ProcessRenewal(subscriptionID uint) (*model.Invoice, error) {
	defer func() {
		if err := s.DB.Model(&model.Subscription{}).
			Where("id = ?", subscriptionID).
			Update("renewal_in_progress", false).Error; err != nil {
			log.Printf("Could not reset renewal flag for subscription %d: %v", subscriptionID, err)
		}
	}()

	var sub model.Subscription
	if err := s.DB.First(&sub, subscriptionID).Error; err != nil {
		return nil, fmt.Errorf("load subscription %d: %w", subscriptionID, err)
	}

	if sub.Status != model.SubscriptionActive || !sub.AutoRenew {
		return nil, nil
	}

	now := s.Clock.Now()

	// Already renewed: if the end date sits beyond the renewal window, a
	// previous delivery was invoiced and paid, rolling the period forward.
	if sub.EndDate.After(now.AddDate(0, 0, RenewalWindowDays)) {
		return nil, nil
	}

	// Already invoiced: an open or settled renewal invoice for the current
	// period means a previous delivery got here first.
	var existing int64
	if err := s.DB.Model(&model.Invoice{}).
		Where("subscription_id = ? AND purchase_type = ? AND status IN ? AND created_at > ?",
			sub.ID, model.PurchaseRenewal,
			[]model.InvoiceStatus{model.InvoicePending, model.InvoiceCompleted},
			sub.EndDate.AddDate(0, 0, -RenewalWindowDays)).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("renewal invoice check: %w", err)
	}
	if existing > 0 {
		return nil, nil
	}

	var user model.User
	if err := s.DB.First(&user, sub.UserID).Error; err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	price, err := s.Pricing.GetPricing(sub.Tier, sub.BillingCycle, user.Currency, user.Region)
	if err != nil {
		return nil, err
	}

	var invoice *model.Invoice
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		invoice, err = s.Invoices.Generate(tx, InvoiceParams{
			UserID:         sub.UserID,
			SubscriptionID: &sub.ID,
			PurchaseType:   model.PurchaseRenewal,
			Tier:           sub.Tier,
			Cycle:          sub.BillingCycle,
			Price:          price,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Renewal invoice %s generated for subscription %d (due %s)",
		invoice.InvoiceNumber, sub.ID, now.AddDate(0, 0, invoiceDueDays).Format("2006-01-02"))
	return invoice, nil
}

// ExpireBatch is the expiry worker body: every listed subscription that is
// still ACTIVE past its end date becomes EXPIRED. Rows already expired by a
// redelivered job are skipped by the WHERE clause.
func (s *SubscriptionService) ExpireBatch(ids []uint) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := s.Clock.Now()
	res := s.DB.Model(&model.Subscription{}).
		Where("id IN ? AND status = ? AND end_date < ?", ids, model.SubscriptionActive, now).
		Update("status", model.SubscriptionExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("expire batch: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
