package cron

import (
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planpay_backend/internal/model"
	"planpay_backend/pkg/billing"
	"planpay_backend/pkg/database"
)

// runTrialConversionScan bills trials that have ended: each subscription is
// re-checked inside its own transaction for an existing non-failed invoice
// (double-billing guard), gets its post-trial invoice, and flips to PENDING
// until that invoice is paid. One bad row never aborts the batch.
func runTrialConversionScan() {
	now := deps.Clock.Now()
	cursor := uint(0)

	for {
		var subs []model.Subscription
		err := database.DB.
			Where("status = ? AND trial_end IS NOT NULL AND trial_end <= ? AND id > ?",
				model.SubscriptionActive, now, cursor).
			Order("id ASC").
			Limit(deps.BatchSize).
			Find(&subs).Error
		if err != nil {
			log.Printf("Trial scan: %v", err)
			return
		}
		if len(subs) == 0 {
			return
		}
		cursor = subs[len(subs)-1].ID

		for i := range subs {
			if err := convertTrial(&subs[i]); err != nil {
				log.Printf("Trial scan: subscription %d: %v", subs[i].ID, err)
			}
		}

		if len(subs) < deps.BatchSize {
			return
		}
	}
}

func convertTrial(sub *model.Subscription) error {
	var user model.User
	if err := database.DB.First(&user, sub.UserID).Error; err != nil {
		return err
	}

	// Pricing can have changed since signup; the post-trial invoice uses
	// the catalog as of now.
	price, err := deps.Pricing.GetPricing(sub.Tier, sub.BillingCycle, user.Currency, user.Region)
	if err != nil {
		return err
	}

	return database.DB.Transaction(func(tx *gorm.DB) error {
		var current model.Subscription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, sub.ID).Error; err != nil {
			return err
		}
		if current.Status != model.SubscriptionActive || current.TrialEnd == nil {
			return nil
		}

		var billed int64
		if err := tx.Model(&model.Invoice{}).
			Where("subscription_id = ? AND purchase_type = ? AND status <> ?",
				current.ID, model.PurchaseTrialEnd, model.InvoiceFailed).
			Count(&billed).Error; err != nil {
			return err
		}
		if billed > 0 {
			return nil
		}

		invoice, err := deps.Invoices.Generate(tx, billing.InvoiceParams{
			UserID:         current.UserID,
			SubscriptionID: &current.ID,
			PurchaseType:   model.PurchaseTrialEnd,
			Tier:           current.Tier,
			Cycle:          current.BillingCycle,
			Price:          price,
		})
		if err != nil {
			return err
		}

		if err := tx.Model(&current).
			Update("status", model.SubscriptionPending).Error; err != nil {
			return err
		}

		log.Printf("Trial conversion invoice %s generated for subscription %d",
			invoice.InvoiceNumber, current.ID)
		return nil
	})
}
