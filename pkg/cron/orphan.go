package cron

import (
	"log"

	"planpay_backend/internal/model"
	"planpay_backend/pkg/database"
)

// orphanAgeDays is how long a PENDING subscription with no viable invoice
// may linger before it is treated as an abandoned checkout.
const orphanAgeDays = 7

// runOrphanCleanupScan expires PENDING subscriptions older than a week whose
// invoices never went anywhere (none at all, or only FAILED ones).
func runOrphanCleanupScan() {
	now := deps.Clock.Now()
	threshold := now.AddDate(0, 0, -orphanAgeDays)
	cursor := uint(0)

	for {
		var subs []model.Subscription
		err := database.DB.
			Where("status = ? AND created_at < ? AND id > ?", model.SubscriptionPending, threshold, cursor).
			Where("NOT EXISTS (SELECT 1 FROM invoices WHERE invoices.subscription_id = subscriptions.id AND invoices.status <> ? AND invoices.deleted_at IS NULL)",
				model.InvoiceFailed).
			Order("id ASC").
			Limit(deps.BatchSize).
			Find(&subs).Error
		if err != nil {
			log.Printf("Orphan cleanup: %v", err)
			return
		}
		if len(subs) == 0 {
			return
		}
		cursor = subs[len(subs)-1].ID

		var ids []uint
		for _, s := range subs {
			ids = append(ids, s.ID)
		}
		if err := database.DB.Model(&model.Subscription{}).
			Where("id IN ? AND status = ?", ids, model.SubscriptionPending).
			Update("status", model.SubscriptionExpired).Error; err != nil {
			log.Printf("Orphan cleanup: %v", err)
			return
		}
		log.Printf("Orphan cleanup expired %d abandoned subscriptions", len(ids))

		if len(subs) < deps.BatchSize {
			return
		}
	}
}
