package cron

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planpay_backend/internal/model"
	"planpay_backend/pkg/billing"
	"planpay_backend/pkg/database"
	"planpay_backend/pkg/jobqueue"
)

const renewalAttemptMaxAge = 6 * time.Hour

// runRenewalScan leases auto-renewing subscriptions ending within the next
// three days: renewal_in_progress is set and last_renewal_attempt stamped
// inside the transaction, then one renewal job per subscription goes out.
// The worker resets the flag on every exit path; a stale attempt older than
// six hours is re-eligible here in case that reset was lost to a crash.
func runRenewalScan() {
	now := deps.Clock.Now()
	windowEnd := now.AddDate(0, 0, billing.RenewalWindowDays)
	staleBefore := now.Add(-renewalAttemptMaxAge)
	cursor := uint(0)

	for {
		var ids []uint
		err := database.DB.Transaction(func(tx *gorm.DB) error {
			var subs []model.Subscription
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("status = ? AND auto_renew = ? AND id > ?",
					model.SubscriptionActive, true, cursor).
				Where("end_date > ? AND end_date <= ?", now, windowEnd).
				Where("(renewal_in_progress = ? AND (last_renewal_attempt IS NULL OR last_renewal_attempt < ?)) OR last_renewal_attempt < ?",
					false, staleBefore, staleBefore).
				Order("id ASC").
				Limit(deps.BatchSize).
				Find(&subs).Error
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				return nil
			}
			for _, s := range subs {
				ids = append(ids, s.ID)
			}
			return tx.Model(&model.Subscription{}).
				Where("id IN ?", ids).
				Updates(map[string]interface{}{
					"renewal_in_progress":  true,
					"last_renewal_attempt": now,
				}).Error
		})
		if err != nil {
			log.Printf("Renewal scan: %v", err)
			return
		}
		if len(ids) == 0 {
			return
		}
		cursor = ids[len(ids)-1]

		for _, id := range ids {
			_, err := deps.Queue.Enqueue(context.Background(), jobqueue.TopicRenew,
				jobqueue.RenewPayload{SubscriptionID: id})
			if err != nil {
				log.Printf("Renewal scan: dispatch for subscription %d failed: %v", id, err)
				if resetErr := database.DB.Model(&model.Subscription{}).
					Where("id = ?", id).
					Update("renewal_in_progress", false).Error; resetErr != nil {
					log.Printf("Renewal scan: could not unflag subscription %d: %v", id, resetErr)
				}
			}
		}
		log.Printf("Renewal scan dispatched %d subscriptions", len(ids))

		if len(ids) < deps.BatchSize {
			return
		}
	}
}
