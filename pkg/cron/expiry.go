package cron

import (
	"context"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planpay_backend/internal/model"
	"planpay_backend/pkg/database"
	"planpay_backend/pkg/jobqueue"
)

// runExpiryScan finds ACTIVE subscriptions past their end date, flags them
// expiry_processed inside a row-locked transaction, and only then dispatches
// the batch-expire job. The flag write commits before the dispatch, so the
// next tick cannot re-select the same rows even if the job has not run yet.
func runExpiryScan() {
	now := deps.Clock.Now()
	cursor := uint(0)

	for {
		var ids []uint
		err := database.DB.Transaction(func(tx *gorm.DB) error {
			var subs []model.Subscription
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("status = ? AND end_date < ? AND expiry_processed = ? AND id > ?",
					model.SubscriptionActive, now, false, cursor).
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
				Where("id IN ? AND expiry_processed = ?", ids, false).
				Update("expiry_processed", true).Error
		})
		if err != nil {
			log.Printf("Expiry scan: %v", err)
			return
		}
		if len(ids) == 0 {
			return
		}
		cursor = ids[len(ids)-1]

		_, err = deps.Queue.Enqueue(context.Background(), jobqueue.TopicExpireBatch,
			jobqueue.ExpireBatchPayload{SubscriptionIDs: ids})
		if err != nil {
			// Roll the flags back so the next tick can pick these up again.
			log.Printf("Expiry scan: dispatch failed, unflagging %d rows: %v", len(ids), err)
			if resetErr := database.DB.Model(&model.Subscription{}).
				Where("id IN ?", ids).
				Update("expiry_processed", false).Error; resetErr != nil {
				log.Printf("Expiry scan: could not unflag rows: %v", resetErr)
			}
			return
		}
		log.Printf("Expiry scan dispatched %d subscriptions", len(ids))

		if len(ids) < deps.BatchSize {
			return
		}
	}
}
