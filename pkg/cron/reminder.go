package cron

import (
	"log"

	"planpay_backend/internal/model"
	"planpay_backend/pkg/billing"
	"planpay_backend/pkg/database"
	"planpay_backend/pkg/email"
)

// reminderDays are the days-before-expiry marks that trigger a warning mail
// to non-auto-renewing subscribers.
var reminderDays = []int{7, 3}

func runReminderScan() {
	now := deps.Clock.Now()

	for _, days := range reminderDays {
		cursor := uint(0)
		for {
			var subs []model.Subscription
			err := database.DB.
				Where("status = ? AND auto_renew = ? AND id > ?", model.SubscriptionActive, false, cursor).
				Where("end_date > ? AND end_date <= ?", now, now.AddDate(0, 0, days)).
				Order("id ASC").
				Limit(deps.BatchSize).
				Preload("User").
				Find(&subs).Error
			if err != nil {
				log.Printf("Reminder scan: %v", err)
				return
			}
			if len(subs) == 0 {
				break
			}
			cursor = subs[len(subs)-1].ID

			for _, sub := range subs {
				if billing.DaysBetween(now, sub.EndDate) != days {
					continue
				}
				if email.GlobalEmailService == nil {
					continue
				}
				err := email.GlobalEmailService.SendExpiryReminder(
					sub.User.Email,
					sub.User.GetFullName(),
					string(sub.Tier),
					sub.EndDate,
					days,
				)
				if err != nil {
					log.Printf("Reminder scan: could not mail %s: %v", sub.User.Email, err)
				} else {
					log.Printf("Sent expiry reminder to %s (%d days left)", sub.User.Email, days)
				}
			}

			if len(subs) < deps.BatchSize {
				break
			}
		}
	}
}
