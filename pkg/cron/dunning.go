package cron

import (
	"context"
	"log"

	"planpay_backend/pkg/jobqueue"
)

// runDunningScan claims due payment retries and dispatches them. Claiming
// (BeginAttempt) clears next_retry_at and burns the attempt before the job
// is enqueued, so an overlapping tick cannot dispatch the same retry twice.
// Exhausted payments escalate to permanent failure right here; that is a
// local three-entity transaction, not queue work.
func runDunningScan() {
	cursor := uint(0)

	for {
		payments, lastID, err := deps.Dunning.DuePayments(cursor, deps.BatchSize)
		if err != nil {
			log.Printf("Dunning scan: %v", err)
			return
		}
		if lastID == cursor {
			return
		}
		cursor = lastID

		for i := range payments {
			p := &payments[i]
			state := p.Retry.Data()

			if state.Exhausted() {
				if err := deps.Dunning.MarkPermanentFailure(p.ID); err != nil {
					log.Printf("Dunning scan: could not escalate payment %d: %v", p.ID, err)
				} else {
					log.Printf("Payment %d permanently failed after %d attempts", p.ID, state.Attempts)
				}
				continue
			}

			claimed, err := deps.Dunning.BeginAttempt(p)
			if err != nil {
				log.Printf("Dunning scan: could not claim payment %d: %v", p.ID, err)
				continue
			}

			_, err = deps.Queue.Enqueue(context.Background(), jobqueue.TopicPaymentRetry,
				jobqueue.PaymentRetryPayload{PaymentID: p.ID})
			if err != nil {
				log.Printf("Dunning scan: dispatch for payment %d failed: %v", p.ID, err)
				if resetErr := deps.Dunning.RescheduleAt(p, deps.Clock.Now()); resetErr != nil {
					log.Printf("Dunning scan: could not reschedule payment %d: %v", p.ID, resetErr)
				}
				continue
			}
			log.Printf("Dispatched retry %d/%d for payment %d", claimed.Attempts, claimed.MaxRetries, p.ID)
		}
	}
}
