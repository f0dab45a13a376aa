package cron

import (
	"log"

	"github.com/robfig/cron/v3"

	"planpay_backend/pkg/billing"
	"planpay_backend/pkg/jobqueue"
)

// Deps carries what every scan needs. Scans hold no mutable state of their
// own: the store flags (expiry_processed, renewal_in_progress,
// last_renewal_attempt) are the only concurrency control, so any scan is
// safe to run concurrently with itself.
type Deps struct {
	Queue     *jobqueue.Queue
	Dunning   *billing.DunningEngine
	Pricing   *billing.PricingResolver
	Invoices  *billing.InvoiceGenerator
	Clock     billing.Clock
	BatchSize int
}

var deps Deps

// InitLifecycleCrons registers every periodic scan on its own schedule.
func InitLifecycleCrons(d Deps) *cron.Cron {
	if d.BatchSize <= 0 {
		d.BatchSize = 100
	}
	deps = d

	c := cron.New()

	add := func(spec, name string, fn func()) {
		if _, err := c.AddFunc(spec, fn); err != nil {
			log.Printf("Could not register %s scan: %v", name, err)
		}
	}

	add("@every 1h", "expiry", runExpiryScan)
	add("@every 1h", "renewal", runRenewalScan)
	add("@every 1h", "trial-conversion", runTrialConversionScan)
	add("@every 1h", "dunning", runDunningScan)
	add("0 9 * * *", "reminder", runReminderScan)
	add("0 2 * * *", "orphan-cleanup", runOrphanCleanupScan)

	c.Start()
	log.Println("Lifecycle crons initialized")
	return c
}
