package billing

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"planpay_backend/internal/model"
)

func renewalTestService(db *gorm.DB, now time.Time) *SubscriptionService {
	clock := FixedClock{T: now}
	return NewSubscriptionService(db, clock, NewPricingResolver(db, clock), NewInvoiceGenerator(db, clock, nil))
}

func subscriptionRow(id uint, endDate time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "tier", "billing_cycle", "status", "auto_renew", "end_date"}).
		AddRow(id, 1, string(model.TierGold), string(model.CycleMonthly),
			string(model.SubscriptionActive), true, endDate)
}

func expectRenewalFlagReset(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "subscriptions"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

// A renew job redelivered after the first invoice was paid finds the end
// date already rolled forward and must not invoice again.
func TestProcessRenewalSkipsPeriodAlreadyPaid(t *testing.T) {
	now := date(2025, time.June, 1)
	db, mock := newTestDB(t)
	svc := renewalTestService(db, now)

	mock.ExpectQuery(`SELECT \* FROM "subscriptions"`).
		WillReturnRows(subscriptionRow(5, now.AddDate(0, 1, 0)))
	expectRenewalFlagReset(mock)

	invoice, err := svc.ProcessRenewal(5)
	require.NoError(t, err)
	assert.Nil(t, invoice)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Within the window, an existing renewal invoice for the current period
// (open or already settled) also suppresses a second one.
func TestProcessRenewalSkipsWhenAlreadyInvoiced(t *testing.T) {
	now := date(2025, time.June, 1)
	db, mock := newTestDB(t)
	svc := renewalTestService(db, now)

	mock.ExpectQuery(`SELECT \* FROM "subscriptions"`).
		WillReturnRows(subscriptionRow(5, now.AddDate(0, 0, 2)))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	expectRenewalFlagReset(mock)

	invoice, err := svc.ProcessRenewal(5)
	require.NoError(t, err)
	assert.Nil(t, invoice)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Cancelled auto-renew is a terminal no for the worker, whatever the dates.
func TestProcessRenewalSkipsNonAutoRenew(t *testing.T) {
	now := date(2025, time.June, 1)
	db, mock := newTestDB(t)
	svc := renewalTestService(db, now)

	rows := sqlmock.NewRows([]string{"id", "user_id", "tier", "billing_cycle", "status", "auto_renew", "end_date"}).
		AddRow(5, 1, string(model.TierGold), string(model.CycleMonthly),
			string(model.SubscriptionActive), false, now.AddDate(0, 0, 2))
	mock.ExpectQuery(`SELECT \* FROM "subscriptions"`).WillReturnRows(rows)
	expectRenewalFlagReset(mock)

	invoice, err := svc.ProcessRenewal(5)
	require.NoError(t, err)
	assert.Nil(t, invoice)
	require.NoError(t, mock.ExpectationsWereMet())
}
