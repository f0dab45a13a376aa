package billing

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"planpay_backend/internal/model"
)

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 3*24*time.Hour, RetryDelay(1))
	assert.Equal(t, 5*24*time.Hour, RetryDelay(2))
	assert.Equal(t, 7*24*time.Hour, RetryDelay(3))

	// Out-of-range attempts stay on the schedule's edges.
	assert.Equal(t, 3*24*time.Hour, RetryDelay(0))
	assert.Equal(t, 7*24*time.Hour, RetryDelay(9))
}

func TestRetryStateExhausted(t *testing.T) {
	assert.False(t, (&model.RetryState{Attempts: 2, MaxRetries: 3}).Exhausted())
	assert.True(t, (&model.RetryState{Attempts: 3, MaxRetries: 3}).Exhausted())
	assert.True(t, (&model.RetryState{Attempts: 4, MaxRetries: 3}).Exhausted())
}

func failedPayment(state model.RetryState) *model.Payment {
	p := &model.Payment{
		InvoiceID: 7,
		UserID:    1,
		Status:    model.PaymentFailed,
		Retry:     datatypes.NewJSONType(state),
	}
	p.ID = 42
	return p
}

func expectSingleUpdate(mock sqlmock.Sqlmock, table string) {
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "` + table + `"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestRecordFailureSchedulesBackoff(t *testing.T) {
	now := date(2025, time.April, 1)

	tests := []struct {
		name     string
		attempts int
		wantNext time.Time
	}{
		{"first failure waits three days", 0, now.AddDate(0, 0, 3)},
		{"second failure waits five days", 1, now.AddDate(0, 0, 5)},
		{"third failure waits seven days", 2, now.AddDate(0, 0, 7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newTestDB(t)
			engine := NewDunningEngine(db, FixedClock{T: now})

			expectSingleUpdate(mock, "payments")

			payment := failedPayment(model.RetryState{Attempts: tt.attempts, MaxRetries: DefaultMaxRetries})
			state, err := engine.RecordFailure(payment, "card_declined")
			require.NoError(t, err)

			require.NotNil(t, state.NextRetryAt)
			assert.Equal(t, tt.wantNext, *state.NextRetryAt)
			assert.Equal(t, tt.attempts, state.Attempts)
			assert.Equal(t, "card_declined", state.LastError)
			assert.False(t, state.PermanentlyFailed)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRecordFailureDefaultsMaxRetries(t *testing.T) {
	db, mock := newTestDB(t)
	engine := NewDunningEngine(db, FixedClock{T: date(2025, time.April, 1)})

	expectSingleUpdate(mock, "payments")

	payment := failedPayment(model.RetryState{})
	state, err := engine.RecordFailure(payment, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, state.MaxRetries)
	require.NotNil(t, state.NextRetryAt)
}

func TestRecordFailureEscalatesWhenExhausted(t *testing.T) {
	db, mock := newTestDB(t)
	engine := NewDunningEngine(db, FixedClock{T: date(2025, time.April, 1)})

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "payments"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "invoices"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	subID := int64(9)
	mock.ExpectQuery(`SELECT \* FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "subscription_id", "status"}).
			AddRow(7, 1, subID, string(model.InvoiceFailed)))
	mock.ExpectExec(`UPDATE "subscriptions"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payment := failedPayment(model.RetryState{Attempts: 3, MaxRetries: 3})
	state, err := engine.RecordFailure(payment, "card_declined")
	require.NoError(t, err)

	assert.True(t, state.PermanentlyFailed)
	assert.Nil(t, state.NextRetryAt)
	assert.True(t, payment.Retry.Data().PermanentlyFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginAttemptConsumesRetry(t *testing.T) {
	now := date(2025, time.April, 4)
	db, mock := newTestDB(t)
	engine := NewDunningEngine(db, FixedClock{T: now})

	expectSingleUpdate(mock, "payments")

	next := now.Add(-time.Hour)
	payment := failedPayment(model.RetryState{Attempts: 1, MaxRetries: 3, NextRetryAt: &next})

	state, err := engine.BeginAttempt(payment)
	require.NoError(t, err)

	assert.Equal(t, 2, state.Attempts)
	assert.Nil(t, state.NextRetryAt)
	require.NotNil(t, state.LastRetryAt)
	assert.Equal(t, now, *state.LastRetryAt)

	// The in-memory payment carries the claimed state forward.
	assert.Equal(t, state, payment.Retry.Data())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleAtRestoresDueTime(t *testing.T) {
	db, mock := newTestDB(t)
	engine := NewDunningEngine(db, FixedClock{T: date(2025, time.April, 4)})

	expectSingleUpdate(mock, "payments")

	payment := failedPayment(model.RetryState{Attempts: 2, MaxRetries: 3})
	at := date(2025, time.April, 5)
	require.NoError(t, engine.RescheduleAt(payment, at))

	state := payment.Retry.Data()
	require.NotNil(t, state.NextRetryAt)
	assert.Equal(t, at, *state.NextRetryAt)
}

func TestDuePaymentsFiltersAndAdvancesCursor(t *testing.T) {
	now := date(2025, time.April, 10)
	db, mock := newTestDB(t)
	engine := NewDunningEngine(db, FixedClock{T: now})

	due := now.Add(-time.Hour)
	future := now.Add(48 * time.Hour)

	stateJSON := func(s model.RetryState) []byte {
		j := datatypes.NewJSONType(s)
		b, err := j.MarshalJSON()
		require.NoError(t, err)
		return b
	}

	mock.ExpectQuery(`SELECT \* FROM "payments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_id", "user_id", "status", "retry"}).
			AddRow(10, 1, 1, string(model.PaymentFailed), stateJSON(model.RetryState{Attempts: 1, MaxRetries: 3, NextRetryAt: &due})).
			AddRow(11, 2, 2, string(model.PaymentFailed), stateJSON(model.RetryState{Attempts: 1, MaxRetries: 3, NextRetryAt: &future})).
			AddRow(12, 3, 3, string(model.PaymentFailed), stateJSON(model.RetryState{Attempts: 3, MaxRetries: 3})).
			AddRow(13, 4, 4, string(model.PaymentFailed), stateJSON(model.RetryState{Attempts: 3, MaxRetries: 3, PermanentlyFailed: true})))

	eligible, lastID, err := engine.DuePayments(0, 100)
	require.NoError(t, err)

	// Due and exhausted rows are eligible; future-dated and permanently
	// failed rows are not. The cursor covers every scanned row regardless.
	require.Len(t, eligible, 2)
	assert.Equal(t, uint(10), eligible[0].ID)
	assert.Equal(t, uint(12), eligible[1].ID)
	assert.Equal(t, uint(13), lastID)
}
