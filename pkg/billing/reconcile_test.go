package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planpay_backend/internal/model"
)

func expectRefundBalanceCheck(mock sqlmock.Sqlmock, paid string) {
	mock.ExpectQuery(`SELECT \* FROM "refunds"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_id", "user_id", "amount", "reason", "status"}).
			AddRow(4, 7, 1, "50.00", "not satisfied", string(model.RefundPending)))
	mock.ExpectQuery(`SELECT \* FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).
			AddRow(7, 1, string(model.InvoiceCompleted)))
	mock.ExpectQuery(`SELECT SUM\(amount\) FROM "payments"`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(paid))
	mock.ExpectQuery(`SELECT SUM\(amount\) FROM "refunds"`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))
}

func TestApproveRefundRejectsOverBalance(t *testing.T) {
	db, mock := newTestDB(t)
	rec := NewReconciler(db, FixedClock{T: date(2025, time.July, 1)}, nil, nil)

	expectRefundBalanceCheck(mock, "29.99")
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "refunds"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := rec.ApproveRefund(context.Background(), 4)
	require.ErrorIs(t, err, ErrRefundExceedsPaid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveRefundSurfacesRejectionWriteError(t *testing.T) {
	db, mock := newTestDB(t)
	rec := NewReconciler(db, FixedClock{T: date(2025, time.July, 1)}, nil, nil)

	writeErr := errors.New("connection reset")
	expectRefundBalanceCheck(mock, "29.99")
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "refunds"`).WillReturnError(writeErr)
	mock.ExpectRollback()

	err := rec.ApproveRefund(context.Background(), 4)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRefundExceedsPaid)
	assert.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}
