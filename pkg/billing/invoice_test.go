package billing

import (
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planpay_backend/internal/model"
)

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name         string
		planPrice    string
		setupFee     string
		discount     string
		taxRate      string
		wantSubtotal string
		wantDiscount string
		wantTax      string
		wantAmount   string
	}{
		{
			name:      "plan plus setup fee, no discount or tax",
			planPrice: "29.99", setupFee: "10.00", discount: "0", taxRate: "0",
			wantSubtotal: "39.99", wantDiscount: "0.00", wantTax: "0.00", wantAmount: "39.99",
		},
		{
			name:      "tax applies to discounted subtotal",
			planPrice: "100.00", setupFee: "0", discount: "20.00", taxRate: "0.18",
			wantSubtotal: "100.00", wantDiscount: "20.00", wantTax: "14.40", wantAmount: "94.40",
		},
		{
			name:      "discount clamped to subtotal",
			planPrice: "25.00", setupFee: "0", discount: "40.00", taxRate: "0.18",
			wantSubtotal: "25.00", wantDiscount: "25.00", wantTax: "0.00", wantAmount: "0.00",
		},
		{
			name:      "no setup fee",
			planPrice: "59.99", setupFee: "0", discount: "0", taxRate: "0.10",
			wantSubtotal: "59.99", wantDiscount: "0.00", wantTax: "6.00", wantAmount: "65.99",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(
				decimal.RequireFromString(tt.planPrice),
				decimal.RequireFromString(tt.setupFee),
				decimal.RequireFromString(tt.discount),
				decimal.RequireFromString(tt.taxRate),
			)
			assert.Equal(t, tt.wantSubtotal, got.Subtotal.StringFixed(2))
			assert.Equal(t, tt.wantDiscount, got.Discount.StringFixed(2))
			assert.Equal(t, tt.wantTax, got.Tax.StringFixed(2))
			assert.Equal(t, tt.wantAmount, got.Amount.StringFixed(2))
		})
	}
}

func TestEffectivePlanPrice(t *testing.T) {
	full := &model.SubscriptionPrice{Price: money("100.00")}
	assert.Equal(t, "100.00", EffectivePlanPrice(full).StringFixed(2))

	promo := &model.SubscriptionPrice{
		Price:           money("100.00"),
		DiscountPercent: money("15.00"),
	}
	assert.Equal(t, "85.00", EffectivePlanPrice(promo).StringFixed(2))

	odd := &model.SubscriptionPrice{
		Price:           money("29.99"),
		DiscountPercent: money("10.00"),
	}
	assert.Equal(t, "26.99", EffectivePlanPrice(odd).StringFixed(2))
}

func catalogPrice(price, setupFee, taxRate string) *model.SubscriptionPrice {
	return &model.SubscriptionPrice{
		Tier:         model.TierGold,
		BillingCycle: model.CycleMonthly,
		Currency:     "USD",
		Region:       "global",
		Price:        decimal.RequireFromString(price),
		SetupFee:     decimal.RequireFromString(setupFee),
		TaxRate:      decimal.RequireFromString(taxRate),
		Active:       true,
	}
}

func TestGenerateFirstSubscriptionChargesSetupFee(t *testing.T) {
	db, mock := newTestDB(t)
	gen := NewInvoiceGenerator(db, FixedClock{T: date(2025, time.June, 1)}, nil)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "subscriptions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO "invoice_items"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectCommit()

	subID := uint(3)
	invoice, err := gen.Generate(db, InvoiceParams{
		UserID:         1,
		SubscriptionID: &subID,
		PurchaseType:   model.PurchaseSubscription,
		Tier:           model.TierGold,
		Cycle:          model.CycleMonthly,
		Price:          catalogPrice("29.99", "10.00", "0"),
	})
	require.NoError(t, err)

	assert.Equal(t, "39.99", invoice.Subtotal.StringFixed(2))
	assert.Equal(t, "39.99", invoice.Amount.StringFixed(2))
	require.Len(t, invoice.Items, 2)
	assert.Equal(t, model.ItemRecurring, invoice.Items[0].ItemType)
	assert.Equal(t, "29.99", invoice.Items[0].TotalPrice.StringFixed(2))
	assert.Equal(t, model.ItemSetupFee, invoice.Items[1].ItemType)
	assert.Equal(t, "10.00", invoice.Items[1].TotalPrice.StringFixed(2))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateSkipsSetupFeeForReturningUser(t *testing.T) {
	db, mock := newTestDB(t)
	gen := NewInvoiceGenerator(db, FixedClock{T: date(2025, time.June, 1)}, nil)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "subscriptions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO "invoice_items"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	subID := uint(9)
	invoice, err := gen.Generate(db, InvoiceParams{
		UserID:         1,
		SubscriptionID: &subID,
		PurchaseType:   model.PurchaseSubscription,
		Tier:           model.TierGold,
		Cycle:          model.CycleMonthly,
		Price:          catalogPrice("29.99", "10.00", "0.18"),
	})
	require.NoError(t, err)

	assert.Equal(t, "29.99", invoice.Subtotal.StringFixed(2))
	assert.Equal(t, "5.40", invoice.TaxAmount.StringFixed(2))
	assert.Equal(t, "35.39", invoice.Amount.StringFixed(2))
	require.Len(t, invoice.Items, 1)
	assert.Equal(t, model.ItemRecurring, invoice.Items[0].ItemType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIdempotencyKeyReplaysExistingInvoice(t *testing.T) {
	db, mock := newTestDB(t)
	gen := NewInvoiceGenerator(db, FixedClock{T: date(2025, time.June, 1)}, nil)

	mock.ExpectQuery(`SELECT \* FROM "invoices"`).
		WithArgs(uint(1), "abc-123", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "invoice_number", "status", "idempotency_key"}).
			AddRow(7, 1, "INV-20250601-DEADBEEF", string(model.InvoicePending), "abc-123"))
	mock.ExpectQuery(`SELECT \* FROM "invoice_items"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_id"}))

	invoice, err := gen.FindByIdempotencyKey(db, 1, "abc-123")
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, "INV-20250601-DEADBEEF", invoice.InvoiceNumber)

	// An unseen key is a miss, not an error.
	mock.ExpectQuery(`SELECT \* FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	missing, err := gen.FindByIdempotencyKey(db, 1, "never-seen")
	require.NoError(t, err)
	assert.Nil(t, missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewInvoiceNumber(t *testing.T) {
	now := time.Date(2025, time.July, 4, 12, 0, 0, 0, time.UTC)

	n := NewInvoiceNumber(now)
	assert.True(t, strings.HasPrefix(n, "INV-20250704-"), n)
	assert.Len(t, n, len("INV-20250704-")+8)

	// Two numbers minted at the same instant must still differ.
	assert.NotEqual(t, n, NewInvoiceNumber(now))
}
