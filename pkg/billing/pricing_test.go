package billing

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"planpay_backend/internal/model"
)

// newTestDB wires gorm onto a sqlmock connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db, mock
}

func priceColumns() []string {
	return []string{"id", "tier", "billing_cycle", "currency", "region", "price", "setup_fee", "tax_rate", "discount_percent", "active"}
}

func TestGetPricingSingleRow(t *testing.T) {
	db, mock := newTestDB(t)
	resolver := NewPricingResolver(db, FixedClock{T: date(2025, time.June, 1)})

	mock.ExpectQuery(`SELECT \* FROM "subscription_prices"`).
		WithArgs(
			string(model.TierGold), string(model.CycleMonthly), "USD", "global", true,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows(priceColumns()).
			AddRow(1, "GOLD", "MONTHLY", "USD", "global", "29.99", "10.00", "0", "0", true))

	price, err := resolver.GetPricing(model.TierGold, model.CycleMonthly, "USD", "global")
	require.NoError(t, err)
	assert.Equal(t, "29.99", price.Price.StringFixed(2))
	assert.Equal(t, "10.00", price.SetupFee.StringFixed(2))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPricingDefaultsCurrencyAndRegion(t *testing.T) {
	db, mock := newTestDB(t)
	resolver := NewPricingResolver(db, FixedClock{T: date(2025, time.June, 1)})

	mock.ExpectQuery(`SELECT \* FROM "subscription_prices"`).
		WithArgs(
			string(model.TierGold), string(model.CycleMonthly), "USD", "global", true,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows(priceColumns()).
			AddRow(1, "GOLD", "MONTHLY", "USD", "global", "29.99", "0", "0", "0", true))

	_, err := resolver.GetPricing(model.TierGold, model.CycleMonthly, "", "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPricingNotFound(t *testing.T) {
	db, mock := newTestDB(t)
	resolver := NewPricingResolver(db, FixedClock{T: date(2025, time.June, 1)})

	mock.ExpectQuery(`SELECT \* FROM "subscription_prices"`).
		WillReturnRows(sqlmock.NewRows(priceColumns()))

	_, err := resolver.GetPricing(model.TierDiamond, model.CycleYearly, "USD", "global")
	assert.ErrorIs(t, err, ErrPricingNotFound)
}

func TestGetPricingAmbiguous(t *testing.T) {
	db, mock := newTestDB(t)
	resolver := NewPricingResolver(db, FixedClock{T: date(2025, time.June, 1)})

	mock.ExpectQuery(`SELECT \* FROM "subscription_prices"`).
		WillReturnRows(sqlmock.NewRows(priceColumns()).
			AddRow(1, "GOLD", "MONTHLY", "USD", "global", "29.99", "0", "0", "0", true).
			AddRow(2, "GOLD", "MONTHLY", "USD", "global", "24.99", "0", "0", "0", true))

	_, err := resolver.GetPricing(model.TierGold, model.CycleMonthly, "USD", "global")
	assert.ErrorIs(t, err, ErrAmbiguousPricing)
}

func TestGetPricingRejectsInvalidKey(t *testing.T) {
	db, _ := newTestDB(t)
	resolver := NewPricingResolver(db, FixedClock{T: date(2025, time.June, 1)})

	_, err := resolver.GetPricing(model.SubscriptionTier("BRONZE"), model.CycleMonthly, "USD", "global")
	assert.ErrorIs(t, err, ErrInvalidTier)

	_, err = resolver.GetPricing(model.TierGold, model.BillingCycle("WEEKLY"), "USD", "global")
	assert.ErrorIs(t, err, ErrInvalidCycle)
}
