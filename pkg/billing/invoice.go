package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"planpay_backend/internal/model"
)

// invoiceDueDays is how long a generated invoice stays payable.
const invoiceDueDays = 7

// RenewalWindowDays is how far ahead of end_date a renewal may be invoiced.
// An end date beyond this window means the current period is already paid.
const RenewalWindowDays = 3

type InvoiceTotals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Amount   decimal.Decimal
}

// ComputeTotals composes the monetary fields of an invoice. Tax applies to
// the discounted subtotal. Everything is rounded to two places.
func ComputeTotals(planPrice, setupFee, discount, taxRate decimal.Decimal) InvoiceTotals {
	subtotal := planPrice.Add(setupFee).Round(2)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(taxRate).Round(2)
	return InvoiceTotals{
		Subtotal: subtotal,
		Discount: discount.Round(2),
		Tax:      tax,
		Amount:   taxable.Add(tax).Round(2),
	}
}

// EffectivePlanPrice applies the price row's own promotional percentage, if
// any, before coupons are considered.
func EffectivePlanPrice(price *model.SubscriptionPrice) decimal.Decimal {
	p := price.Price
	if price.DiscountPercent.IsPositive() {
		p = p.Sub(p.Mul(price.DiscountPercent).Div(decimal.NewFromInt(100)))
	}
	return p.Round(2)
}

type InvoiceParams struct {
	UserID         uint
	SubscriptionID *uint
	PurchaseType   model.PurchaseType
	Tier           model.SubscriptionTier
	Cycle          model.BillingCycle
	Price          *model.SubscriptionPrice
	CouponCode     string
	IdempotencyKey string

	// Set for plan-change invoices; the proration result replaces the
	// plan-price line with an explicit credit/charge pair.
	Proration *ProrationResult
}

type InvoiceGenerator struct {
	DB      *gorm.DB
	Clock   Clock
	Coupons *CouponValidator
}

func NewInvoiceGenerator(db *gorm.DB, clock Clock, coupons *CouponValidator) *InvoiceGenerator {
	return &InvoiceGenerator{DB: db, Clock: clock, Coupons: coupons}
}

// FindByIdempotencyKey returns the user's existing invoice for a client key,
// or nil when the key is unseen.
func (g *InvoiceGenerator) FindByIdempotencyKey(tx *gorm.DB, userID uint, key string) (*model.Invoice, error) {
	if key == "" {
		return nil, nil
	}
	var invoice model.Invoice
	err := tx.Preload("Items").Preload("Subscription").
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return &invoice, nil
}

// Generate composes and persists an invoice with its line items inside the
// caller's transaction. The caller is responsible for idempotency-key replay
// via FindByIdempotencyKey before invoking Generate.
func (g *InvoiceGenerator) Generate(tx *gorm.DB, p InvoiceParams) (*model.Invoice, error) {
	now := g.Clock.Now()

	var items []model.InvoiceItem
	planComponent := decimal.Zero
	setupFee := decimal.Zero

	if p.Proration != nil {
		planComponent = p.Proration.NetAmount
		if p.Proration.Charge.IsPositive() {
			items = append(items, model.InvoiceItem{
				Name:        fmt.Sprintf("%s plan (prorated, %d of %d days)", p.Tier, p.Proration.DaysRemaining, p.Proration.TotalDays),
				Quantity:    1,
				UnitPrice:   p.Proration.Charge,
				TotalPrice:  p.Proration.Charge,
				ItemType:    model.ItemProratedCharge,
				Description: fmt.Sprintf("Prorated charge for switching to %s/%s", p.Tier, p.Cycle),
			})
		}
		if p.Proration.Credit.IsPositive() {
			items = append(items, model.InvoiceItem{
				Name:        "Unused time credit",
				Quantity:    1,
				UnitPrice:   p.Proration.Credit.Neg(),
				TotalPrice:  p.Proration.Credit.Neg(),
				ItemType:    model.ItemCredit,
				Description: fmt.Sprintf("Credit for %d unused days on the previous plan", p.Proration.DaysRemaining),
			})
		}
	} else {
		planComponent = EffectivePlanPrice(p.Price)
		items = append(items, model.InvoiceItem{
			Name:        fmt.Sprintf("%s plan, %s", p.Tier, strings.ToLower(string(p.Cycle))),
			Quantity:    1,
			UnitPrice:   planComponent,
			TotalPrice:  planComponent,
			ItemType:    model.ItemRecurring,
			Description: fmt.Sprintf("Recurring %s subscription", p.Tier),
		})

		if p.Price.SetupFee.IsPositive() {
			first, err := g.isFirstSubscription(tx, p.UserID, p.SubscriptionID)
			if err != nil {
				return nil, err
			}
			if first {
				setupFee = p.Price.SetupFee
				items = append(items, model.InvoiceItem{
					Name:       "One-time setup fee",
					Quantity:   1,
					UnitPrice:  setupFee,
					TotalPrice: setupFee,
					ItemType:   model.ItemSetupFee,
				})
			}
		}
	}

	subtotal := planComponent.Add(setupFee).Round(2)

	discount := decimal.Zero
	var couponCode *string
	if p.CouponCode != "" {
		coupon, err := g.Coupons.Validate(p.CouponCode, p.UserID, PurchaseContext{
			PurchaseType: p.PurchaseType,
			Tier:         p.Tier,
			Cycle:        p.Cycle,
			Subtotal:     subtotal,
		})
		if err != nil {
			return nil, err
		}
		if coupon != nil {
			discount = CalculateDiscount(coupon, subtotal)
			couponCode = &coupon.Code
		}
	}

	totals := ComputeTotals(planComponent, setupFee, discount, p.Price.TaxRate)

	invoice := &model.Invoice{
		InvoiceNumber:  NewInvoiceNumber(now),
		UserID:         p.UserID,
		SubscriptionID: p.SubscriptionID,
		PurchaseType:   p.PurchaseType,
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.Discount,
		TaxAmount:      totals.Tax,
		Amount:         totals.Amount,
		Currency:       p.Price.Currency,
		Status:         model.InvoicePending,
		DueDate:        now.AddDate(0, 0, invoiceDueDays),
		CouponCode:     couponCode,
		Items:          items,
	}
	if p.IdempotencyKey != "" {
		key := p.IdempotencyKey
		invoice.IdempotencyKey = &key
	}

	if err := tx.Create(invoice).Error; err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return invoice, nil
}

// isFirstSubscription reports whether the user has never held a subscription
// before, counting every status. The setup fee is once-ever: a user who
// churned and came back does not pay it again.
func (g *InvoiceGenerator) isFirstSubscription(tx *gorm.DB, userID uint, excludeID *uint) (bool, error) {
	q := tx.Model(&model.Subscription{}).Where("user_id = ?", userID)
	if excludeID != nil {
		q = q.Where("id <> ?", *excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("subscription count: %w", err)
	}
	return count == 0, nil
}

// NewInvoiceNumber builds a unique human-scannable invoice number.
func NewInvoiceNumber(now time.Time) string {
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"),
		strings.ToUpper(uuid.New().String()[:8]))
}
