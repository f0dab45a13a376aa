package controller

import (
	"errors"
	"log"
	"time"

	"planpay_backend/internal/model"
	"planpay_backend/pkg/billing"
	"planpay_backend/pkg/database"
	"planpay_backend/pkg/email"
	"planpay_backend/pkg/utils/jwt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var validate = validator.New()

var (
	subscriptionService *billing.SubscriptionService
	reconciler          *billing.Reconciler
)

// InitSubscriptionController wires the billing services. Must be called once
// at startup before the routes are registered.
func InitSubscriptionController(subs *billing.SubscriptionService, rec *billing.Reconciler) {
	subscriptionService = subs
	reconciler = rec
}

type SubscribeInput struct {
	Tier       string `json:"tier" validate:"required"`
	Cycle      string `json:"billing_cycle" validate:"required"`
	CouponCode string `json:"coupon_code"`
	TrialDays  int    `json:"trial_days" validate:"gte=0,lte=30"`
}

type ChangePlanInput struct {
	Tier       string `json:"tier" validate:"required"`
	Cycle      string `json:"billing_cycle" validate:"required"`
	CouponCode string `json:"coupon_code"`
}

type ReactivateInput struct {
	CouponCode string `json:"coupon_code"`
}

func billingErrorStatus(err error) int {
	switch {
	case errors.Is(err, billing.ErrInvalidTier),
		errors.Is(err, billing.ErrInvalidCycle):
		return fiber.StatusBadRequest
	case errors.Is(err, billing.ErrPricingNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, billing.ErrInvoiceNotFound),
		errors.Is(err, billing.ErrPaymentNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, billing.ErrDowngradeNotAllowed):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, billing.ErrDuplicateSubscription),
		errors.Is(err, billing.ErrSubscriptionNotActive),
		errors.Is(err, billing.ErrReactivationNotAllowed),
		errors.Is(err, billing.ErrRefundExceedsPaid):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// Subscribe yeni abonelik başlatır ve ilk faturayı keser.
func Subscribe(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	input := new(SubscribeInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var user model.User
	if err := database.GetDB().First(&user, claims.UserID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	result, err := subscriptionService.Create(billing.CreateParams{
		UserID:         claims.UserID,
		Tier:           model.SubscriptionTier(input.Tier),
		Cycle:          model.BillingCycle(input.Cycle),
		Currency:       user.Currency,
		Region:         user.Region,
		CouponCode:     input.CouponCode,
		IdempotencyKey: c.Get("Idempotency-Key"),
		TrialDays:      input.TrialDays,
	})
	if err != nil {
		return c.Status(billingErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	response := fiber.Map{
		"subscription": result.Subscription,
		"replayed":     result.Replayed,
	}

	if result.Invoice != nil {
		response["invoice"] = result.Invoice

		if !result.Replayed && result.Invoice.Status == model.InvoicePending && !result.Invoice.Amount.IsZero() {
			payment, redirectURL, err := reconciler.InitiatePayment(c.Context(), result.Invoice, "card")
			if err != nil {
				log.Printf("Could not initiate payment for invoice %s: %v", result.Invoice.InvoiceNumber, err)
			} else {
				response["payment_id"] = payment.ID
				response["payment_url"] = redirectURL
				notifyInvoiceIssued(&user, result.Invoice, redirectURL)
			}
		}
	}

	if result.Replayed {
		return c.JSON(response)
	}
	return c.Status(fiber.StatusCreated).JSON(response)
}

// ChangePlan mevcut aboneliği üst plana taşır.
func ChangePlan(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	input := new(ChangePlanInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	result, err := subscriptionService.ChangePlan(billing.ChangeParams{
		UserID:         claims.UserID,
		NewTier:        model.SubscriptionTier(input.Tier),
		NewCycle:       model.BillingCycle(input.Cycle),
		CouponCode:     input.CouponCode,
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return c.Status(billingErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	response := fiber.Map{
		"subscription": result.Subscription,
		"invoice":      result.Invoice,
		"replayed":     result.Replayed,
		"proration": fiber.Map{
			"credit":         result.Proration.Credit.StringFixed(2),
			"charge":         result.Proration.Charge.StringFixed(2),
			"net_amount":     result.Proration.NetAmount.StringFixed(2),
			"refund_amount":  result.Proration.RefundAmount.StringFixed(2),
			"days_remaining": result.Proration.DaysRemaining,
			"total_days":     result.Proration.TotalDays,
		},
	}

	if !result.Replayed && result.Invoice != nil &&
		result.Invoice.Status == model.InvoicePending && !result.Invoice.Amount.IsZero() {
		var user model.User
		if err := database.GetDB().First(&user, claims.UserID).Error; err == nil {
			payment, redirectURL, err := reconciler.InitiatePayment(c.Context(), result.Invoice, "card")
			if err != nil {
				log.Printf("Could not initiate payment for invoice %s: %v", result.Invoice.InvoiceNumber, err)
			} else {
				response["payment_id"] = payment.ID
				response["payment_url"] = redirectURL
				notifyInvoiceIssued(&user, result.Invoice, redirectURL)
			}
		}
	}

	return c.JSON(response)
}

// CancelSubscription aboneliği dönem sonunda bitecek şekilde iptal eder.
func CancelSubscription(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	sub, err := subscriptionService.Cancel(claims.UserID)
	if err != nil {
		return c.Status(billingErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message":      "Subscription cancelled",
		"subscription": sub,
	})
}

// ReactivateSubscription iptal edilmiş aboneliği yeniden başlatır.
func ReactivateSubscription(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	input := new(ReactivateInput)
	if err := c.BodyParser(input); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	result, err := subscriptionService.Reactivate(claims.UserID, input.CouponCode, c.Get("Idempotency-Key"))
	if err != nil {
		return c.Status(billingErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	response := fiber.Map{
		"subscription": result.Subscription,
		"invoice":      result.Invoice,
		"replayed":     result.Replayed,
	}

	if !result.Replayed && result.Invoice != nil && !result.Invoice.Amount.IsZero() {
		var user model.User
		if err := database.GetDB().First(&user, claims.UserID).Error; err == nil {
			payment, redirectURL, err := reconciler.InitiatePayment(c.Context(), result.Invoice, "card")
			if err != nil {
				log.Printf("Could not initiate payment for invoice %s: %v", result.Invoice.InvoiceNumber, err)
			} else {
				response["payment_id"] = payment.ID
				response["payment_url"] = redirectURL
				notifyInvoiceIssued(&user, result.Invoice, redirectURL)
			}
		}
	}

	return c.JSON(response)
}

// GetMySubscription returns the caller's current subscription, newest first.
func GetMySubscription(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	var sub model.Subscription
	err := database.GetDB().
		Where("user_id = ?", claims.UserID).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "No subscription found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch subscription",
		})
	}

	return c.JSON(fiber.Map{
		"subscription": sub,
		"in_trial":     sub.InTrial(time.Now()),
	})
}

// ListPlans returns the active price list for the caller's currency and region.
func ListPlans(c *fiber.Ctx) error {
	currency := c.Query("currency", "USD")
	region := c.Query("region", "global")

	var prices []model.SubscriptionPrice
	if err := database.GetDB().
		Where("currency = ? AND region = ? AND active = ?", currency, region, true).
		Order("tier, billing_cycle").
		Find(&prices).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch plans",
		})
	}

	plans := make([]fiber.Map, 0, len(prices))
	for i := range prices {
		p := &prices[i]
		plans = append(plans, fiber.Map{
			"tier":             p.Tier,
			"billing_cycle":    p.BillingCycle,
			"price":            billing.EffectivePlanPrice(p).StringFixed(2),
			"setup_fee":        p.SetupFee.StringFixed(2),
			"discount_percent": p.DiscountPercent.StringFixed(2),
			"tax_rate":         p.TaxRate.StringFixed(2),
			"currency":         p.Currency,
			"region":           p.Region,
		})
	}

	return c.JSON(fiber.Map{
		"plans": plans,
	})
}

func notifyInvoiceIssued(user *model.User, invoice *model.Invoice, paymentLink string) {
	if email.GlobalEmailService == nil {
		return
	}
	err := email.GlobalEmailService.SendInvoiceIssuedEmail(
		user.Email,
		user.GetFullName(),
		invoice.InvoiceNumber,
		invoice.Amount.StringFixed(2),
		invoice.Currency,
		invoice.DueDate,
		paymentLink,
	)
	if err != nil {
		log.Printf("Could not send invoice email for %s: %v", invoice.InvoiceNumber, err)
	}
}
