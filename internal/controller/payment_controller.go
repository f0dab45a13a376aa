package controller

import (
	"encoding/json"
	"errors"
	"log"

	"planpay_backend/internal/model"
	"planpay_backend/pkg/billing"
	"planpay_backend/pkg/database"
	"planpay_backend/pkg/email"
	"planpay_backend/pkg/utils/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v74/webhook"
)

var stripeWebhookSecret string

// InitPaymentController sets the webhook signing secret. Must be called once
// at startup, before routes are served.
func InitPaymentController(webhookSecret string) {
	stripeWebhookSecret = webhookSecret
}

// PaymentSuccess ödeme sağlayıcısından dönen başarı callback'ini işler.
// Stripe redirects here with ?session_id={CHECKOUT_SESSION_ID}.
func PaymentSuccess(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing session_id",
		})
	}

	if err := reconciler.HandleSuccess(c.Context(), sessionID); err != nil {
		if errors.Is(err, billing.ErrPaymentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Payment not found",
			})
		}
		log.Printf("Payment success handling failed for session %s: %v", sessionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not process payment",
		})
	}

	notifySubscriptionActivated(sessionID)

	return c.JSON(fiber.Map{
		"message": "Payment completed successfully",
	})
}

// PaymentFailed ödeme sağlayıcısından dönen iptal/başarısızlık callback'ini işler.
func PaymentFailed(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing session_id",
		})
	}

	reason := c.Query("reason", "checkout cancelled")
	if err := reconciler.HandleFailure(c.Context(), sessionID, reason); err != nil {
		if errors.Is(err, billing.ErrPaymentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Payment not found",
			})
		}
		log.Printf("Payment failure handling failed for session %s: %v", sessionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not process payment failure",
		})
	}

	notifyPaymentRetry(sessionID)

	return c.JSON(fiber.Map{
		"message": "Payment marked as failed, we will retry automatically",
	})
}

// StripeWebhook is the server-to-server path for the same transitions the
// redirect callbacks drive; a lost redirect is recovered here.
func StripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"), stripeWebhookSecret)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook signature",
		})
	}

	log.Printf("Processing Stripe webhook event: %s", event.Type)

	var sessionData struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &sessionData); err != nil {
		return c.Status(fiber.StatusBadRequest).Send(nil)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if err := reconciler.HandleSuccess(c.Context(), sessionData.ID); err != nil {
			if errors.Is(err, billing.ErrPaymentNotFound) {
				// Not one of ours; acknowledge so Stripe stops retrying.
				return c.SendStatus(fiber.StatusOK)
			}
			log.Printf("Webhook success handling failed for session %s: %v", sessionData.ID, err)
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		notifySubscriptionActivated(sessionData.ID)
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		if err := reconciler.HandleFailure(c.Context(), sessionData.ID, string(event.Type)); err != nil {
			if errors.Is(err, billing.ErrPaymentNotFound) {
				return c.SendStatus(fiber.StatusOK)
			}
			log.Printf("Webhook failure handling failed for session %s: %v", sessionData.ID, err)
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		notifyPaymentRetry(sessionData.ID)
	}

	return c.SendStatus(fiber.StatusOK)
}

// GetMyInvoices returns the caller's invoices with their line items.
func GetMyInvoices(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	var invoices []model.Invoice
	if err := database.GetDB().
		Preload("Items").
		Where("user_id = ?", claims.UserID).
		Order("id DESC").
		Limit(50).
		Find(&invoices).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch invoices",
		})
	}

	return c.JSON(fiber.Map{
		"invoices": invoices,
	})
}

// notifySubscriptionActivated sends the welcome email after a first or
// reactivation payment completes. Best effort only.
func notifySubscriptionActivated(sessionKey string) {
	if email.GlobalEmailService == nil {
		return
	}

	var payment model.Payment
	err := database.GetDB().Where("session_key = ?", sessionKey).First(&payment).Error
	if err != nil {
		return
	}

	var invoice model.Invoice
	if err := database.GetDB().First(&invoice, payment.InvoiceID).Error; err != nil {
		return
	}
	if invoice.SubscriptionID == nil {
		return
	}
	if invoice.PurchaseType != model.PurchaseSubscription && invoice.PurchaseType != model.PurchaseReactivation {
		return
	}

	var sub model.Subscription
	if err := database.GetDB().First(&sub, *invoice.SubscriptionID).Error; err != nil {
		return
	}

	var user model.User
	if err := database.GetDB().First(&user, payment.UserID).Error; err != nil {
		return
	}

	err = email.GlobalEmailService.SendSubscriptionStartedEmail(
		user.Email,
		user.GetFullName(),
		string(sub.Tier),
		string(sub.BillingCycle),
		invoice.Amount.StringFixed(2),
		invoice.Currency,
		sub.EndDate,
	)
	if err != nil {
		log.Printf("Could not send activation email to %s: %v", user.Email, err)
	}
}

// notifyPaymentRetry tells the user their payment failed and a retry is
// scheduled. Best effort only.
func notifyPaymentRetry(sessionKey string) {
	if email.GlobalEmailService == nil {
		return
	}

	var payment model.Payment
	if err := database.GetDB().Where("session_key = ?", sessionKey).First(&payment).Error; err != nil {
		return
	}
	state := payment.Retry.Data()
	if state.PermanentlyFailed {
		return
	}

	var user model.User
	if err := database.GetDB().First(&user, payment.UserID).Error; err != nil {
		return
	}

	err := email.GlobalEmailService.SendPaymentRetryEmail(
		user.Email,
		user.GetFullName(),
		state.Attempts+1,
		state.MaxRetries,
		"",
	)
	if err != nil {
		log.Printf("Could not send retry email to %s: %v", user.Email, err)
	}
}
