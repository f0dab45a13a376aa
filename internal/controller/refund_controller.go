package controller

import (
	"planpay_backend/internal/model"
	"planpay_backend/pkg/database"
	"planpay_backend/pkg/utils/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type RefundRequestInput struct {
	InvoiceID uint   `json:"invoice_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Reason    string `json:"reason" validate:"required,min=5"`
}

// RequestRefund kullanıcının iade talebini kuyruğa alır; onay admin'dedir.
func RequestRefund(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	input := new(RefundRequestInput)
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

	amount, err := decimal.NewFromString(input.Amount)
	if err != nil || !amount.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid refund amount",
		})
	}

	refund, err := reconciler.RequestRefund(claims.UserID, input.InvoiceID, amount, input.Reason)
	if err != nil {
		return c.Status(billingErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Refund request submitted",
		"refund":  refund,
	})
}

// ListPendingRefunds admin onay kuyruğunu listeler.
func ListPendingRefunds(c *fiber.Ctx) error {
	var refunds []model.Refund
	if err := database.GetDB().
		Where("status = ?", model.RefundPending).
		Order("id ASC").
		Find(&refunds).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch refunds",
		})
	}

	return c.JSON(fiber.Map{
		"refunds": refunds,
	})
}

// ApproveRefund bekleyen iadeyi gateway üzerinden gerçekleştirir (admin).
func ApproveRefund(c *fiber.Ctx) error {
	refundID, err := c.ParamsInt("id")
	if err != nil || refundID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid refund id",
		})
	}

	if err := reconciler.ApproveRefund(c.Context(), uint(refundID)); err != nil {
		return c.Status(billingErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Refund processed",
	})
}
