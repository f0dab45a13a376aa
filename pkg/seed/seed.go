package seed

import (
	"log"

	"planpay_backend/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func SeedSubscriptionPrices(db *gorm.DB) {
	prices := []model.SubscriptionPrice{
		// GOLD
		{Tier: model.TierGold, BillingCycle: model.CycleMonthly, Currency: "USD", Region: "global",
			Price: price("29.99"), SetupFee: price("10.00"), Active: true},
		{Tier: model.TierGold, BillingCycle: model.CycleSixMonthly, Currency: "USD", Region: "global",
			Price: price("161.94"), SetupFee: price("10.00"), DiscountPercent: price("10.00"), Active: true},
		{Tier: model.TierGold, BillingCycle: model.CycleYearly, Currency: "USD", Region: "global",
			Price: price("299.99"), SetupFee: price("10.00"), DiscountPercent: price("15.00"), Active: true},
		{Tier: model.TierGold, BillingCycle: model.CycleLifetime, Currency: "USD", Region: "global",
			Price: price("899.99"), SetupFee: price("10.00"), Active: true},

		// PLATINUM
		{Tier: model.TierPlatinum, BillingCycle: model.CycleMonthly, Currency: "USD", Region: "global",
			Price: price("59.99"), SetupFee: price("15.00"), Active: true},
		{Tier: model.TierPlatinum, BillingCycle: model.CycleSixMonthly, Currency: "USD", Region: "global",
			Price: price("323.94"), SetupFee: price("15.00"), DiscountPercent: price("10.00"), Active: true},
		{Tier: model.TierPlatinum, BillingCycle: model.CycleYearly, Currency: "USD", Region: "global",
			Price: price("599.99"), SetupFee: price("15.00"), DiscountPercent: price("15.00"), Active: true},
		{Tier: model.TierPlatinum, BillingCycle: model.CycleLifetime, Currency: "USD", Region: "global",
			Price: price("1799.99"), SetupFee: price("15.00"), Active: true},

		// DIAMOND
		{Tier: model.TierDiamond, BillingCycle: model.CycleMonthly, Currency: "USD", Region: "global",
			Price: price("119.99"), SetupFee: price("25.00"), Active: true},
		{Tier: model.TierDiamond, BillingCycle: model.CycleSixMonthly, Currency: "USD", Region: "global",
			Price: price("647.94"), SetupFee: price("25.00"), DiscountPercent: price("10.00"), Active: true},
		{Tier: model.TierDiamond, BillingCycle: model.CycleYearly, Currency: "USD", Region: "global",
			Price: price("1199.99"), SetupFee: price("25.00"), DiscountPercent: price("15.00"), Active: true},
		{Tier: model.TierDiamond, BillingCycle: model.CycleLifetime, Currency: "USD", Region: "global",
			Price: price("3599.99"), SetupFee: price("25.00"), Active: true},
	}

	for _, p := range prices {
		result := db.FirstOrCreate(&p, model.SubscriptionPrice{
			Tier:         p.Tier,
			BillingCycle: p.BillingCycle,
			Currency:     p.Currency,
			Region:       p.Region,
		})
		if result.Error != nil {
			log.Printf("Error creating price %s/%s: %v", p.Tier, p.BillingCycle, result.Error)
		}
	}

	log.Println("Subscription prices seeded successfully!")
}

func SeedCoupons(db *gorm.DB) {
	coupons := []model.Coupon{
		{
			Code:           "WELCOME10",
			Type:           model.CouponPercentage,
			DiscountValue:  price("10.00"),
			MaxUsesPerUser: 1,
			Active:         true,
			PurchaseTypes:  []string{string(model.PurchaseSubscription)},
		},
		{
			Code:              "SAVE20",
			Type:              model.CouponFixed,
			DiscountValue:     price("20.00"),
			MinPurchaseAmount: price("100.00"),
			MaxUses:           500,
			Active:            true,
		},
		{
			Code:             "GOLDYEAR",
			Type:             model.CouponPercentage,
			DiscountValue:    price("25.00"),
			Active:           true,
			ApplicableTiers:  []string{string(model.TierGold)},
			ApplicableCycles: []string{string(model.CycleYearly)},
		},
	}

	for _, c := range coupons {
		result := db.FirstOrCreate(&c, model.Coupon{Code: c.Code})
		if result.Error != nil {
			log.Printf("Error creating coupon %s: %v", c.Code, result.Error)
		}
	}

	log.Println("Coupons seeded successfully!")
}
