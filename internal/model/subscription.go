package model

import (
	"time"

	"gorm.io/gorm"
)

type SubscriptionTier string

const (
	TierGold     SubscriptionTier = "GOLD"
	TierPlatinum SubscriptionTier = "PLATINUM"
	TierDiamond  SubscriptionTier = "DIAMOND"
)

// tierRank orders tiers for upgrade/downgrade checks.
var tierRank = map[SubscriptionTier]int{
	TierGold:     1,
	TierPlatinum: 2,
	TierDiamond:  3,
}

func (t SubscriptionTier) Rank() int {
	return tierRank[t]
}

func (t SubscriptionTier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

type BillingCycle string

const (
	CycleMonthly    BillingCycle = "MONTHLY"
	CycleSixMonthly BillingCycle = "SIX_MONTHLY"
	CycleYearly     BillingCycle = "YEARLY"
	CycleLifetime   BillingCycle = "LIFETIME"
)

var cycleRank = map[BillingCycle]int{
	CycleMonthly:    1,
	CycleSixMonthly: 2,
	CycleYearly:     3,
	CycleLifetime:   4,
}

func (c BillingCycle) Rank() int {
	return cycleRank[c]
}

func (c BillingCycle) Valid() bool {
	_, ok := cycleRank[c]
	return ok
}

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "PENDING"
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

type Subscription struct {
	gorm.Model
	UserID       uint               `json:"user_id" gorm:"index;not null"`
	Tier         SubscriptionTier   `json:"tier" gorm:"not null"`
	BillingCycle BillingCycle       `json:"billing_cycle" gorm:"not null"`
	Status       SubscriptionStatus `json:"status" gorm:"index;default:'PENDING'"`
	StartDate    time.Time          `json:"start_date"`
	EndDate      time.Time          `json:"end_date" gorm:"index"`
	TrialEnd     *time.Time         `json:"trial_end,omitempty"`
	AutoRenew    bool               `json:"auto_renew" gorm:"default:true"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`

	// Scheduler leasing flags. These are the only concurrency control the
	// lifecycle scans use; a row flagged here is invisible to the next tick.
	ExpiryProcessed    bool       `json:"-" gorm:"default:false"`
	RenewalInProgress  bool       `json:"-" gorm:"default:false"`
	LastRenewalAttempt *time.Time `json:"-"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

// InTrial reports whether the subscription is inside its trial window at t.
func (s *Subscription) InTrial(t time.Time) bool {
	return s.TrialEnd != nil && t.Before(*s.TrialEnd)
}
