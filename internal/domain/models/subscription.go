package models

import (
	"time"
)

// BillingCycle represents how often a subscription is billed
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

// SubscriptionStatus represents the current state of a subscription
type SubscriptionStatus string

const (
	SubStatusInactive  SubscriptionStatus = "inactive"
	SubStatusActive    SubscriptionStatus = "active"
	SubStatusSuspended SubscriptionStatus = "suspended"
	SubStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription represents a customer's recurring service subscription.
// NextBillingDate and LastBilledAt are date-precision values stored at
// midnight UTC; the billing jobs and manual activation are the only writers
// of either field.
type Subscription struct {
	ID              string
	CustomerID      string
	PlanID          string
	OrderID         string
	Status          SubscriptionStatus
	BillingCycle    BillingCycle
	StartedAt       *time.Time
	NextBillingDate *time.Time
	LastBilledAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
}

// IsBillable returns true if the subscription participates in billing runs
func (s *Subscription) IsBillable() bool {
	return s.Status == SubStatusActive || s.Status == SubStatusSuspended
}

// IsCancelled returns true if the subscription has been cancelled
func (s *Subscription) IsCancelled() bool {
	return s.Status == SubStatusCancelled || s.CancelledAt != nil
}

// IsFirstCycle reports whether the subscription has never been billed
func (s *Subscription) IsFirstCycle() bool {
	return s.LastBilledAt == nil
}
