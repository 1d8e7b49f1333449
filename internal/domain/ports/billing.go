package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PrebillResult reports one pre-bill job run. Counts are the primary
// success signal; Skipped means another worker held the job lock.
type PrebillResult struct {
	Skipped       bool `json:"skipped"`
	Examined      int  `json:"examined"`
	Invoiced      int  `json:"invoiced"`
	PointerOnly   int  `json:"pointer_only"`
	AlreadyBilled int  `json:"already_billed"`
	Failed        int  `json:"failed"`
}

// CutoffResult reports one cutoff enforcement run
type CutoffResult struct {
	Skipped   bool `json:"skipped"`
	Disabled  bool `json:"disabled"`
	Examined  int  `json:"examined"`
	Suspended int  `json:"suspended"`
	Failed    int  `json:"failed"`
}

// ActivationResult reports a manual activation with first-cycle proration
type ActivationResult struct {
	SubscriptionID  string          `json:"subscription_id"`
	ProratedBase    decimal.Decimal `json:"prorated_base"`
	ProratedTotal   decimal.Decimal `json:"prorated_total"`
	WalletApplied   decimal.Decimal `json:"wallet_applied"`
	NextBillingDate time.Time       `json:"next_billing_date"`
}

// BillingService drives all subscription state transitions
type BillingService interface {
	RunPrebill(ctx context.Context) (*PrebillResult, error)
	RunCutoff(ctx context.Context) (*CutoffResult, error)
	ActivateSubscription(ctx context.Context, subscriptionID string, activationDate time.Time) (*ActivationResult, error)
}
