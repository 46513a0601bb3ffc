package subscriptions

import (
	"time"
)

// RemoteUpdate is the relevant slice of a processor-side subscription change,
// as extracted from a customer.subscription.updated webhook payload.
type RemoteUpdate struct {
	Status             string
	CancelAtPeriodEnd  bool
	CurrentPeriodEnd   *time.Time
	CurrentPeriodStart *time.Time
}

// ProcessorSubscription is the processor's view of a subscription, reduced to
// the fields the lifecycle engine consumes.
type ProcessorSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	TrialEnd           *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// ProcessorSubscriptionInput carries everything needed to open a subscription
// with the processor. Billing terms come frozen from the order item, never
// from the live catalog.
type ProcessorSubscriptionInput struct {
	CustomerID      string
	PriceID         string
	TrialDays       int
	BillingAnchor   *time.Time
	Metadata        map[string]string
	PaymentBehavior PaymentBehavior
}

// PaymentBehavior selects how the processor should treat the first charge.
type PaymentBehavior string

const (
	// PaymentBehaviorDefaultIncomplete defers the first charge to a hosted
	// confirmation step.
	PaymentBehaviorDefaultIncomplete PaymentBehavior = "default_incomplete"
	// PaymentBehaviorInvoice bills by emailed invoice with a 7 day due window.
	PaymentBehaviorInvoice PaymentBehavior = "allow_incomplete"
)
