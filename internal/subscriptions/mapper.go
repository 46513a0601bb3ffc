package subscriptions

import (
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/pro-cess/subscriptions-backend/pkg/enums"
)

// MapRemoteStatus collapses the processor's lifecycle states onto the local
// status set. Remote status is ground truth when a webhook fires, with one
// exception handled by callers: past_due never suspends access.
func MapRemoteStatus(remote string) enums.SubscriptionStatus {
	switch stripe.SubscriptionStatus(remote) {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return enums.SubscriptionStatusCancelled
	case stripe.SubscriptionStatusIncomplete:
		return enums.SubscriptionStatusPending
	case stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusExpired
	default:
		return enums.SubscriptionStatusPending
	}
}

// mapProcessorSubscription reduces a raw processor subscription to the fields
// the lifecycle engine consumes. Period boundaries live on the subscription
// item in the current API.
func mapProcessorSubscription(sub *stripe.Subscription) *ProcessorSubscription {
	if sub == nil {
		return nil
	}
	out := &ProcessorSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		out.TrialEnd = &t
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			t := time.Unix(item.CurrentPeriodStart, 0).UTC()
			out.CurrentPeriodStart = &t
		}
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &t
		}
	}
	return out
}
