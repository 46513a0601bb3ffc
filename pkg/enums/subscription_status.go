package enums

import "fmt"

// SubscriptionStatus is the local lifecycle state of a subscription. It is
// deliberately narrower than the processor's state set; remote states are
// collapsed onto these values before persisting.
type SubscriptionStatus string

const (
	SubscriptionStatusPending       SubscriptionStatus = "pending"
	SubscriptionStatusTrialing      SubscriptionStatus = "trialing"
	SubscriptionStatusActive        SubscriptionStatus = "active"
	SubscriptionStatusPastDue       SubscriptionStatus = "past_due"
	SubscriptionStatusPendingCancel SubscriptionStatus = "pending-cancel"
	SubscriptionStatusCancelled     SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired       SubscriptionStatus = "expired"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPending,
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusPendingCancel,
	SubscriptionStatusCancelled,
	SubscriptionStatusExpired,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions apart
// from an unconditional purge.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

// BlocksRepurchase reports whether an existing subscription in this status
// prevents the same product from being purchased again. past_due does not
// block; the customer keeps access during the grace window and may re-buy.
func (s SubscriptionStatus) BlocksRepurchase() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPendingCancel:
		return true
	default:
		return false
	}
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}
