package subscriptions

import (
	"time"

	"github.com/pro-cess/subscriptions-backend/pkg/enums"
)

// NextPayment advances a billing anchor by one full billing term using
// calendar arithmetic. Renewals advance from the previous scheduled time,
// not from when the payment actually settled, so a late charge does not
// drift the schedule.
func NextPayment(from time.Time, period enums.BillingPeriod, interval int) time.Time {
	if interval < 1 {
		interval = 1
	}
	switch period {
	case enums.BillingPeriodDay:
		return from.AddDate(0, 0, interval)
	case enums.BillingPeriodWeek:
		return from.AddDate(0, 0, 7*interval)
	case enums.BillingPeriodMonth:
		return from.AddDate(0, interval, 0)
	case enums.BillingPeriodYear:
		return from.AddDate(interval, 0, 0)
	default:
		return from.AddDate(0, interval, 0)
	}
}

// TrialEnd computes the trial expiry for a subscription started at from.
func TrialEnd(from time.Time, trialDays int) time.Time {
	if trialDays < 0 {
		trialDays = 0
	}
	return from.AddDate(0, 0, trialDays)
}

// LicenseExtensionDays converts a billing term into the whole-day extension
// the license server expects. This intentionally diverges from the calendar
// arithmetic above (month=30, year=365).
func LicenseExtensionDays(period enums.BillingPeriod, interval int) int {
	if interval < 1 {
		interval = 1
	}
	return period.LicenseDays() * interval
}
