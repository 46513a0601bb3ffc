package enums

import "fmt"

// BillingPeriod is the unit of a subscription's billing cadence. Combined
// with an interval count it yields terms such as "every 3 months".
type BillingPeriod string

const (
	BillingPeriodDay   BillingPeriod = "day"
	BillingPeriodWeek  BillingPeriod = "week"
	BillingPeriodMonth BillingPeriod = "month"
	BillingPeriodYear  BillingPeriod = "year"
)

var validBillingPeriods = []BillingPeriod{
	BillingPeriodDay,
	BillingPeriodWeek,
	BillingPeriodMonth,
	BillingPeriodYear,
}

// String implements fmt.Stringer.
func (b BillingPeriod) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BillingPeriod.
func (b BillingPeriod) IsValid() bool {
	for _, candidate := range validBillingPeriods {
		if candidate == b {
			return true
		}
	}
	return false
}

// LicenseDays converts one period unit into the day count used when
// extending license expiry. Months count as 30 days and years as 365; the
// license server only understands whole-day extensions, so the calendar
// drift is accepted.
func (b BillingPeriod) LicenseDays() int {
	switch b {
	case BillingPeriodDay:
		return 1
	case BillingPeriodWeek:
		return 7
	case BillingPeriodMonth:
		return 30
	case BillingPeriodYear:
		return 365
	default:
		return 365
	}
}

// ParseBillingPeriod converts raw input into a BillingPeriod.
func ParseBillingPeriod(value string) (BillingPeriod, error) {
	for _, candidate := range validBillingPeriods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing period %q", value)
}
