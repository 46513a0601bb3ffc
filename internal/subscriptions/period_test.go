package subscriptions

import (
	"testing"
	"time"

	"github.com/pro-cess/subscriptions-backend/pkg/enums"
)

func TestNextPaymentCalendarArithmetic(t *testing.T) {
	base := time.Date(2025, time.January, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		period   enums.BillingPeriod
		interval int
		want     time.Time
	}{
		{"one day", enums.BillingPeriodDay, 1, time.Date(2025, time.February, 1, 10, 0, 0, 0, time.UTC)},
		{"two weeks", enums.BillingPeriodWeek, 2, time.Date(2025, time.February, 14, 10, 0, 0, 0, time.UTC)},
		// Jan 31 + 1 month normalizes to Mar 3 (Go AddDate semantics).
		{"one month from jan 31", enums.BillingPeriodMonth, 1, time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)},
		{"one year", enums.BillingPeriodYear, 1, time.Date(2026, time.January, 31, 10, 0, 0, 0, time.UTC)},
		{"zero interval clamps to one", enums.BillingPeriodDay, 0, time.Date(2025, time.February, 1, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextPayment(base, tt.period, tt.interval)
			if !got.Equal(tt.want) {
				t.Fatalf("NextPayment(%s x%d) = %v, want %v", tt.period, tt.interval, got, tt.want)
			}
		})
	}
}

func TestNextPaymentAdvancesFromPreviousAnchor(t *testing.T) {
	anchor := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)

	// Two consecutive monthly renewals stay on the 15th regardless of when
	// payment settled.
	first := NextPayment(anchor, enums.BillingPeriodMonth, 1)
	second := NextPayment(first, enums.BillingPeriodMonth, 1)

	if first.Day() != 15 || second.Day() != 15 {
		t.Fatalf("expected schedule anchored on the 15th, got %v then %v", first, second)
	}
}

func TestLicenseExtensionDaysUsesFlatTable(t *testing.T) {
	tests := []struct {
		period   enums.BillingPeriod
		interval int
		want     int
	}{
		{enums.BillingPeriodDay, 3, 3},
		{enums.BillingPeriodWeek, 2, 14},
		{enums.BillingPeriodMonth, 1, 30},
		{enums.BillingPeriodMonth, 3, 90},
		{enums.BillingPeriodYear, 1, 365},
		{enums.BillingPeriod("bogus"), 1, 365},
	}
	for _, tt := range tests {
		if got := LicenseExtensionDays(tt.period, tt.interval); got != tt.want {
			t.Fatalf("LicenseExtensionDays(%s, %d) = %d, want %d", tt.period, tt.interval, got, tt.want)
		}
	}
}

func TestTrialEnd(t *testing.T) {
	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	if got := TrialEnd(base, 14); !got.Equal(time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected trial end %v", got)
	}
	if got := TrialEnd(base, -1); !got.Equal(base) {
		t.Fatalf("negative trial days should clamp, got %v", got)
	}
}
