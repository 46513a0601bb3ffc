package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pro-cess/subscriptions-backend/pkg/enums"
)

// OrderItem is a line on an order. Subscription lines carry a frozen copy of
// the billing terms from purchase time; later catalog edits must not change
// what an existing subscriber is charged.
type OrderItem struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID         uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID       uuid.UUID            `gorm:"column:product_id;type:uuid;not null"`
	Name            string               `gorm:"column:name;not null"`
	IsSubscription  bool                 `gorm:"column:is_subscription;not null;default:false"`
	Price           decimal.Decimal      `gorm:"column:price;type:numeric(12,2);not null"`
	BillingPeriod   *enums.BillingPeriod `gorm:"column:billing_period;type:billing_period"`
	BillingInterval int                  `gorm:"column:billing_interval;not null;default:1"`
	TrialDays       int                  `gorm:"column:trial_days;not null;default:0"`
	PluginSlug      *string              `gorm:"column:plugin_slug"`
	LicenseType     *string              `gorm:"column:license_type"`
}
