package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pro-cess/subscriptions-backend/pkg/enums"
)

// Subscription is the local source of truth for a recurring purchase. Remote
// processor and license identifiers are nullable: a row is valid without
// either, and remote failures never block local state.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID                `gorm:"column:order_id;type:uuid;not null;index;uniqueIndex:idx_subscriptions_order_item"`
	OrderItemID          uuid.UUID                `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex:idx_subscriptions_order_item"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	ProductID            uuid.UUID                `gorm:"column:product_id;type:uuid;not null;index"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;index"`
	StripeCustomerID     *string                  `gorm:"column:stripe_customer_id"`
	LicenseKey           *string                  `gorm:"column:license_key"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending';index"`
	BillingPeriod        enums.BillingPeriod      `gorm:"column:billing_period;type:billing_period;not null"`
	BillingInterval      int                      `gorm:"column:billing_interval;not null;default:1"`
	Amount               decimal.Decimal          `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency             string                   `gorm:"column:currency;type:char(3);not null"`
	TrialEnd             *time.Time               `gorm:"column:trial_end"`
	NextPayment          *time.Time               `gorm:"column:next_payment"`
	LastPayment          *time.Time               `gorm:"column:last_payment"`
	CancelledAt          *time.Time               `gorm:"column:cancelled_at"`
	ExpiresAt            *time.Time               `gorm:"column:expires_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
