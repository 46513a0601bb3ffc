package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pro-cess/subscriptions-backend/pkg/enums"
)

// Order is the storefront order subscriptions are provisioned from.
type Order struct {
	ID                     uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status                 enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	Currency               string            `gorm:"column:currency;type:char(3);not null;default:'USD'"`
	BillingEmail           string            `gorm:"column:billing_email;not null"`
	BillingName            string            `gorm:"column:billing_name;not null"`
	StripeCustomerID       *string           `gorm:"column:stripe_customer_id"`
	SubscriptionsProcessed bool              `gorm:"column:subscriptions_processed;not null;default:false"`
	// ReminderSentFor holds the next_payment value the last renewal reminder
	// covered, so a reminder fires once per upcoming charge.
	ReminderSentFor *time.Time  `gorm:"column:reminder_sent_for"`
	Items           []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}
