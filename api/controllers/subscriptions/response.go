package subscriptions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
	"github.com/pro-cess/subscriptions-backend/pkg/pagination"
)

type subscriptionResponse struct {
	ID                   uuid.UUID       `json:"id"`
	OrderID              uuid.UUID       `json:"order_id"`
	ProductID            uuid.UUID       `json:"product_id"`
	Status               string          `json:"status"`
	BillingPeriod        string          `json:"billing_period"`
	BillingInterval      int             `json:"billing_interval"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	TrialEnd             *time.Time      `json:"trial_end,omitempty"`
	NextPayment          *time.Time      `json:"next_payment,omitempty"`
	LastPayment          *time.Time      `json:"last_payment,omitempty"`
	CancelledAt          *time.Time      `json:"cancelled_at,omitempty"`
	ExpiresAt            *time.Time      `json:"expires_at,omitempty"`
	HasLicense           bool            `json:"has_license"`
	StripeSubscriptionID *string         `json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type subscriptionListResponse struct {
	Subscriptions []subscriptionResponse `json:"subscriptions"`
	NextCursor    string                 `json:"next_cursor,omitempty"`
}

func newSubscriptionResponse(sub *models.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:                   sub.ID,
		OrderID:              sub.OrderID,
		ProductID:            sub.ProductID,
		Status:               string(sub.Status),
		BillingPeriod:        string(sub.BillingPeriod),
		BillingInterval:      sub.BillingInterval,
		Amount:               sub.Amount,
		Currency:             sub.Currency,
		TrialEnd:             sub.TrialEnd,
		NextPayment:          sub.NextPayment,
		LastPayment:          sub.LastPayment,
		CancelledAt:          sub.CancelledAt,
		ExpiresAt:            sub.ExpiresAt,
		HasLicense:           sub.LicenseKey != nil && *sub.LicenseKey != "",
		StripeSubscriptionID: sub.StripeSubscriptionID,
		CreatedAt:            sub.CreatedAt,
	}
}

func newSubscriptionListResponse(subs []models.Subscription, next *pagination.Cursor) *subscriptionListResponse {
	items := make([]subscriptionResponse, 0, len(subs))
	for i := range subs {
		items = append(items, *newSubscriptionResponse(&subs[i]))
	}
	resp := &subscriptionListResponse{Subscriptions: items}
	if next != nil {
		resp.NextCursor = pagination.EncodeCursor(*next)
	}
	return resp
}
