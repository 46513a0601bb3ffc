package events

import (
	"context"
	"fmt"
	"time"

	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
	"github.com/pro-cess/subscriptions-backend/pkg/enums"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindSubscriptionCreated         Kind = "subscription_created"
	KindSubscriptionRenewed         Kind = "subscription_renewed"
	KindSubscriptionCancelled       Kind = "subscription_cancelled"
	KindSubscriptionEnded           Kind = "subscription_ended"
	KindSubscriptionExpired         Kind = "subscription_expired"
	KindSubscriptionTrialExpired    Kind = "subscription_trial_expired"
	KindSubscriptionStatusChanged   Kind = "subscription_status_changed"
	KindSubscriptionPaymentFailed   Kind = "subscription_payment_failed"
	KindSubscriptionTrialEnding     Kind = "subscription_trial_ending"
	KindSubscriptionRenewalReminder Kind = "subscription_renewal_reminder"
)

// Event is the payload handed to subscribers. Subscription is a snapshot
// taken after the transition committed; Order and Item are attached when the
// publisher already holds them, and may be nil otherwise.
type Event struct {
	Kind           Kind
	Subscription   models.Subscription
	Order          *models.Order
	Item           *models.OrderItem
	PreviousStatus enums.SubscriptionStatus
	Immediate      bool
	OccurredAt     time.Time
}

// Handler consumes events. Returned errors are logged and swallowed; a
// failing consumer never aborts the publishing transition nor the remaining
// consumers.
type Handler interface {
	Name() string
	Handle(ctx context.Context, evt Event) error
}

// Bus is a synchronous in-process dispatcher. Handlers run inline on the
// publishing goroutine, in registration order per kind. There is no
// durability; the daily sweep re-derives any downstream state a crashed
// consumer missed.
type Bus struct {
	logg     *logger.Logger
	handlers map[Kind][]Handler
}

// NewBus constructs an empty bus.
func NewBus(logg *logger.Logger) (*Bus, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Bus{
		logg:     logg,
		handlers: make(map[Kind][]Handler),
	}, nil
}

// Subscribe registers a handler for the given kinds.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) {
	if h == nil {
		return
	}
	for _, kind := range kinds {
		b.handlers[kind] = append(b.handlers[kind], h)
	}
}

// Publish dispatches the event to every handler registered for its kind.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	ctx = b.logg.WithFields(ctx, map[string]any{
		"event_kind":      string(evt.Kind),
		"subscription_id": evt.Subscription.ID.String(),
	})

	for _, h := range b.handlers[evt.Kind] {
		if err := h.Handle(ctx, evt); err != nil {
			b.logg.Error(b.logg.WithField(ctx, "handler", h.Name()), "event handler failed", err)
		}
	}
}
