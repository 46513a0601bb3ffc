package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pro-cess/subscriptions-backend/internal/events"
	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

const consumerName = "customer-notifications"

type orderStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type ConsumerParams struct {
	Mailer Mailer
	Orders orderStore
	Logger *logger.Logger
}

// Consumer turns lifecycle events into customer email. Every send is best
// effort; failures are logged by the bus and never retried, the customer can
// always see state in their account.
type Consumer struct {
	mailer Mailer
	orders orderStore
	logg   *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Mailer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mailer required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order store required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Consumer{mailer: params.Mailer, orders: params.Orders, logg: params.Logger}, nil
}

// Register subscribes the consumer to the customer-facing events.
func (c *Consumer) Register(bus *events.Bus) {
	bus.Subscribe(c,
		events.KindSubscriptionCreated,
		events.KindSubscriptionRenewed,
		events.KindSubscriptionPaymentFailed,
		events.KindSubscriptionTrialEnding,
		events.KindSubscriptionRenewalReminder,
	)
}

func (c *Consumer) Name() string { return consumerName }

func (c *Consumer) Handle(ctx context.Context, evt events.Event) error {
	order := evt.Order
	if order == nil {
		loaded, err := c.orders.FindByID(ctx, evt.Subscription.OrderID)
		if err != nil {
			return err
		}
		if loaded == nil {
			c.logg.Warn(ctx, "no order for notification, skipping")
			return nil
		}
		order = loaded
	}
	if order.BillingEmail == "" {
		c.logg.Warn(ctx, "order has no billing email, skipping notification")
		return nil
	}

	msg, ok := c.compose(evt, order)
	if !ok {
		return nil
	}
	return c.mailer.Send(ctx, msg)
}

func (c *Consumer) compose(evt events.Event, order *models.Order) (Message, bool) {
	sub := evt.Subscription
	msg := Message{To: order.BillingEmail, ToName: order.BillingName}

	switch evt.Kind {
	case events.KindSubscriptionCreated:
		name := "your subscription"
		if evt.Item != nil {
			name = evt.Item.Name
		}
		msg.Subject = "Your subscription is set up"
		msg.Body = fmt.Sprintf("Hi %s,\n\nThanks for subscribing to %s.", order.BillingName, name)
	case events.KindSubscriptionRenewed:
		msg.Subject = "Payment received"
		msg.Body = fmt.Sprintf("Hi %s,\n\nWe received your payment of %s %s.",
			order.BillingName, sub.Amount.StringFixed(2), sub.Currency)
		if sub.NextPayment != nil {
			msg.Body += fmt.Sprintf(" Your next payment is due %s.", sub.NextPayment.Format("January 2, 2006"))
		}
	case events.KindSubscriptionPaymentFailed:
		msg.Subject = "Payment failed"
		msg.Body = fmt.Sprintf("Hi %s,\n\nWe could not collect your latest subscription payment. "+
			"Please update your payment method to keep your access.", order.BillingName)
	case events.KindSubscriptionTrialEnding:
		msg.Subject = "Your trial is ending soon"
		msg.Body = fmt.Sprintf("Hi %s,\n\nYour trial is about to end.", order.BillingName)
		if sub.TrialEnd != nil {
			msg.Body = fmt.Sprintf("Hi %s,\n\nYour trial ends on %s.",
				order.BillingName, sub.TrialEnd.Format("January 2, 2006"))
		}
	case events.KindSubscriptionRenewalReminder:
		if sub.NextPayment == nil {
			return Message{}, false
		}
		msg.Subject = "Upcoming subscription renewal"
		msg.Body = fmt.Sprintf("Hi %s,\n\nYour subscription renews on %s for %s %s.",
			order.BillingName, sub.NextPayment.Format("January 2, 2006"),
			sub.Amount.StringFixed(2), sub.Currency)
	default:
		return Message{}, false
	}
	return msg, true
}
