package notifications

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pro-cess/subscriptions-backend/internal/events"
	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

type captureMailer struct {
	sent []Message
}

func (m *captureMailer) Send(ctx context.Context, msg Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type stubOrders struct {
	orders map[uuid.UUID]*models.Order
}

func (s *stubOrders) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.orders[id], nil
}

func newConsumerFixture(t *testing.T, orders *stubOrders) (*Consumer, *captureMailer) {
	t.Helper()
	if orders == nil {
		orders = &stubOrders{orders: map[uuid.UUID]*models.Order{}}
	}
	mailer := &captureMailer{}
	consumer, err := NewConsumer(ConsumerParams{
		Mailer: mailer,
		Orders: orders,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewConsumer failed: %v", err)
	}
	return consumer, mailer
}

func TestHandleRenewedSendsReceipt(t *testing.T) {
	order := &models.Order{
		ID:           uuid.New(),
		BillingEmail: "buyer@example.com",
		BillingName:  "Buyer One",
	}
	orders := &stubOrders{orders: map[uuid.UUID]*models.Order{order.ID: order}}
	consumer, mailer := newConsumerFixture(t, orders)

	next := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	err := consumer.Handle(context.Background(), events.Event{
		Kind: events.KindSubscriptionRenewed,
		Subscription: models.Subscription{
			ID:          uuid.New(),
			OrderID:     order.ID,
			Amount:      decimal.NewFromFloat(20.00),
			Currency:    "GBP",
			NextPayment: &next,
		},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.To != "buyer@example.com" || msg.Subject != "Payment received" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !strings.Contains(msg.Body, "20.00 GBP") || !strings.Contains(msg.Body, "June 10, 2025") {
		t.Fatalf("receipt body missing details: %q", msg.Body)
	}
}

func TestHandleCreatedUsesAttachedOrder(t *testing.T) {
	consumer, mailer := newConsumerFixture(t, nil)

	order := &models.Order{
		ID:           uuid.New(),
		BillingEmail: "buyer@example.com",
		BillingName:  "Buyer One",
	}
	item := &models.OrderItem{Name: "Route Planner Pro"}
	err := consumer.Handle(context.Background(), events.Event{
		Kind:         events.KindSubscriptionCreated,
		Subscription: models.Subscription{ID: uuid.New(), OrderID: order.ID},
		Order:        order,
		Item:         item,
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(mailer.sent) != 1 || !strings.Contains(mailer.sent[0].Body, "Route Planner Pro") {
		t.Fatalf("welcome mail missing product name: %v", mailer.sent)
	}
}

func TestHandlePaymentFailedSendsDunning(t *testing.T) {
	order := &models.Order{
		ID:           uuid.New(),
		BillingEmail: "buyer@example.com",
		BillingName:  "Buyer One",
	}
	orders := &stubOrders{orders: map[uuid.UUID]*models.Order{order.ID: order}}
	consumer, mailer := newConsumerFixture(t, orders)

	err := consumer.Handle(context.Background(), events.Event{
		Kind:         events.KindSubscriptionPaymentFailed,
		Subscription: models.Subscription{ID: uuid.New(), OrderID: order.ID},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].Subject != "Payment failed" {
		t.Fatalf("expected dunning mail, got %v", mailer.sent)
	}
}

func TestHandleMissingOrderSkipsQuietly(t *testing.T) {
	consumer, mailer := newConsumerFixture(t, nil)

	err := consumer.Handle(context.Background(), events.Event{
		Kind:         events.KindSubscriptionPaymentFailed,
		Subscription: models.Subscription{ID: uuid.New(), OrderID: uuid.New()},
	})
	if err != nil {
		t.Fatalf("missing order must not error: %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("no mail expected")
	}
}

func TestHandleUnrelatedKindIgnored(t *testing.T) {
	order := &models.Order{
		ID:           uuid.New(),
		BillingEmail: "buyer@example.com",
	}
	orders := &stubOrders{orders: map[uuid.UUID]*models.Order{order.ID: order}}
	consumer, mailer := newConsumerFixture(t, orders)

	err := consumer.Handle(context.Background(), events.Event{
		Kind:         events.KindSubscriptionStatusChanged,
		Subscription: models.Subscription{ID: uuid.New(), OrderID: order.ID},
	})
	if err != nil || len(mailer.sent) != 0 {
		t.Fatalf("status changes do not mail customers")
	}
}
