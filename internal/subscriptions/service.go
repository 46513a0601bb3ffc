package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/pro-cess/subscriptions-backend/internal/events"
	"github.com/pro-cess/subscriptions-backend/pkg/db"
	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
	"github.com/pro-cess/subscriptions-backend/pkg/enums"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
	"github.com/pro-cess/subscriptions-backend/pkg/pagination"
)

type orderRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkSubscriptionsProcessed(ctx context.Context, id uuid.UUID) error
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
	SetReminderSentFor(ctx context.Context, id uuid.UUID, nextPayment time.Time) error
	AddNote(ctx context.Context, orderID uuid.UUID, note string) error
}

type productRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	UpdateRemoteIDs(ctx context.Context, id uuid.UUID, productID, priceID *string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventPublisher interface {
	Publish(ctx context.Context, evt events.Event)
}

// Service is the subscription lifecycle engine. Local state is the source of
// truth: processor calls are best-effort and their failures become order
// notes, never aborted transitions.
type Service interface {
	CreateForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Subscription, error)
	Renew(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID, immediate bool) (*models.Subscription, error)
	HandleRemoteStatus(ctx context.Context, stripeSubID string, remote RemoteUpdate) (*models.Subscription, error)
	HandleRemoteDeleted(ctx context.Context, stripeSubID string) (*models.Subscription, error)
	MarkPastDue(ctx context.Context, stripeSubID string) (*models.Subscription, error)
	NotifyTrialEnding(ctx context.Context, stripeSubID string) error
	SetStatus(ctx context.Context, id uuid.UUID, status enums.SubscriptionStatus) (*models.Subscription, error)
	Purge(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error)
	List(ctx context.Context, query ListQuery) ([]models.Subscription, *pagination.Cursor, error)

	ExpireMissedRenewals(ctx context.Context, batch int) (int, error)
	ExpireLapsedTrials(ctx context.Context, batch int) (int, error)
	MatureCancellations(ctx context.Context, batch int) (int, error)
	SendRenewalReminders(ctx context.Context, lead time.Duration, batch int) (int, error)
}

// ServiceParams groups dependencies for the lifecycle engine. Gateway may be
// nil when no processor is configured; every remote interaction is skipped
// with a note in that mode.
type ServiceParams struct {
	Repo              Repository
	OrderRepo         orderRepository
	ProductRepo       productRepository
	Gateway           ProcessorGateway
	Bus               eventPublisher
	Logger            *logger.Logger
	TransactionRunner txRunner
	Now               func() time.Time
}

type service struct {
	repo        Repository
	orderRepo   orderRepository
	productRepo productRepository
	gateway     ProcessorGateway
	bus         eventPublisher
	logg        *logger.Logger
	txRunner    txRunner
	now         func() time.Time
}

// NewService builds the lifecycle engine with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repo required")
	}
	if params.OrderRepo == nil {
		return nil, fmt.Errorf("order repo required")
	}
	if params.ProductRepo == nil {
		return nil, fmt.Errorf("product repo required")
	}
	if params.Bus == nil {
		return nil, fmt.Errorf("event bus required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:        params.Repo,
		orderRepo:   params.OrderRepo,
		productRepo: params.ProductRepo,
		gateway:     params.Gateway,
		bus:         params.Bus,
		logg:        params.Logger,
		txRunner:    params.TransactionRunner,
		now:         now,
	}, nil
}

// CreateForOrder provisions one subscription per subscription line item on a
// paid order. Safe to invoke repeatedly: existing (order, item) rows and the
// order's processed flag both short-circuit.
func (s *service) CreateForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Subscription, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.orderRepo.FindByIDWithItems(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if !order.Status.IsPaid() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order status %s is not billable", order.Status))
	}
	if order.SubscriptionsProcessed {
		s.logg.Info(ctx, "order already processed, skipping")
		return nil, nil
	}

	var created []models.Subscription
	for i := range order.Items {
		item := order.Items[i]
		if !item.IsSubscription {
			continue
		}
		sub, err := s.createForItem(ctx, order, &item)
		if err != nil {
			return created, err
		}
		if sub != nil {
			created = append(created, *sub)
		}
	}

	if err := s.orderRepo.MarkSubscriptionsProcessed(ctx, order.ID); err != nil {
		return created, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order processed")
	}

	for i := range created {
		s.bus.Publish(ctx, events.Event{
			Kind:         events.KindSubscriptionCreated,
			Subscription: created[i],
			Order:        order,
			Item:         findItem(order, created[i].OrderItemID),
			OccurredAt:   s.now(),
		})
	}
	return created, nil
}

func (s *service) createForItem(ctx context.Context, order *models.Order, item *models.OrderItem) (*models.Subscription, error) {
	existing, err := s.repo.FindByOrderItem(ctx, order.ID, item.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "duplicate check")
	}
	if existing != nil {
		return nil, nil
	}

	blocking, err := s.repo.HasBlockingForProduct(ctx, order.UserID, item.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "repurchase check")
	}
	if blocking {
		s.note(ctx, order.ID, fmt.Sprintf("subscription for item %q skipped: user already holds one for this product", item.Name))
		return nil, nil
	}

	period := enums.BillingPeriodMonth
	if item.BillingPeriod != nil {
		period = *item.BillingPeriod
	}
	interval := item.BillingInterval
	if interval < 1 {
		interval = 1
	}

	now := s.now()
	sub := &models.Subscription{
		ID:              uuid.New(),
		OrderID:         order.ID,
		OrderItemID:     item.ID,
		UserID:          order.UserID,
		ProductID:       item.ProductID,
		Status:          enums.SubscriptionStatusActive,
		BillingPeriod:   period,
		BillingInterval: interval,
		Amount:          item.Price,
		Currency:        order.Currency,
	}
	if item.TrialDays > 0 {
		trialEnd := TrialEnd(now, item.TrialDays)
		sub.Status = enums.SubscriptionStatusTrialing
		sub.TrialEnd = &trialEnd
		sub.NextPayment = &trialEnd
	} else {
		next := NextPayment(now, period, interval)
		sub.NextPayment = &next
		sub.LastPayment = &now
	}

	s.provisionRemote(ctx, order, item, sub)
	// Without remote backing there is nothing to charge against; the record
	// waits as pending unless it rides a trial window.
	if sub.StripeSubscriptionID == nil && sub.Status == enums.SubscriptionStatusActive {
		sub.Status = enums.SubscriptionStatusPending
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		raced, err := txRepo.FindByOrderItem(ctx, order.ID, item.ID)
		if err != nil {
			return err
		}
		if raced != nil {
			sub = raced
			return nil
		}
		return txRepo.Create(ctx, sub)
	})
	if db.IsUniqueViolation(err, "idx_subscriptions_order_item") {
		// Lost a provisioning race; the winner's row is the subscription.
		existing, findErr := s.repo.FindByOrderItem(ctx, order.ID, item.ID)
		if findErr == nil && existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
	}
	return sub, nil
}

// provisionRemote opens the processor-side subscription. Every failure is a
// note plus a log line; the local record is created regardless and repaired
// later by reconciliation or an operator.
func (s *service) provisionRemote(ctx context.Context, order *models.Order, item *models.OrderItem, sub *models.Subscription) {
	if s.gateway == nil {
		s.note(ctx, order.ID, fmt.Sprintf("processor not configured, subscription for %q created without remote backing", item.Name))
		return
	}

	customerID, err := s.gateway.EnsureCustomer(ctx, order.BillingEmail, order.BillingName, order.StripeCustomerID)
	if err != nil {
		s.remoteFailure(ctx, order.ID, "ensure processor customer", err)
		return
	}
	if order.StripeCustomerID == nil || *order.StripeCustomerID != customerID {
		if err := s.orderRepo.SetStripeCustomerID(ctx, order.ID, customerID); err != nil {
			s.logg.Error(ctx, "cache processor customer id", err)
		}
		order.StripeCustomerID = &customerID
	}

	product, err := s.productRepo.FindByID(ctx, item.ProductID)
	if err != nil {
		s.remoteFailure(ctx, order.ID, "load product", err)
		return
	}
	priceInput := EnsurePriceInput{
		ProductName: item.Name,
		Amount:      item.Price,
		Currency:    order.Currency,
		Period:      sub.BillingPeriod,
		Interval:    sub.BillingInterval,
	}
	if product != nil {
		priceInput.CachedProductID = product.StripeProductID
		priceInput.CachedPriceID = product.StripePriceID
	}
	priceResult, err := s.gateway.EnsurePrice(ctx, priceInput)
	if err != nil {
		s.remoteFailure(ctx, order.ID, "ensure processor price", err)
		return
	}
	if product != nil {
		if err := s.productRepo.UpdateRemoteIDs(ctx, product.ID, &priceResult.ProductID, &priceResult.PriceID); err != nil {
			s.logg.Error(ctx, "cache processor price id", err)
		}
	}

	remote, err := s.gateway.CreateSubscription(ctx, ProcessorSubscriptionInput{
		CustomerID:      customerID,
		PriceID:         priceResult.PriceID,
		TrialDays:       item.TrialDays,
		PaymentBehavior: PaymentBehaviorInvoice,
		Metadata: map[string]string{
			"order_id":      order.ID.String(),
			"order_item_id": item.ID.String(),
		},
	})
	if err != nil {
		s.remoteFailure(ctx, order.ID, "create processor subscription", err)
		return
	}

	sub.StripeSubscriptionID = &remote.ID
	sub.StripeCustomerID = &customerID
	if remote.TrialEnd != nil {
		sub.TrialEnd = remote.TrialEnd
		if sub.Status == enums.SubscriptionStatusTrialing {
			sub.NextPayment = remote.TrialEnd
		}
	}
}

// Renew advances the billing anchor by exactly one term computed from the
// previous next_payment, so late webhook delivery never drifts the schedule.
func (s *service) Renew(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}

	var (
		snapshot models.Subscription
		previous enums.SubscriptionStatus
	)
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		sub, err := txRepo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot renew %s subscription", sub.Status))
		}
		// Reactivating here would desync from the processor, which still has
		// the period-end cancel scheduled.
		if sub.Status == enums.SubscriptionStatusPendingCancel {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is scheduled for cancellation")
		}

		now := s.now()
		anchor := now
		if sub.NextPayment != nil {
			anchor = *sub.NextPayment
		}
		next := NextPayment(anchor, sub.BillingPeriod, sub.BillingInterval)

		previous = sub.Status
		sub.Status = enums.SubscriptionStatusActive
		sub.NextPayment = &next
		sub.LastPayment = &now
		if err := txRepo.Update(ctx, sub); err != nil {
			return err
		}
		snapshot = *sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.Event{
		Kind:           events.KindSubscriptionRenewed,
		Subscription:   snapshot,
		PreviousStatus: previous,
		OccurredAt:     s.now(),
	})
	return &snapshot, nil
}

// Cancel applies the cancellation rules. Trials always cancel the remote
// subscription immediately; the local record still rides out the trial window
// unless immediate is set.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, immediate bool) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	ctx = s.logg.WithSubscriptionID(ctx, id.String())

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if current == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if current.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("subscription already %s", current.Status))
	}

	s.cancelRemote(ctx, current, immediate)

	var (
		snapshot models.Subscription
		previous enums.SubscriptionStatus
	)
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		sub, err := txRepo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status.IsTerminal() {
			snapshot = *sub
			previous = sub.Status
			return nil
		}

		now := s.now()
		previous = sub.Status
		sub.CancelledAt = &now
		switch {
		case immediate:
			sub.Status = enums.SubscriptionStatusCancelled
			sub.ExpiresAt = &now
		case previous == enums.SubscriptionStatusTrialing:
			sub.Status = enums.SubscriptionStatusPendingCancel
			sub.ExpiresAt = coalesceTime(sub.TrialEnd, now)
		default:
			sub.Status = enums.SubscriptionStatusPendingCancel
			sub.ExpiresAt = coalesceTime(sub.NextPayment, now)
		}
		if err := txRepo.Update(ctx, sub); err != nil {
			return err
		}
		snapshot = *sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.Event{
		Kind:           events.KindSubscriptionCancelled,
		Subscription:   snapshot,
		PreviousStatus: previous,
		Immediate:      immediate,
		OccurredAt:     s.now(),
	})
	return &snapshot, nil
}

func (s *service) cancelRemote(ctx context.Context, sub *models.Subscription, immediate bool) {
	if s.gateway == nil || sub.StripeSubscriptionID == nil || strings.TrimSpace(*sub.StripeSubscriptionID) == "" {
		return
	}
	remoteID := *sub.StripeSubscriptionID

	var err error
	// No partial trial billing: a trial's remote subscription always dies now.
	if immediate || sub.Status == enums.SubscriptionStatusTrialing {
		err = s.gateway.CancelNow(ctx, remoteID)
	} else {
		err = s.gateway.CancelAtPeriodEnd(ctx, remoteID)
	}
	if err != nil {
		s.remoteFailure(ctx, sub.OrderID, fmt.Sprintf("cancel processor subscription %s", remoteID), err)
	}
}

// HandleRemoteStatus reconciles the local record with the processor's view.
// Terminal local states win over late webhooks.
func (s *service) HandleRemoteStatus(ctx context.Context, stripeSubID string, remote RemoteUpdate) (*models.Subscription, error) {
	current, err := s.requireByStripeID(ctx, stripeSubID)
	if err != nil {
		return nil, err
	}

	var (
		snapshot models.Subscription
		previous enums.SubscriptionStatus
		changed  bool
	)
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		sub, err := txRepo.FindByIDForUpdate(ctx, current.ID)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status.IsTerminal() {
			snapshot = *sub
			return nil
		}

		previous = sub.Status
		mapped := MapRemoteStatus(remote.Status)
		if remote.CancelAtPeriodEnd && !mapped.IsTerminal() {
			mapped = enums.SubscriptionStatusPendingCancel
			sub.ExpiresAt = coalesceTime(remote.CurrentPeriodEnd, s.now())
		}
		if remote.CurrentPeriodEnd != nil {
			sub.NextPayment = remote.CurrentPeriodEnd
		}
		if mapped != sub.Status {
			sub.Status = mapped
			changed = true
		}
		if err := txRepo.Update(ctx, sub); err != nil {
			return err
		}
		snapshot = *sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.bus.Publish(ctx, events.Event{
			Kind:           events.KindSubscriptionStatusChanged,
			Subscription:   snapshot,
			PreviousStatus: previous,
			OccurredAt:     s.now(),
		})
	}
	return &snapshot, nil
}

// HandleRemoteDeleted terminally cancels the local record when the processor
// reports the subscription gone.
func (s *service) HandleRemoteDeleted(ctx context.Context, stripeSubID string) (*models.Subscription, error) {
	current, err := s.requireByStripeID(ctx, stripeSubID)
	if err != nil {
		return nil, err
	}

	var (
		snapshot models.Subscription
		previous enums.SubscriptionStatus
		changed  bool
	)
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		sub, err := txRepo.FindByIDForUpdate(ctx, current.ID)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status.IsTerminal() {
			snapshot = *sub
			return nil
		}

		now := s.now()
		previous = sub.Status
		sub.Status = enums.SubscriptionStatusCancelled
		sub.CancelledAt = &now
		if sub.ExpiresAt == nil {
			sub.ExpiresAt = &now
		}
		if err := txRepo.Update(ctx, sub); err != nil {
			return err
		}
		snapshot = *sub
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.bus.Publish(ctx, events.Event{
			Kind:           events.KindSubscriptionEnded,
			Subscription:   snapshot,
			PreviousStatus: previous,
			OccurredAt:     s.now(),
		})
	}
	return &snapshot, nil
}

// MarkPastDue records a failed payment. Access is not suspended; past_due is
// a grace state.
func (s *service) MarkPastDue(ctx context.Context, stripeSubID string) (*models.Subscription, error) {
	current, err := s.requireByStripeID(ctx, stripeSubID)
	if err != nil {
		return nil, err
	}

	var (
		snapshot models.Subscription
		previous enums.SubscriptionStatus
		changed  bool
	)
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		sub, err := txRepo.FindByIDForUpdate(ctx, current.ID)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status.IsTerminal() || sub.Status == enums.SubscriptionStatusPastDue {
			snapshot = *sub
			return nil
		}

		previous = sub.Status
		sub.Status = enums.SubscriptionStatusPastDue
		if err := txRepo.Update(ctx, sub); err != nil {
			return err
		}
		snapshot = *sub
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.bus.Publish(ctx, events.Event{
			Kind:           events.KindSubscriptionPaymentFailed,
			Subscription:   snapshot,
			PreviousStatus: previous,
			OccurredAt:     s.now(),
		})
	}
	return &snapshot, nil
}

// NotifyTrialEnding relays the processor's trial-will-end notice to
// consumers. No local mutation.
func (s *service) NotifyTrialEnding(ctx context.Context, stripeSubID string) error {
	current, err := s.requireByStripeID(ctx, stripeSubID)
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, events.Event{
		Kind:         events.KindSubscriptionTrialEnding,
		Subscription: *current,
		OccurredAt:   s.now(),
	})
	return nil
}

// SetStatus is the administrative escape hatch: any status, any time, only a
// status-changed event.
func (s *service) SetStatus(ctx context.Context, id uuid.UUID, status enums.SubscriptionStatus) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", status))
	}

	var (
		snapshot models.Subscription
		previous enums.SubscriptionStatus
		changed  bool
	)
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		sub, err := txRepo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status == status {
			snapshot = *sub
			return nil
		}
		previous = sub.Status
		sub.Status = status
		if err := txRepo.Update(ctx, sub); err != nil {
			return err
		}
		snapshot = *sub
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.bus.Publish(ctx, events.Event{
			Kind:           events.KindSubscriptionStatusChanged,
			Subscription:   snapshot,
			PreviousStatus: previous,
			OccurredAt:     s.now(),
		})
	}
	return &snapshot, nil
}

// Purge removes the record unconditionally. No state machine, no events.
func (s *service) Purge(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge subscription")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *service) GetByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error) {
	return s.requireByStripeID(ctx, stripeSubID)
}

func (s *service) List(ctx context.Context, query ListQuery) ([]models.Subscription, *pagination.Cursor, error) {
	subs, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return subs, next, nil
}

// ExpireMissedRenewals is sweep pass 1: remote-absent active rows whose
// next_payment lapsed are expired. Remote-linked rows belong to webhooks.
func (s *service) ExpireMissedRenewals(ctx context.Context, batch int) (int, error) {
	subs, err := s.repo.ListMissedRenewals(ctx, s.now(), batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list missed renewals")
	}
	return s.expireAll(ctx, subs, events.KindSubscriptionExpired, func(sub *models.Subscription, now time.Time) bool {
		return sub.Status == enums.SubscriptionStatusActive &&
			remoteAbsent(sub) &&
			sub.NextPayment != nil && sub.NextPayment.Before(now)
	})
}

// ExpireLapsedTrials is sweep pass 2: the safety net for trials no processor
// will ever convert.
func (s *service) ExpireLapsedTrials(ctx context.Context, batch int) (int, error) {
	subs, err := s.repo.ListExpiredTrials(ctx, s.now(), batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired trials")
	}
	return s.expireAll(ctx, subs, events.KindSubscriptionTrialExpired, func(sub *models.Subscription, now time.Time) bool {
		return sub.Status == enums.SubscriptionStatusTrialing &&
			remoteAbsent(sub) &&
			sub.TrialEnd != nil && sub.TrialEnd.Before(now)
	})
}

// MatureCancellations is sweep pass 3: pending-cancel rows whose paid window
// elapsed become cancelled.
func (s *service) MatureCancellations(ctx context.Context, batch int) (int, error) {
	subs, err := s.repo.ListMaturedPendingCancels(ctx, s.now(), batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list matured pending cancels")
	}

	var (
		matured int
		errs    error
	)
	for i := range subs {
		snapshot, previous, changed, err := s.transition(ctx, subs[i].ID, func(sub *models.Subscription) bool {
			if sub.Status != enums.SubscriptionStatusPendingCancel {
				return false
			}
			now := s.now()
			sub.Status = enums.SubscriptionStatusCancelled
			if sub.CancelledAt == nil {
				sub.CancelledAt = &now
			}
			return true
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if changed {
			matured++
			s.bus.Publish(ctx, events.Event{
				Kind:           events.KindSubscriptionEnded,
				Subscription:   snapshot,
				PreviousStatus: previous,
				OccurredAt:     s.now(),
			})
		}
	}
	return matured, errs
}

// SendRenewalReminders is sweep pass 4. Dedup key is the order's
// reminder_sent_for value: one reminder per distinct next_payment.
func (s *service) SendRenewalReminders(ctx context.Context, lead time.Duration, batch int) (int, error) {
	subs, err := s.repo.ListUpcomingRenewals(ctx, s.now(), lead, batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list upcoming renewals")
	}

	var (
		sent int
		errs error
	)
	for i := range subs {
		sub := subs[i]
		if sub.NextPayment == nil {
			continue
		}
		order, err := s.orderRepo.FindByID(ctx, sub.OrderID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if order == nil {
			continue
		}
		if order.ReminderSentFor != nil && order.ReminderSentFor.Equal(*sub.NextPayment) {
			continue
		}
		if err := s.orderRepo.SetReminderSentFor(ctx, order.ID, *sub.NextPayment); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sent++
		s.bus.Publish(ctx, events.Event{
			Kind:         events.KindSubscriptionRenewalReminder,
			Subscription: sub,
			Order:        order,
			OccurredAt:   s.now(),
		})
	}
	return sent, errs
}

// expireAll stamps each listed row expired. The list query ran without a
// lock, so eligible re-evaluates the pass predicate against the locked row;
// a row another writer moved on (a period-end cancel, a remote link, a paid
// invoice) is left alone rather than overridden.
func (s *service) expireAll(ctx context.Context, subs []models.Subscription, kind events.Kind, eligible func(*models.Subscription, time.Time) bool) (int, error) {
	var (
		expired int
		errs    error
	)
	for i := range subs {
		snapshot, previous, changed, err := s.transition(ctx, subs[i].ID, func(sub *models.Subscription) bool {
			now := s.now()
			if !eligible(sub, now) {
				return false
			}
			sub.Status = enums.SubscriptionStatusExpired
			if sub.ExpiresAt == nil {
				sub.ExpiresAt = &now
			}
			return true
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if changed {
			expired++
			s.bus.Publish(ctx, events.Event{
				Kind:           kind,
				Subscription:   snapshot,
				PreviousStatus: previous,
				OccurredAt:     s.now(),
			})
		}
	}
	return expired, errs
}

func remoteAbsent(sub *models.Subscription) bool {
	return sub.StripeSubscriptionID == nil || strings.TrimSpace(*sub.StripeSubscriptionID) == ""
}

// transition re-reads the row under lock and applies fn; fn returns false to
// abandon the change (another writer got there first).
func (s *service) transition(ctx context.Context, id uuid.UUID, fn func(*models.Subscription) bool) (models.Subscription, enums.SubscriptionStatus, bool, error) {
	var (
		snapshot models.Subscription
		previous enums.SubscriptionStatus
		changed  bool
	)
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		sub, err := txRepo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return nil
		}
		previous = sub.Status
		if !fn(sub) {
			return nil
		}
		if err := txRepo.Update(ctx, sub); err != nil {
			return err
		}
		snapshot = *sub
		changed = true
		return nil
	})
	return snapshot, previous, changed, err
}

func (s *service) requireByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error) {
	if strings.TrimSpace(stripeSubID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor subscription id is required")
	}
	sub, err := s.repo.FindByStripeID(ctx, strings.TrimSpace(stripeSubID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *service) remoteFailure(ctx context.Context, orderID uuid.UUID, op string, err error) {
	s.logg.Error(ctx, op, err)
	s.note(ctx, orderID, fmt.Sprintf("%s failed: %v", op, err))
}

func (s *service) note(ctx context.Context, orderID uuid.UUID, note string) {
	if err := s.orderRepo.AddNote(ctx, orderID, note); err != nil {
		s.logg.Error(ctx, "append order note", err)
	}
}

func findItem(order *models.Order, itemID uuid.UUID) *models.OrderItem {
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			return &order.Items[i]
		}
	}
	return nil
}

func coalesceTime(t *time.Time, fallback time.Time) *time.Time {
	if t != nil {
		return t
	}
	return &fallback
}
