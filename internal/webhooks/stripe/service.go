package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/pro-cess/subscriptions-backend/internal/subscriptions"
	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

type subscriptionService interface {
	GetByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error)
	Renew(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	MarkPastDue(ctx context.Context, stripeSubID string) (*models.Subscription, error)
	HandleRemoteStatus(ctx context.Context, stripeSubID string, remote subscriptions.RemoteUpdate) (*models.Subscription, error)
	HandleRemoteDeleted(ctx context.Context, stripeSubID string) (*models.Subscription, error)
	NotifyTrialEnding(ctx context.Context, stripeSubID string) error
}

type idempotencyGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type ServiceParams struct {
	Subscriptions subscriptionService
	// Guard is optional; without it every delivery is processed. Handlers are
	// idempotent, so duplicates cost a no-op transition rather than corruption.
	Guard  idempotencyGuard
	Logger *logger.Logger
}

// Service reconciles processor webhook events into local subscription state.
type Service struct {
	subs  subscriptionService
	guard idempotencyGuard
	logg  *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		subs:  params.Subscriptions,
		guard: params.Guard,
		logg:  params.Logger,
	}, nil
}

// HandleEvent dispatches one webhook event. The boolean reports whether the
// event type is one we act on; unknown types are acknowledged without work so
// the processor stops retrying them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (bool, error) {
	if event == nil || event.Data == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "event data required")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	if s.guard != nil && event.ID != "" {
		seen, err := s.guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			// Degrade to at-least-once rather than dropping deliveries.
			s.logg.Error(ctx, "idempotency check failed, processing anyway", err)
		} else if seen {
			s.logg.Info(ctx, "duplicate webhook delivery skipped")
			return true, nil
		}
	}

	handled, err := s.dispatch(ctx, event)
	if err != nil && s.guard != nil && event.ID != "" {
		// Unmark so the processor's retry is not swallowed as a duplicate.
		if delErr := s.guard.Delete(ctx, event.ID); delErr != nil {
			s.logg.Error(ctx, "failed to release idempotency mark", delErr)
		}
	}
	return handled, err
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (bool, error) {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionUpdated:
		remoteSub, err := decodeSubscription(event)
		if err != nil {
			return true, err
		}
		_, err = s.subs.HandleRemoteStatus(ctx, remoteSub.ID, remoteUpdateFromStripe(remoteSub))
		return true, s.ignoreUnknownSubscription(ctx, err)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		remoteSub, err := decodeSubscription(event)
		if err != nil {
			return true, err
		}
		_, err = s.subs.HandleRemoteDeleted(ctx, remoteSub.ID)
		return true, s.ignoreUnknownSubscription(ctx, err)

	case stripe.EventTypeCustomerSubscriptionTrialWillEnd:
		remoteSub, err := decodeSubscription(event)
		if err != nil {
			return true, err
		}
		return true, s.ignoreUnknownSubscription(ctx, s.subs.NotifyTrialEnding(ctx, remoteSub.ID))

	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded:
		return true, s.renewFromInvoice(ctx, event)

	case stripe.EventTypeInvoicePaymentFailed:
		subscriptionID := event.GetObjectValue("subscription")
		if subscriptionID == "" {
			s.logg.Info(ctx, "invoice event without subscription, ignoring")
			return true, nil
		}
		_, err := s.subs.MarkPastDue(ctx, subscriptionID)
		return true, s.ignoreUnknownSubscription(ctx, err)

	default:
		return false, nil
	}
}

func (s *Service) renewFromInvoice(ctx context.Context, event *stripe.Event) error {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		// One-off invoices carry no subscription.
		s.logg.Info(ctx, "invoice event without subscription, ignoring")
		return nil
	}

	sub, err := s.subs.GetByStripeID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		s.logg.Warn(s.logg.WithField(ctx, "stripe_subscription_id", subscriptionID), "payment for unknown subscription, ignoring")
		return nil
	}

	if _, err := s.subs.Renew(ctx, sub.ID); err != nil {
		// A late invoice for a terminal or pending-cancel subscription is a
		// no-op; the scheduled cancel stands.
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeStateConflict {
			s.logg.Warn(ctx, "payment event for non-renewable subscription, ignoring")
			return nil
		}
		return err
	}
	return nil
}

// ignoreUnknownSubscription downgrades not-found reconciliation errors to a
// warning. Events can outlive purged rows; retrying will never succeed.
func (s *Service) ignoreUnknownSubscription(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeNotFound {
		s.logg.Warn(ctx, "webhook for unknown subscription, ignoring")
		return nil
	}
	return err
}

func decodeSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var remoteSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remoteSub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if remoteSub.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	return &remoteSub, nil
}

func remoteUpdateFromStripe(remoteSub *stripe.Subscription) subscriptions.RemoteUpdate {
	update := subscriptions.RemoteUpdate{
		Status:            string(remoteSub.Status),
		CancelAtPeriodEnd: remoteSub.CancelAtPeriodEnd,
	}
	if remoteSub.Items != nil && len(remoteSub.Items.Data) > 0 {
		item := remoteSub.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			start := time.Unix(item.CurrentPeriodStart, 0).UTC()
			update.CurrentPeriodStart = &start
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			update.CurrentPeriodEnd = &end
		}
	}
	return update
}
