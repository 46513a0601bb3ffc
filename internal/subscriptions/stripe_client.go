package subscriptions

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/price"
	"github.com/stripe/stripe-go/v84/product"
	"github.com/stripe/stripe-go/v84/subscription"

	"github.com/pro-cess/subscriptions-backend/pkg/enums"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	pkgstripe "github.com/pro-cess/subscriptions-backend/pkg/stripe"
)

const (
	mutateTimeout = 30 * time.Second
	readTimeout   = 10 * time.Second
)

// EnsurePriceInput describes the billing terms a remote price must carry.
// Amounts come frozen from the order item, not from the live catalog.
type EnsurePriceInput struct {
	ProductName     string
	CachedProductID *string
	CachedPriceID   *string
	Amount          decimal.Decimal
	Currency        string
	Period          enums.BillingPeriod
	Interval        int
}

// EnsurePriceResult returns the remote identifiers to cache locally.
type EnsurePriceResult struct {
	ProductID string
	PriceID   string
}

// ProcessorGateway exposes the subset of processor operations the lifecycle
// engine needs. All calls carry bounded timeouts and are never retried
// in-request; reconciliation is deferred to webhooks and the sweep.
type ProcessorGateway interface {
	EnsureCustomer(ctx context.Context, email, name string, cachedID *string) (string, error)
	EnsurePrice(ctx context.Context, input EnsurePriceInput) (*EnsurePriceResult, error)
	CreateSubscription(ctx context.Context, input ProcessorSubscriptionInput) (*ProcessorSubscription, error)
	CancelNow(ctx context.Context, id string) error
	CancelAtPeriodEnd(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*ProcessorSubscription, error)
}

type stripeGateway struct{}

// NewStripeGateway wraps the initialized Stripe client so the lifecycle
// engine can be tested against a fake.
func NewStripeGateway(api *pkgstripe.Client) ProcessorGateway {
	if api == nil {
		return nil
	}
	return &stripeGateway{}
}

// EnsureCustomer validates the cached customer id against the processor and
// creates a new customer when the cache is empty or stale.
func (g *stripeGateway) EnsureCustomer(ctx context.Context, email, name string, cachedID *string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "billing email is required")
	}

	if cachedID != nil && strings.TrimSpace(*cachedID) != "" {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		existing, err := g.getCustomer(readCtx, strings.TrimSpace(*cachedID))
		cancel()
		if err == nil && existing != nil && !existing.Deleted {
			return existing.ID, nil
		}
		// Stale cache: fall through and create a fresh customer.
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name = strings.TrimSpace(name); name != "" {
		params.Name = stripe.String(name)
	}
	mutCtx, cancel := context.WithTimeout(ctx, mutateTimeout)
	defer cancel()
	params.Context = mutCtx

	created, err := customer.New(params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create processor customer")
	}
	return created.ID, nil
}

// EnsurePrice revalidates cached remote product/price ids and recreates
// whichever no longer matches the frozen billing terms.
func (g *stripeGateway) EnsurePrice(ctx context.Context, input EnsurePriceInput) (*EnsurePriceResult, error) {
	unitAmount := input.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	interval := input.Interval
	if interval < 1 {
		interval = 1
	}

	if input.CachedPriceID != nil && strings.TrimSpace(*input.CachedPriceID) != "" {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		cached, err := g.getPrice(readCtx, strings.TrimSpace(*input.CachedPriceID))
		cancel()
		if err == nil && priceMatches(cached, unitAmount, currency, input.Period, interval) {
			result := &EnsurePriceResult{PriceID: cached.ID}
			if cached.Product != nil {
				result.ProductID = cached.Product.ID
			}
			return result, nil
		}
		// Stale or mismatched price; a new one is created below.
	}

	productID, err := g.ensureProduct(ctx, input.ProductName, input.CachedProductID)
	if err != nil {
		return nil, err
	}

	params := &stripe.PriceParams{
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(unitAmount),
		Currency:   stripe.String(currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(string(stripeInterval(input.Period))),
			IntervalCount: stripe.Int64(int64(interval)),
		},
	}
	mutCtx, cancel := context.WithTimeout(ctx, mutateTimeout)
	defer cancel()
	params.Context = mutCtx

	created, err := price.New(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create processor price")
	}
	return &EnsurePriceResult{ProductID: productID, PriceID: created.ID}, nil
}

func (g *stripeGateway) CreateSubscription(ctx context.Context, input ProcessorSubscriptionInput) (*ProcessorSubscription, error) {
	if strings.TrimSpace(input.CustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor customer id is required")
	}
	if strings.TrimSpace(input.PriceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor price id is required")
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(input.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(input.PriceID)},
		},
		ProrationBehavior: stripe.String("none"),
	}
	if input.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(input.TrialDays))
	}
	if input.BillingAnchor != nil {
		params.BillingCycleAnchor = stripe.Int64(input.BillingAnchor.Unix())
	}
	switch input.PaymentBehavior {
	case PaymentBehaviorInvoice:
		params.PaymentBehavior = stripe.String(string(PaymentBehaviorInvoice))
		params.CollectionMethod = stripe.String(string(stripe.SubscriptionCollectionMethodSendInvoice))
		params.DaysUntilDue = stripe.Int64(7)
	default:
		params.PaymentBehavior = stripe.String(string(PaymentBehaviorDefaultIncomplete))
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}

	mutCtx, cancel := context.WithTimeout(ctx, mutateTimeout)
	defer cancel()
	params.Context = mutCtx

	sub, err := subscription.New(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create processor subscription")
	}
	return mapProcessorSubscription(sub), nil
}

func (g *stripeGateway) CancelNow(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "processor subscription id is required")
	}
	params := &stripe.SubscriptionCancelParams{}
	mutCtx, cancel := context.WithTimeout(ctx, mutateTimeout)
	defer cancel()
	params.Context = mutCtx

	if _, err := subscription.Cancel(id, params); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel processor subscription")
	}
	return nil
}

func (g *stripeGateway) CancelAtPeriodEnd(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "processor subscription id is required")
	}
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	mutCtx, cancel := context.WithTimeout(ctx, mutateTimeout)
	defer cancel()
	params.Context = mutCtx

	if _, err := subscription.Update(id, params); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule processor cancellation")
	}
	return nil
}

func (g *stripeGateway) Get(ctx context.Context, id string) (*ProcessorSubscription, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor subscription id is required")
	}
	params := &stripe.SubscriptionParams{}
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	params.Context = readCtx

	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get processor subscription")
	}
	return mapProcessorSubscription(sub), nil
}

func (g *stripeGateway) ensureProduct(ctx context.Context, name string, cachedID *string) (string, error) {
	if cachedID != nil && strings.TrimSpace(*cachedID) != "" {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		params := &stripe.ProductParams{}
		params.Context = readCtx
		existing, err := product.Get(strings.TrimSpace(*cachedID), params)
		cancel()
		if err == nil && existing != nil && existing.Active {
			return existing.ID, nil
		}
	}

	if name = strings.TrimSpace(name); name == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
	}
	params := &stripe.ProductParams{Name: stripe.String(name)}
	mutCtx, cancel := context.WithTimeout(ctx, mutateTimeout)
	defer cancel()
	params.Context = mutCtx

	created, err := product.New(params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create processor product")
	}
	return created.ID, nil
}

func (g *stripeGateway) getCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return customer.Get(id, params)
}

func (g *stripeGateway) getPrice(ctx context.Context, id string) (*stripe.Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	return price.Get(id, params)
}

func priceMatches(p *stripe.Price, unitAmount int64, currency string, period enums.BillingPeriod, interval int) bool {
	if p == nil || !p.Active || p.Recurring == nil {
		return false
	}
	return p.UnitAmount == unitAmount &&
		strings.EqualFold(string(p.Currency), currency) &&
		p.Recurring.Interval == stripeInterval(period) &&
		p.Recurring.IntervalCount == int64(interval)
}

func stripeInterval(period enums.BillingPeriod) stripe.PriceRecurringInterval {
	switch period {
	case enums.BillingPeriodDay:
		return stripe.PriceRecurringIntervalDay
	case enums.BillingPeriodWeek:
		return stripe.PriceRecurringIntervalWeek
	case enums.BillingPeriodYear:
		return stripe.PriceRecurringIntervalYear
	default:
		return stripe.PriceRecurringIntervalMonth
	}
}
