package licensesync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pro-cess/subscriptions-backend/internal/events"
	"github.com/pro-cess/subscriptions-backend/internal/subscriptions"
	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
	"github.com/pro-cess/subscriptions-backend/pkg/enums"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/licenseapi"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

const consumerName = "license-sync"

// defaultTrialAddon is provisioned alongside trial licenses so trialists see
// the full product. Converting the trial activates it for good; revoking
// cancels it.
const defaultTrialAddon = enums.LicenseAddonRouteOptimization

type licenseGateway interface {
	Enabled() bool
	CreateLicense(ctx context.Context, req licenseapi.CreateLicenseRequest) (string, error)
	UpdateLicense(ctx context.Context, req licenseapi.UpdateLicenseRequest) error
	Addon(ctx context.Context, req licenseapi.AddonRequest) error
}

type subscriptionStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) error
}

type orderStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	AddNote(ctx context.Context, orderID uuid.UUID, note string) error
}

type productStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type ConsumerParams struct {
	Gateway  licenseGateway
	Subs     subscriptionStore
	Orders   orderStore
	Products productStore
	Logger   *logger.Logger
}

// Consumer mirrors subscription lifecycle transitions onto the downstream
// license server. License calls are best effort: a failure is noted on the
// order and logged, never propagated back into the transition that caused it.
type Consumer struct {
	gateway  licenseGateway
	subs     subscriptionStore
	orders   orderStore
	products productStore
	logg     *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "license gateway required")
	}
	if params.Subs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription store required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order store required")
	}
	if params.Products == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "product store required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Consumer{
		gateway:  params.Gateway,
		subs:     params.Subs,
		orders:   params.Orders,
		products: params.Products,
		logg:     params.Logger,
	}, nil
}

// Register subscribes the consumer to every lifecycle event it reacts to.
func (c *Consumer) Register(bus *events.Bus) {
	bus.Subscribe(c,
		events.KindSubscriptionCreated,
		events.KindSubscriptionRenewed,
		events.KindSubscriptionCancelled,
		events.KindSubscriptionEnded,
		events.KindSubscriptionExpired,
		events.KindSubscriptionTrialExpired,
		events.KindSubscriptionStatusChanged,
	)
}

func (c *Consumer) Name() string { return consumerName }

func (c *Consumer) Handle(ctx context.Context, evt events.Event) error {
	switch evt.Kind {
	case events.KindSubscriptionCreated:
		return c.handleCreated(ctx, evt)
	case events.KindSubscriptionRenewed:
		return c.handleRenewed(ctx, evt)
	case events.KindSubscriptionCancelled:
		if !evt.Immediate {
			// Access runs until the paid period ends; maturation suspends it.
			return nil
		}
		return c.suspend(ctx, evt.Subscription, "subscription cancelled")
	case events.KindSubscriptionEnded, events.KindSubscriptionExpired, events.KindSubscriptionTrialExpired:
		return c.suspend(ctx, evt.Subscription, "subscription "+string(evt.Kind))
	case events.KindSubscriptionStatusChanged:
		return c.handleStatusChanged(ctx, evt)
	default:
		return nil
	}
}

func (c *Consumer) handleCreated(ctx context.Context, evt events.Event) error {
	sub := evt.Subscription
	ctx = c.logg.WithSubscriptionID(ctx, sub.ID.String())

	if !c.gateway.Enabled() {
		c.note(ctx, sub.OrderID, "license API key missing, license skipped")
		return nil
	}

	order := evt.Order
	if order == nil {
		loaded, err := c.orders.FindByID(ctx, sub.OrderID)
		if err != nil || loaded == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order for subscription not found")
		}
		order = loaded
	}

	product, err := c.products.FindByID(ctx, sub.ProductID)
	if err != nil {
		return err
	}
	if product == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product for subscription not found")
	}

	req := licenseapi.CreateLicenseRequest{
		Email:          order.BillingEmail,
		CustomerName:   order.BillingName,
		PluginSlug:     product.PluginSlug,
		LicenseType:    product.LicenseType,
		OrderID:        order.ID.String(),
		SubscriptionID: sub.ID.String(),
		StaffLimit:     product.StaffLimit,
	}
	trialing := sub.Status == enums.SubscriptionStatusTrialing && sub.TrialEnd != nil
	if trialing {
		expiry := sub.TrialEnd.UTC().Format(time.RFC3339)
		req.TrialExpiresAt = &expiry
	}

	key, err := c.gateway.CreateLicense(ctx, req)
	if err != nil {
		c.note(ctx, sub.OrderID, fmt.Sprintf("license creation failed: %v", err))
		return err
	}

	stored, err := c.subs.FindByID(ctx, sub.ID)
	if err != nil {
		return err
	}
	if stored != nil {
		stored.LicenseKey = &key
		if err := c.subs.Update(ctx, stored); err != nil {
			return err
		}
	}

	if trialing {
		if err := c.gateway.Addon(ctx, licenseapi.AddonRequest{
			LicenseKey: key,
			AddonType:  defaultTrialAddon,
			Action:     licenseapi.AddonActionSetupTrial,
		}); err != nil {
			c.note(ctx, sub.OrderID, fmt.Sprintf("trial addon setup failed: %v", err))
			return err
		}
	}

	c.logg.Info(ctx, "license provisioned")
	return nil
}

func (c *Consumer) handleRenewed(ctx context.Context, evt events.Event) error {
	sub := evt.Subscription
	if sub.LicenseKey == nil || *sub.LicenseKey == "" {
		return nil
	}
	days := subscriptions.LicenseExtensionDays(sub.BillingPeriod, sub.BillingInterval)
	err := c.gateway.UpdateLicense(ctx, licenseapi.UpdateLicenseRequest{
		LicenseKey: *sub.LicenseKey,
		Status:     enums.LicenseStatusActive,
		ExtendDays: days,
	})
	if err != nil {
		c.note(ctx, sub.OrderID, fmt.Sprintf("license extension failed: %v", err))
		return err
	}
	return nil
}

func (c *Consumer) handleStatusChanged(ctx context.Context, evt events.Event) error {
	sub := evt.Subscription
	switch sub.Status {
	case enums.SubscriptionStatusActive:
		if sub.LicenseKey == nil || *sub.LicenseKey == "" {
			return nil
		}
		err := c.gateway.UpdateLicense(ctx, licenseapi.UpdateLicenseRequest{
			LicenseKey: *sub.LicenseKey,
			Status:     enums.LicenseStatusActive,
		})
		if err != nil {
			c.note(ctx, sub.OrderID, fmt.Sprintf("license activation failed: %v", err))
		}
		return err
	case enums.SubscriptionStatusCancelled, enums.SubscriptionStatusExpired:
		return c.suspend(ctx, sub, "status changed to "+sub.Status.String())
	default:
		// past_due keeps the license alive as a grace period.
		return nil
	}
}

func (c *Consumer) suspend(ctx context.Context, sub models.Subscription, reason string) error {
	if sub.LicenseKey == nil || *sub.LicenseKey == "" {
		return nil
	}
	err := c.gateway.UpdateLicense(ctx, licenseapi.UpdateLicenseRequest{
		LicenseKey: *sub.LicenseKey,
		Status:     enums.LicenseStatusSuspended,
		Reason:     reason,
	})
	if err != nil {
		c.note(ctx, sub.OrderID, fmt.Sprintf("license suspension failed: %v", err))
		return err
	}
	return nil
}

// SetupTrialAddon puts an addon into its trial state on the subscription's
// license. Admin-triggered.
func (c *Consumer) SetupTrialAddon(ctx context.Context, subscriptionID uuid.UUID, addon enums.LicenseAddon, tier string) error {
	key, err := c.requireLicenseKey(ctx, subscriptionID)
	if err != nil {
		return err
	}
	return c.gateway.Addon(ctx, licenseapi.AddonRequest{
		LicenseKey: key,
		AddonType:  addon,
		Action:     licenseapi.AddonActionSetupTrial,
		Tier:       tier,
	})
}

// ConvertTrial promotes a trial license to fully active and activates the
// trial addon. Admin-triggered.
func (c *Consumer) ConvertTrial(ctx context.Context, subscriptionID uuid.UUID, addon enums.LicenseAddon, tier string) error {
	key, err := c.requireLicenseKey(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if err := c.gateway.UpdateLicense(ctx, licenseapi.UpdateLicenseRequest{
		LicenseKey: key,
		Status:     enums.LicenseStatusActive,
	}); err != nil {
		return err
	}
	return c.gateway.Addon(ctx, licenseapi.AddonRequest{
		LicenseKey: key,
		AddonType:  addon,
		Action:     licenseapi.AddonActionActivate,
		Tier:       tier,
	})
}

// ExtendLicense pushes the license expiry out by the given number of days.
// Admin-triggered.
func (c *Consumer) ExtendLicense(ctx context.Context, subscriptionID uuid.UUID, days int) error {
	if days <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "extension days must be positive")
	}
	key, err := c.requireLicenseKey(ctx, subscriptionID)
	if err != nil {
		return err
	}
	return c.gateway.UpdateLicense(ctx, licenseapi.UpdateLicenseRequest{
		LicenseKey: key,
		ExtendDays: days,
	})
}

// Revoke cancels every known addon, then revokes the license itself.
// Admin-triggered; used when a purchase is refunded or abusive.
func (c *Consumer) Revoke(ctx context.Context, subscriptionID uuid.UUID, reason string) error {
	key, err := c.requireLicenseKey(ctx, subscriptionID)
	if err != nil {
		return err
	}
	for _, addon := range []enums.LicenseAddon{enums.LicenseAddonRouteOptimization, enums.LicenseAddonGPT4o} {
		if err := c.gateway.Addon(ctx, licenseapi.AddonRequest{
			LicenseKey: key,
			AddonType:  addon,
			Action:     licenseapi.AddonActionCancel,
		}); err != nil {
			c.logg.Error(ctx, "addon cancel failed during revoke", err)
		}
	}
	return c.gateway.UpdateLicense(ctx, licenseapi.UpdateLicenseRequest{
		LicenseKey: key,
		Status:     enums.LicenseStatusRevoked,
		Reason:     reason,
	})
}

func (c *Consumer) requireLicenseKey(ctx context.Context, subscriptionID uuid.UUID) (string, error) {
	sub, err := c.subs.FindByID(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if sub.LicenseKey == nil || *sub.LicenseKey == "" {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "subscription has no license key")
	}
	return *sub.LicenseKey, nil
}

func (c *Consumer) note(ctx context.Context, orderID uuid.UUID, note string) {
	if err := c.orders.AddNote(ctx, orderID, note); err != nil {
		c.logg.Error(ctx, "failed to add order note", err)
	}
	c.logg.Warn(c.logg.WithOrderID(ctx, orderID.String()), note)
}
