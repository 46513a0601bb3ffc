package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
	"github.com/pro-cess/subscriptions-backend/pkg/enums"
	"github.com/pro-cess/subscriptions-backend/pkg/pagination"
)

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	// FindByIDForUpdate locks the row for the remainder of the transaction.
	// Outside a transaction it behaves like FindByID.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByOrderItem(ctx context.Context, orderID, orderItemID uuid.UUID) (*models.Subscription, error)
	FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	List(ctx context.Context, query ListQuery) ([]models.Subscription, *pagination.Cursor, error)
	HasBlockingForProduct(ctx context.Context, userID, productID uuid.UUID) (bool, error)
	ListMissedRenewals(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListMaturedPendingCancels(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListUpcomingRenewals(ctx context.Context, now time.Time, within time.Duration, limit int) ([]models.Subscription, error)
}

// ListQuery configures subscription list queries.
type ListQuery struct {
	UserID *uuid.UUID
	Status *enums.SubscriptionStatus
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Update(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Subscription{}, "id = ?", id).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	query := r.db.WithContext(ctx)
	// sqlite (used in tests) has no row locks.
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var sub models.Subscription
	if err := query.
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByOrderItem(ctx context.Context, orderID, orderItemID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND order_item_id = ?", orderID, orderItemID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.Subscription, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Subscription{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var subs []models.Subscription
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&subs).Error; err != nil {
		return nil, nil, err
	}

	if len(subs) > limit {
		next := subs[limit]
		subs = subs[:limit]
		return subs, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return subs, nil, nil
}

// HasBlockingForProduct reports whether the user already holds a subscription
// for the product in a status that blocks repurchase. past_due rows do not
// block.
func (r *repository) HasBlockingForProduct(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	blocking := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusPendingCancel,
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ? AND product_id = ? AND status IN ?", userID, productID, blocking).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListMissedRenewals returns active subscriptions without a remote link whose
// next payment is overdue. Remote-linked rows are reconciled by webhooks.
func (r *repository) ListMissedRenewals(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusActive).
		Where("(stripe_subscription_id IS NULL OR stripe_subscription_id = '')").
		Where("next_payment IS NOT NULL AND next_payment < ?", now).
		Order("next_payment ASC").
		Limit(normalizeSweepLimit(limit)).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListExpiredTrials returns trialing subscriptions without a remote link
// whose trial window has passed.
func (r *repository) ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusTrialing).
		Where("(stripe_subscription_id IS NULL OR stripe_subscription_id = '')").
		Where("trial_end IS NOT NULL AND trial_end < ?", now).
		Order("trial_end ASC").
		Limit(normalizeSweepLimit(limit)).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListMaturedPendingCancels returns pending-cancel subscriptions whose paid
// period has elapsed.
func (r *repository) ListMaturedPendingCancels(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusPendingCancel).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Order("expires_at ASC").
		Limit(normalizeSweepLimit(limit)).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListUpcomingRenewals returns active subscriptions charging within the
// window, for renewal reminders.
func (r *repository) ListUpcomingRenewals(ctx context.Context, now time.Time, within time.Duration, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusActive).
		Where("next_payment IS NOT NULL AND next_payment >= ? AND next_payment <= ?", now, now.Add(within)).
		Order("next_payment ASC").
		Limit(normalizeSweepLimit(limit)).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func normalizeSweepLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	return limit
}
