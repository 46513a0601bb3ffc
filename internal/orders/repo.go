package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) MarkSubscriptionsProcessed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("subscriptions_processed", true).Error
}

func (r *repository) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("stripe_customer_id", customerID).Error
}

func (r *repository) SetReminderSentFor(ctx context.Context, id uuid.UUID, nextPayment time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("reminder_sent_for", nextPayment).Error
}

func (r *repository) AddNote(ctx context.Context, orderID uuid.UUID, note string) error {
	return r.db.WithContext(ctx).Create(&models.OrderNote{
		ID:      uuid.New(),
		OrderID: orderID,
		Note:    note,
	}).Error
}

func (r *repository) FindNotes(ctx context.Context, orderID uuid.UUID) ([]models.OrderNote, error) {
	var notes []models.OrderNote
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}
