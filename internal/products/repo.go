package products

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
)

// Repository exposes catalog lookups and the remote-id cache.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, product *models.Product) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	// UpdateRemoteIDs persists freshly validated processor identifiers. Nil
	// pointers clear the cached value.
	UpdateRemoteIDs(ctx context.Context, id uuid.UUID, productID, priceID *string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a product repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&product).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

func (r *repository) UpdateRemoteIDs(ctx context.Context, id uuid.UUID, productID, priceID *string) error {
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stripe_product_id": productID,
			"stripe_price_id":   priceID,
		}).Error
}
