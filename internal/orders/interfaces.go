package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
)

// Repository defines persistence operations for orders, their line items and
// the support notes attached to them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// FindByIDWithItems preloads line items for subscription provisioning.
	FindByIDWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkSubscriptionsProcessed(ctx context.Context, id uuid.UUID) error
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
	SetReminderSentFor(ctx context.Context, id uuid.UUID, nextPayment time.Time) error
	AddNote(ctx context.Context, orderID uuid.UUID, note string) error
	FindNotes(ctx context.Context, orderID uuid.UUID) ([]models.OrderNote, error)
}
