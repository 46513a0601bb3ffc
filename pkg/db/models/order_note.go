package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderNote is an operator-visible annotation on an order. Gateway failures
// land here instead of failing the request.
type OrderNote struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	Note      string    `gorm:"column:note;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
