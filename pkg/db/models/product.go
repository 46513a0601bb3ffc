package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a sellable catalog entry. StripeProductID and StripePriceID
// cache remote identifiers; both are revalidated before use and cleared when
// the remote object no longer matches.
type Product struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name            string    `gorm:"column:name;not null"`
	PluginSlug      string    `gorm:"column:plugin_slug;not null"`
	LicenseType     string    `gorm:"column:license_type;not null;default:'standard'"`
	TrialDays       int       `gorm:"column:trial_days;not null;default:0"`
	StaffLimit      *int      `gorm:"column:staff_limit"`
	StripeProductID *string   `gorm:"column:stripe_product_id"`
	StripePriceID   *string   `gorm:"column:stripe_price_id"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
