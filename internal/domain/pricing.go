package domain

import "time"

// PriceListItem is a tenant's catalogue entry consulted by the build_quote
// workflow action (spec.md §4.H "build_quote": "tenant pricing (loaded from
// the control plane's store)").
type PriceListItem struct {
	ID          string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    string    `json:"tenant_id" gorm:"type:varchar(255);index;not null"`
	Description string    `json:"description" gorm:"type:varchar(255);not null"`
	UnitPrice   float64   `json:"unit_price"`
	TaxRate     float64   `json:"tax_rate"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for PriceListItem.
func (PriceListItem) TableName() string { return "price_list_items" }
