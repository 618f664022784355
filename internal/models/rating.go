package models

import (
	"time"
)

// Rating is a wallet's community score for a product; values are in [0,1].
type Rating struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Wallet    string    `gorm:"size:42;not null;uniqueIndex:idx_rating_wallet_product" json:"wallet"`
	ProductID string    `gorm:"size:36;not null;uniqueIndex:idx_rating_wallet_product;index" json:"product_id"`
	Overall   float64   `gorm:"not null" json:"overall"`
	Security  float64   `gorm:"not null" json:"security"`
	UX        float64   `gorm:"column:ux;not null" json:"ux"`
	Vibes     float64   `gorm:"not null" json:"vibes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RatingSummary struct {
	ProductID string  `json:"product_id"`
	Count     int64   `json:"count"`
	Overall   float64 `json:"overall"`
	Security  float64 `json:"security"`
	UX        float64 `json:"ux"`
	Vibes     float64 `json:"vibes"`
}
