package models

import (
	"time"
)

// Vote is an upvote by one wallet on one product. The composite unique index
// is what makes a repeated upvote detectable inside the insert itself.
type Vote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Wallet    string    `gorm:"size:42;not null;uniqueIndex:idx_vote_wallet_product" json:"wallet"`
	ProductID string    `gorm:"size:36;not null;uniqueIndex:idx_vote_wallet_product;index" json:"product_id"`
	CastAt    time.Time `gorm:"not null;index" json:"cast_at"`
}

// VoteEvent is the projection the trending ranker consumes.
type VoteEvent struct {
	ProductID string
	CastAt    time.Time
}
