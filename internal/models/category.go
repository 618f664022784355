package models

import (
	"time"
)

type Category struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:64;not null;unique" json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	ProductCount int64 `gorm:"-" json:"product_count"`
}

type Chain struct {
	ID   string `gorm:"primaryKey;size:64" json:"id"`
	Name string `gorm:"size:64;not null" json:"name"`
	Icon string `json:"icon"`
}
