package models

import (
	"time"
)

const (
	RoleUser    = "user"
	RoleCurator = "curator"
	RoleAdmin   = "admin"
)

type Account struct {
	Wallet     string    `gorm:"primaryKey;size:42" json:"wallet_address"`
	Role       string    `gorm:"size:20;default:'user';not null" json:"role"` // user, curator, admin
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func (a *Account) IsCurator() bool {
	return a.Role == RoleCurator || a.Role == RoleAdmin
}

func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
