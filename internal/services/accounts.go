package services

import (
	"context"
	"time"

	"ethapplist/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Accounts records wallets that have logged in and the role they hold.
// Roles come from configuration; the stored role is only a record of the
// last login and never grants anything.
type Accounts struct {
	db       *gorm.DB
	admins   map[string]bool
	curators map[string]bool
}

func NewAccounts(db *gorm.DB, admins, curators []string) *Accounts {
	a := &Accounts{db: db, admins: map[string]bool{}, curators: map[string]bool{}}
	for _, w := range admins {
		a.admins[w] = true
	}
	for _, w := range curators {
		a.curators[w] = true
	}
	return a
}

// RoleFor returns the configured role of wallet.
func (a *Accounts) RoleFor(wallet string) string {
	switch {
	case a.admins[wallet]:
		return models.RoleAdmin
	case a.curators[wallet]:
		return models.RoleCurator
	}
	return models.RoleUser
}

// Touch upserts the account for wallet after a successful login.
func (a *Accounts) Touch(ctx context.Context, wallet string) (*models.Account, error) {
	now := time.Now().UTC()
	acc := models.Account{
		Wallet:     wallet,
		Role:       a.RoleFor(wallet),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "last_seen_at"}),
	}).Create(&acc).Error
	if err != nil {
		return nil, errors.Wrap(err, "upsert account")
	}
	return a.Get(ctx, wallet)
}

// Get returns the stored account, or a transient account for wallets that
// never logged in through this server. Role is always the configured one.
func (a *Accounts) Get(ctx context.Context, wallet string) (*models.Account, error) {
	var acc models.Account
	err := a.db.WithContext(ctx).Where("wallet = ?", wallet).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Account{Wallet: wallet, Role: a.RoleFor(wallet)}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}
	acc.Role = a.RoleFor(wallet)
	return &acc, nil
}
