package services

import (
	"context"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/logger"
	"ethapplist/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const MaxVoteStateIDs = 200

// VoteLedger records at most one upvote per wallet and product. The vote
// row and the product's upvote_count change in the same transaction, so the
// counter always equals the number of vote rows.
type VoteLedger struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewVoteLedger(db *gorm.DB, log *logger.Logger) *VoteLedger {
	return &VoteLedger{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Upvote casts wallet's vote on productID and returns the new count.
// A second vote by the same wallet yields apperr.DuplicateVote.
func (l *VoteLedger) Upvote(ctx context.Context, wallet, productID string) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Product{}).
			Where("id = ? AND status = ?", productID, models.ProductActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active == 0 {
			return apperr.NotFound("product %s not found", productID)
		}

		// the unique (wallet, product_id) index decides; no read first
		vote := models.Vote{Wallet: wallet, ProductID: productID, CastAt: l.now()}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&vote)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.DuplicateVote("already upvoted")
		}

		res = tx.Model(&models.Product{}).
			Where("id = ? AND status = ?", productID, models.ProductActive).
			UpdateColumn("upvote_count", gorm.Expr("upvote_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("product %s not found", productID)
		}

		return tx.Model(&models.Product{}).Where("id = ?", productID).
			Select("upvote_count").Scan(&count).Error
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return 0, err
		}
		if isUniqueViolation(err) {
			// a dialect without ON CONFLICT support surfaces the index directly
			return 0, apperr.DuplicateVote("already upvoted")
		}
		return 0, errors.Wrap(err, "cast vote")
	}

	l.log.Debug("Vote cast", "wallet", wallet, "product_id", productID, "count", count)
	return count, nil
}

// VoteStates reports, for every id given, whether wallet has voted on it.
// Ids the wallet has not voted on map to false.
func (l *VoteLedger) VoteStates(ctx context.Context, wallet string, productIDs []string) (map[string]bool, error) {
	states := make(map[string]bool, len(productIDs))
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if id == "" {
			continue
		}
		if _, seen := states[id]; seen {
			continue
		}
		states[id] = false
		ids = append(ids, id)
	}
	if len(ids) > MaxVoteStateIDs {
		return nil, apperr.Validation("too many ids", map[string]string{"ids": "at most 200 ids per request"})
	}
	if len(ids) == 0 {
		return states, nil
	}

	var voted []string
	err := l.db.WithContext(ctx).Model(&models.Vote{}).
		Where("wallet = ? AND product_id IN ?", wallet, ids).
		Pluck("product_id", &voted).Error
	if err != nil {
		return nil, errors.Wrap(err, "load vote states")
	}
	for _, id := range voted {
		states[id] = true
	}
	return states, nil
}

// Count returns the product's current number of upvotes.
func (l *VoteLedger) Count(ctx context.Context, productID string) (int64, error) {
	var counts []int64
	err := l.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", productID).Pluck("upvote_count", &counts).Error
	if err != nil {
		return 0, errors.Wrap(err, "load vote count")
	}
	if len(counts) == 0 {
		return 0, apperr.NotFound("product %s not found", productID)
	}
	return counts[0], nil
}

// HasVoted is VoteStates for a single product.
func (l *VoteLedger) HasVoted(ctx context.Context, wallet, productID string) (bool, error) {
	states, err := l.VoteStates(ctx, wallet, []string{productID})
	if err != nil {
		return false, err
	}
	return states[productID], nil
}

// CastBy counts the votes wallet has cast.
func (l *VoteLedger) CastBy(ctx context.Context, wallet string) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&models.Vote{}).Where("wallet = ?", wallet).Count(&n).Error
	return n, errors.Wrap(err, "count votes")
}

// Events returns the votes on active products cast at or after since. A
// zero since returns all of them.
func (l *VoteLedger) Events(ctx context.Context, since time.Time) ([]models.VoteEvent, error) {
	q := l.db.WithContext(ctx).Model(&models.Vote{}).
		Select("votes.product_id AS product_id, votes.cast_at AS cast_at").
		Joins("JOIN products ON products.id = votes.product_id").
		Where("products.status = ?", models.ProductActive)
	if !since.IsZero() {
		q = q.Where("votes.cast_at >= ?", since)
	}
	var events []models.VoteEvent
	if err := q.Scan(&events).Error; err != nil {
		return nil, errors.Wrap(err, "load vote events")
	}
	return events, nil
}
