package services

import (
	"context"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/logger"
	"ethapplist/internal/models"
	"ethapplist/internal/utils"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const MaxRandom = 50

// TrendingRanker orders products by their in-window votes. It keeps no
// state of its own: every call reads the vote ledger and scores from
// scratch.
type TrendingRanker struct {
	db    *gorm.DB
	votes *VoteLedger
	log   *logger.Logger
	now   func() time.Time
}

func NewTrendingRanker(db *gorm.DB, votes *VoteLedger, log *logger.Logger) *TrendingRanker {
	return &TrendingRanker{db: db, votes: votes, log: log, now: time.Now}
}

// Rank returns every active product's id ordered for window.
func (r *TrendingRanker) Rank(ctx context.Context, w utils.Window) ([]string, error) {
	items, err := r.Scored(ctx, w, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids, nil
}

// Scored ranks the active products matching scope (all when scope is nil).
func (r *TrendingRanker) Scored(ctx context.Context, w utils.Window, scope func(*gorm.DB) *gorm.DB) ([]utils.RankItem, error) {
	if _, ok := utils.RankConfigs[w]; !ok {
		return nil, apperr.Validation("invalid window", map[string]string{"window": "must be day, week, month, year or all"})
	}
	now := r.now()

	q := r.db.WithContext(ctx).Model(&models.Product{}).Where("products.status = ?", models.ProductActive)
	if scope != nil {
		q = scope(q)
	}
	var products []struct {
		ID        string
		CreatedAt time.Time
	}
	if err := q.Select("products.id AS id, products.created_at AS created_at").Scan(&products).Error; err != nil {
		return nil, errors.Wrap(err, "load ranking candidates")
	}

	events, err := r.votes.Events(ctx, w.Since(now))
	if err != nil {
		return nil, err
	}
	casts := make(map[string][]time.Time)
	for _, e := range events {
		casts[e.ProductID] = append(casts[e.ProductID], e.CastAt)
	}

	items := make([]utils.RankItem, len(products))
	for i, p := range products {
		items[i] = utils.RankItem{
			ID:        p.ID,
			CreatedAt: p.CreatedAt,
			Score:     utils.TrendingScore(now, w, casts[p.ID]),
		}
	}
	utils.SortRanked(items)
	return items, nil
}

// Random draws up to n distinct active products, fresh on every call.
func (r *TrendingRanker) Random(ctx context.Context, n int) ([]models.Product, error) {
	if n < 1 {
		n = 1
	}
	if n > MaxRandom {
		n = MaxRandom
	}
	products := []models.Product{}
	err := r.db.WithContext(ctx).
		Preload("Categories").Preload("Chains").
		Where("status = ?", models.ProductActive).
		Order("RANDOM()").Limit(n).
		Find(&products).Error
	if err != nil {
		return nil, errors.Wrap(err, "draw random products")
	}
	return products, nil
}
