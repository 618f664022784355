package services

import (
	"context"
	"math"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RatingInput struct {
	Overall  float64 `json:"overall"`
	Security float64 `json:"security"`
	UX       float64 `json:"ux"`
	Vibes    float64 `json:"vibes"`
}

func (in RatingInput) validate() error {
	fields := map[string]string{}
	for name, v := range map[string]float64{
		"overall":  in.Overall,
		"security": in.Security,
		"ux":       in.UX,
		"vibes":    in.Vibes,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			fields[name] = "must be between 0 and 1"
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid scores", fields)
	}
	return nil
}

// Ratings stores one community score per wallet and product; rating again
// replaces the earlier score.
type Ratings struct {
	db       *gorm.DB
	products *RevisionStore
}

func NewRatings(db *gorm.DB, products *RevisionStore) *Ratings {
	return &Ratings{db: db, products: products}
}

func (r *Ratings) Rate(ctx context.Context, wallet, productID string, in RatingInput) (*models.Rating, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	ok, err := r.products.Exists(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("product %s not found", productID)
	}

	now := time.Now().UTC()
	rating := models.Rating{
		Wallet:    wallet,
		ProductID: productID,
		Overall:   in.Overall,
		Security:  in.Security,
		UX:        in.UX,
		Vibes:     in.Vibes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"overall", "security", "ux", "vibes", "updated_at"}),
	}).Create(&rating).Error
	if err != nil {
		return nil, errors.Wrap(err, "save rating")
	}
	return r.Mine(ctx, wallet, productID)
}

// Mine returns wallet's rating of the product, or nil if it has none.
func (r *Ratings) Mine(ctx context.Context, wallet, productID string) (*models.Rating, error) {
	var rating models.Rating
	err := r.db.WithContext(ctx).Where("wallet = ? AND product_id = ?", wallet, productID).First(&rating).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load rating")
	}
	return &rating, nil
}

func (r *Ratings) Summary(ctx context.Context, productID string) (*models.RatingSummary, error) {
	ok, err := r.products.Exists(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("product %s not found", productID)
	}

	var row struct {
		Count    int64
		Overall  *float64
		Security *float64
		UX       *float64
		Vibes    *float64
	}
	err = r.db.WithContext(ctx).Model(&models.Rating{}).
		Select("COUNT(*) AS count, AVG(overall) AS overall, AVG(security) AS security, AVG(ux) AS ux, AVG(vibes) AS vibes").
		Where("product_id = ?", productID).
		Scan(&row).Error
	if err != nil {
		return nil, errors.Wrap(err, "summarise ratings")
	}

	deref := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}
	return &models.RatingSummary{
		ProductID: productID,
		Count:     row.Count,
		Overall:   deref(row.Overall),
		Security:  deref(row.Security),
		UX:        deref(row.UX),
		Vibes:     deref(row.Vibes),
	}, nil
}
