package services

import (
	"context"
	"strings"

	"ethapplist/internal/apperr"
	"ethapplist/internal/models"
	"ethapplist/internal/utils"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	SortNew = "new"
	sortTop = "top_"
)

type ListQuery struct {
	Category string
	Chain    string
	Search   string
	Sort     string
	Page     Page
}

type ListResult struct {
	Products []models.Product `json:"products"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PerPage  int              `json:"per_page"`
	Pages    int              `json:"pages"`
}

// Listings serves the public product listing pages.
type Listings struct {
	db     *gorm.DB
	ranker *TrendingRanker
}

func NewListings(db *gorm.DB, ranker *TrendingRanker) *Listings {
	return &Listings{db: db, ranker: ranker}
}

func (l *Listings) scope(q ListQuery) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if q.Category != "" {
			db = db.Where("products.id IN (?)",
				l.db.Table("product_categories").
					Select("product_categories.product_id").
					Joins("JOIN categories ON categories.id = product_categories.category_id").
					Where("categories.id = ? OR LOWER(categories.name) = ?", q.Category, strings.ToLower(q.Category)))
		}
		if q.Chain != "" {
			db = db.Where("products.id IN (?)",
				l.db.Table("product_chains").
					Select("product_chains.product_id").
					Where("product_chains.chain_id = ?", strings.ToLower(q.Chain)))
		}
		if s := strings.TrimSpace(q.Search); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			db = db.Where("LOWER(products.title) LIKE ? OR LOWER(products.short_desc) LIKE ?", like, like)
		}
		return db
	}
}

func (l *Listings) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	page := q.Page.Normalize(20, 100)
	if q.Sort == "" {
		q.Sort = SortNew
	}

	var (
		products []models.Product
		total    int64
		err      error
	)
	switch {
	case q.Sort == SortNew:
		products, total, err = l.listNew(ctx, q, page)
	case strings.HasPrefix(q.Sort, sortTop):
		w, ok := utils.ParseWindow(strings.TrimPrefix(q.Sort, sortTop))
		if !ok {
			return nil, apperr.Validation("invalid sort", map[string]string{"sort": "must be new, top_day, top_week, top_month, top_year or top_all"})
		}
		products, total, err = l.listTop(ctx, q, w, page)
	default:
		return nil, apperr.Validation("invalid sort", map[string]string{"sort": "must be new, top_day, top_week, top_month, top_year or top_all"})
	}
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Products: products,
		Total:    total,
		Page:     page.Page,
		PerPage:  page.PerPage,
		Pages:    page.Pages(total),
	}, nil
}

func (l *Listings) listNew(ctx context.Context, q ListQuery, page Page) ([]models.Product, int64, error) {
	base := l.scope(q)(l.db.WithContext(ctx).Model(&models.Product{}).Where("products.status = ?", models.ProductActive))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}
	products := []models.Product{}
	err := base.Session(&gorm.Session{}).
		Preload("Categories").Preload("Chains").
		Order("products.created_at DESC").Order("products.id ASC").
		Offset(page.Offset()).Limit(page.PerPage).
		Find(&products).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list products")
	}
	return products, total, nil
}

func (l *Listings) listTop(ctx context.Context, q ListQuery, w utils.Window, page Page) ([]models.Product, int64, error) {
	ranked, err := l.ranker.Scored(ctx, w, l.scope(q))
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(ranked))

	start := page.Offset()
	if start < 0 || start >= len(ranked) {
		return []models.Product{}, total, nil
	}
	end := start + page.PerPage
	if end > len(ranked) {
		end = len(ranked)
	}
	ids := make([]string, 0, end-start)
	for _, it := range ranked[start:end] {
		ids = append(ids, it.ID)
	}

	var found []models.Product
	err = l.db.WithContext(ctx).Preload("Categories").Preload("Chains").
		Where("id IN ?", ids).Find(&found).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "load ranked products")
	}
	byID := make(map[string]models.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	products := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			products = append(products, p)
		}
	}
	return products, total, nil
}
