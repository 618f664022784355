package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/changeset"
	"ethapplist/internal/logger"
	"ethapplist/internal/models"
	"ethapplist/internal/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	categoriesKey = "categories"
	chainsKey     = "chains"
)

// Catalog serves the reference data products point at. Lists are cached
// for a short time; creating a category invalidates the cache at once.
type Catalog struct {
	db         *gorm.DB
	log        *logger.Logger
	categories *utils.Cache[[]models.Category]
	chains     *utils.Cache[[]models.Chain]
}

func NewCatalog(db *gorm.DB, log *logger.Logger) *Catalog {
	return &Catalog{
		db:         db,
		log:        log,
		categories: utils.NewCache[[]models.Category](4, time.Minute),
		chains:     utils.NewCache[[]models.Chain](4, 10*time.Minute),
	}
}

// Categories lists every category with the number of active products in it.
func (c *Catalog) Categories(ctx context.Context) ([]models.Category, error) {
	if cached, ok := c.categories.Get(categoriesKey); ok {
		return cached, nil
	}

	var cats []models.Category
	if err := c.db.WithContext(ctx).Order("name ASC").Find(&cats).Error; err != nil {
		return nil, errors.Wrap(err, "list categories")
	}

	type countRow struct {
		CategoryID string
		Total      int64
	}
	var rows []countRow
	err := c.db.WithContext(ctx).Table("product_categories").
		Select("product_categories.category_id AS category_id, COUNT(*) AS total").
		Joins("JOIN products ON products.id = product_categories.product_id").
		Where("products.status = ?", models.ProductActive).
		Group("product_categories.category_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count category products")
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.CategoryID] = r.Total
	}
	for i := range cats {
		cats[i].ProductCount = counts[cats[i].ID]
	}

	c.categories.Set(categoriesKey, cats)
	return cats, nil
}

type CategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (c *Catalog) CreateCategory(ctx context.Context, in CategoryInput) (*models.Category, error) {
	name := changeset.StripMarkup(in.Name)
	desc := changeset.StripMarkup(in.Description)
	fields := map[string]string{}
	if name == "" {
		fields["name"] = "required"
	} else if len([]rune(name)) > 64 {
		fields["name"] = "must be at most 64 characters"
	}
	if len([]rune(desc)) > 500 {
		fields["description"] = "must be at most 500 characters"
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid category", fields)
	}

	var existing int64
	if err := c.db.WithContext(ctx).Model(&models.Category{}).Where("LOWER(name) = ?", strings.ToLower(name)).Count(&existing).Error; err != nil {
		return nil, errors.Wrap(err, "check category name")
	}
	if existing > 0 {
		return nil, apperr.Conflict("category %q already exists", name)
	}

	cat := models.Category{ID: uuid.NewString(), Name: name, Description: desc}
	if err := c.db.WithContext(ctx).Create(&cat).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("category %q already exists", name)
		}
		return nil, errors.Wrap(err, "create category")
	}
	c.categories.Delete(categoriesKey)
	c.log.Info("Category created", "id", cat.ID, "name", cat.Name)
	return &cat, nil
}

func (c *Catalog) Chains(ctx context.Context) ([]models.Chain, error) {
	if cached, ok := c.chains.Get(chainsKey); ok {
		return cached, nil
	}
	var chains []models.Chain
	if err := c.db.WithContext(ctx).Order("name ASC").Find(&chains).Error; err != nil {
		return nil, errors.Wrap(err, "list chains")
	}
	c.chains.Set(chainsKey, chains)
	return chains, nil
}

// InvalidateCounts drops cached product counts after products change.
func (c *Catalog) InvalidateCounts() {
	c.categories.Delete(categoriesKey)
}

// CheckRefs verifies that every referenced category and chain exists.
func (c *Catalog) CheckRefs(ctx context.Context, f *changeset.ProductFields) error {
	fields := map[string]string{}
	if ids, ok := f.CategoryIDs(); ok && len(ids) > 0 {
		missing, err := c.missing(ctx, &models.Category{}, ids)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			fields["categories"] = fmt.Sprintf("unknown ids: %s", strings.Join(missing, ", "))
		}
	}
	if ids, ok := f.ChainIDs(); ok && len(ids) > 0 {
		missing, err := c.missing(ctx, &models.Chain{}, ids)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			fields["chains"] = fmt.Sprintf("unknown ids: %s", strings.Join(missing, ", "))
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid references", fields)
	}
	return nil
}

func (c *Catalog) missing(ctx context.Context, model interface{}, ids []string) ([]string, error) {
	var found []string
	if err := c.db.WithContext(ctx).Model(model).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, errors.Wrap(err, "check references")
	}
	have := make(map[string]bool, len(found))
	for _, id := range found {
		have[id] = true
	}
	var missing []string
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing, nil
}
