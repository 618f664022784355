package services

import (
	"context"
	"fmt"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/changeset"
	"ethapplist/internal/logger"
	"ethapplist/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevisionStore owns the published products and their append-only
// revision history. Every mutation goes through Commit.
type RevisionStore struct {
	db       *gorm.DB
	log      *logger.Logger
	now      func() time.Time
	onCommit []func(*CommitResult)
}

func NewRevisionStore(db *gorm.DB, log *logger.Logger) *RevisionStore {
	return &RevisionStore{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// OnCommit registers fn to run after each successful, non-replayed commit.
func (s *RevisionStore) OnCommit(fn func(*CommitResult)) {
	s.onCommit = append(s.onCommit, fn)
}

type CommitRequest struct {
	ProductID   string // empty for create
	ChangeID    string // pending change id, used as idempotency key; empty for direct edits
	ChangeType  string
	Fields      *changeset.ProductFields
	EditSummary string
	Editor      string
	Submitter   string // defaults to Editor on create
}

type CommitResult struct {
	ProductID      string          `json:"product_id"`
	RevisionNumber int             `json:"revision_number"`
	Product        *models.Product `json:"product,omitempty"`
	Replayed       bool            `json:"-"`
}

// Commit applies one change in a single transaction: the product row, its
// revision number and the new history row are written together or not at
// all. A change id that was already committed returns the earlier result
// with Replayed set.
func (s *RevisionStore) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if req.Fields == nil {
		req.Fields = &changeset.ProductFields{}
	}
	if req.Editor == "" {
		return nil, errors.New("commit without editor")
	}

	var res *CommitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.ChangeID != "" {
			var prior models.Revision
			err := tx.Where("change_id = ?", req.ChangeID).First(&prior).Error
			if err == nil {
				res = &CommitResult{ProductID: prior.ProductID, RevisionNumber: prior.RevisionNumber, Replayed: true}
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			held, err := s.fence(tx, req.ChangeID, models.DecisionApprove, req.Editor)
			if err != nil {
				return err
			}
			if held != nil {
				if held.Action == models.DecisionReject {
					return apperr.AlreadyDecided("change %s is already rejected", req.ChangeID)
				}
				return apperr.Conflict("change %s is being approved concurrently, retry", req.ChangeID)
			}
		}

		var err error
		switch req.ChangeType {
		case models.ChangeCreate:
			res, err = s.create(tx, req)
		case models.ChangeUpdate, models.ChangeDelete:
			res, err = s.amend(tx, req)
		default:
			err = apperr.Validation("invalid change", map[string]string{"change_type": "must be create, update or delete"})
		}
		return err
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("concurrent commit on product %s, retry", req.ProductID)
		}
		return nil, errors.Wrap(err, "commit revision")
	}

	product, err := s.Get(ctx, res.ProductID)
	if err != nil {
		return nil, err
	}
	res.Product = product

	if !res.Replayed {
		s.log.Info("Revision committed",
			"product_id", res.ProductID,
			"revision", res.RevisionNumber,
			"change_type", req.ChangeType,
			"change_id", req.ChangeID,
			"editor", req.Editor)
		for _, fn := range s.onCommit {
			fn(res)
		}
	}
	return res, nil
}

func (s *RevisionStore) create(tx *gorm.DB, req CommitRequest) (*CommitResult, error) {
	now := s.now()
	submitter := req.Submitter
	if submitter == "" {
		submitter = req.Editor
	}
	p := models.Product{
		ID:                    uuid.NewString(),
		SubmitterWallet:       submitter,
		LastEditorWallet:      req.Editor,
		CurrentRevisionNumber: 1,
		Status:                models.ProductActive,
		AnalyticsList:         datatypes.JSONSlice[string]{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	req.Fields.Apply(&p)

	cats, chains, err := resolveRefs(tx, req.Fields)
	if err != nil {
		return nil, err
	}

	if err := tx.Omit(clause.Associations).Create(&p).Error; err != nil {
		return nil, err
	}
	if err := replaceRefs(tx, p.ID, cats, chains); err != nil {
		return nil, err
	}
	if cats != nil {
		p.Categories = *cats
	}
	if chains != nil {
		p.Chains = *chains
	}

	if err := s.appendRevision(tx, &p, req, now); err != nil {
		return nil, err
	}
	return &CommitResult{ProductID: p.ID, RevisionNumber: 1}, nil
}

func (s *RevisionStore) amend(tx *gorm.DB, req CommitRequest) (*CommitResult, error) {
	if req.ProductID == "" {
		return nil, apperr.Validation("invalid change", map[string]string{"entity_id": "required"})
	}

	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p models.Product
	err := q.Where("id = ?", req.ProductID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("product %s not found", req.ProductID)
	}
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProductActive {
		return nil, apperr.NotFound("product %s has been removed", req.ProductID)
	}
	if err := tx.Model(&models.Product{ID: p.ID}).Association("Categories").Find(&p.Categories); err != nil {
		return nil, err
	}
	if err := tx.Model(&models.Product{ID: p.ID}).Association("Chains").Find(&p.Chains); err != nil {
		return nil, err
	}

	now := s.now()
	prev := p.CurrentRevisionNumber
	var cats *[]models.Category
	var chains *[]models.Chain

	switch req.ChangeType {
	case models.ChangeUpdate:
		req.Fields.Apply(&p)
		cats, chains, err = resolveRefs(tx, req.Fields)
		if err != nil {
			return nil, err
		}
		if cats != nil {
			p.Categories = *cats
		}
		if chains != nil {
			p.Chains = *chains
		}
	case models.ChangeDelete:
		p.Status = models.ProductRemoved
	}
	p.LastEditorWallet = req.Editor
	p.CurrentRevisionNumber = prev + 1
	p.UpdatedAt = now

	// compare-and-swap on the revision number; a concurrent commit that got
	// here first leaves zero rows affected
	result := tx.Model(&models.Product{}).
		Where("id = ? AND current_revision_number = ?", p.ID, prev).
		Updates(map[string]interface{}{
			"title":                   p.Title,
			"short_desc":              p.ShortDesc,
			"long_desc":               p.LongDesc,
			"logo_url":                p.LogoURL,
			"markdown_content":        p.MarkdownContent,
			"is_verified":             p.IsVerified,
			"analytics_list":          p.AnalyticsList,
			"security_score":          p.SecurityScore,
			"ux_score":                p.UXScore,
			"decent_score":            p.DecentScore,
			"vibes_score":             p.VibesScore,
			"last_editor_wallet":      p.LastEditorWallet,
			"current_revision_number": p.CurrentRevisionNumber,
			"status":                  p.Status,
			"updated_at":              p.UpdatedAt,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, apperr.Conflict("product %s changed concurrently, retry", p.ID)
	}

	if err := replaceRefs(tx, p.ID, cats, chains); err != nil {
		return nil, err
	}
	if err := s.appendRevision(tx, &p, req, now); err != nil {
		return nil, err
	}
	return &CommitResult{ProductID: p.ID, RevisionNumber: p.CurrentRevisionNumber}, nil
}

func (s *RevisionStore) appendRevision(tx *gorm.DB, p *models.Product, req CommitRequest, now time.Time) error {
	rev := models.Revision{
		ProductID:       p.ID,
		RevisionNumber:  p.CurrentRevisionNumber,
		ChangeType:      req.ChangeType,
		Snapshot:        datatypes.NewJSONType(p.Snapshot()),
		EditSummary:     req.EditSummary,
		EditorWallet:    req.Editor,
		SubmitterWallet: req.Submitter,
		CommittedAt:     now,
	}
	if req.ChangeID != "" {
		id := req.ChangeID
		rev.ChangeID = &id
	}
	return tx.Create(&rev).Error
}

// resolveRefs loads the referenced rows. A nil result means the field is
// not part of the change.
func resolveRefs(tx *gorm.DB, f *changeset.ProductFields) (*[]models.Category, *[]models.Chain, error) {
	var cats *[]models.Category
	var chains *[]models.Chain

	if ids, ok := f.CategoryIDs(); ok {
		found := []models.Category{}
		if len(ids) > 0 {
			if err := tx.Where("id IN ?", ids).Find(&found).Error; err != nil {
				return nil, nil, err
			}
		}
		if len(found) != len(ids) {
			return nil, nil, apperr.Validation("invalid references", map[string]string{"categories": "unknown category id"})
		}
		cats = &found
	}
	if ids, ok := f.ChainIDs(); ok {
		found := []models.Chain{}
		if len(ids) > 0 {
			if err := tx.Where("id IN ?", ids).Find(&found).Error; err != nil {
				return nil, nil, err
			}
		}
		if len(found) != len(ids) {
			return nil, nil, apperr.Validation("invalid references", map[string]string{"chains": "unknown chain id"})
		}
		chains = &found
	}
	return cats, chains, nil
}

func replaceRefs(tx *gorm.DB, productID string, cats *[]models.Category, chains *[]models.Chain) error {
	owner := &models.Product{ID: productID}
	if cats != nil {
		assoc := tx.Model(owner).Association("Categories")
		var err error
		if len(*cats) == 0 {
			err = assoc.Clear()
		} else {
			err = assoc.Replace(*cats)
		}
		if err != nil {
			return err
		}
	}
	if chains != nil {
		assoc := tx.Model(owner).Association("Chains")
		var err error
		if len(*chains) == 0 {
			err = assoc.Clear()
		} else {
			err = assoc.Replace(*chains)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns the product whatever its status; callers decide whether a
// removed product is visible.
func (s *RevisionStore) Get(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := s.db.WithContext(ctx).Preload("Categories").Preload("Chains").Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("product %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load product")
	}
	return &p, nil
}

// GetActive is Get restricted to published products.
func (s *RevisionStore) GetActive(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProductActive {
		return nil, apperr.NotFound("product %s not found", id)
	}
	return p, nil
}

// Exists reports whether an active product with id exists.
func (s *RevisionStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND status = ?", id, models.ProductActive).Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "check product")
	}
	return n > 0, nil
}

// History returns one page of revisions, newest first.
func (s *RevisionStore) History(ctx context.Context, productID string, page Page) ([]models.Revision, int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productID).Count(&n).Error; err != nil {
		return nil, 0, errors.Wrap(err, "check product")
	}
	if n == 0 {
		return nil, 0, apperr.NotFound("product %s not found", productID)
	}

	page = page.Normalize(20, 100)
	var total int64
	q := s.db.WithContext(ctx).Model(&models.Revision{}).Where("product_id = ?", productID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count revisions")
	}
	revs := []models.Revision{}
	err := q.Order("revision_number DESC").Offset(page.Offset()).Limit(page.PerPage).Find(&revs).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list revisions")
	}
	return revs, total, nil
}

// CommittedRevision returns the revision written for a pending change, or
// nil if that change was never committed.
func (s *RevisionStore) CommittedRevision(ctx context.Context, changeID string) (*models.Revision, error) {
	var rev models.Revision
	err := s.db.WithContext(ctx).Where("change_id = ?", changeID).First(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("lookup revision for change %s", changeID))
	}
	return &rev, nil
}

// fence writes the decision row for a pending change. On postgres the insert
// waits for a concurrent transaction holding the same key, so a decision
// still in flight is seen once it commits. The decision already holding the
// key is returned when ours was not written.
func (s *RevisionStore) fence(tx *gorm.DB, changeID, action, wallet string) (*models.ChangeDecision, error) {
	d := models.ChangeDecision{ChangeID: changeID, Action: action, DecidedBy: wallet, DecidedAt: s.now()}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&d)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return nil, nil
	}
	var held models.ChangeDecision
	if err := tx.Where("change_id = ?", changeID).First(&held).Error; err != nil {
		return nil, err
	}
	return &held, nil
}

// RecordRejection fences a pending change as rejected; no approval can
// commit it afterwards. If an approval got there first nothing is recorded
// and its revision is returned.
func (s *RevisionStore) RecordRejection(ctx context.Context, changeID, curator string) (*models.Revision, error) {
	var rev *models.Revision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		held, err := s.fence(tx, changeID, models.DecisionReject, curator)
		if err != nil || held == nil || held.Action == models.DecisionReject {
			return err
		}
		var r models.Revision
		if err := tx.Where("change_id = ?", changeID).First(&r).Error; err != nil {
			return err
		}
		rev = &r
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "record rejection of change %s", changeID)
	}
	return rev, nil
}

// DecisionFor returns the recorded decision on a pending change, or nil.
func (s *RevisionStore) DecisionFor(ctx context.Context, changeID string) (*models.ChangeDecision, error) {
	var d models.ChangeDecision
	err := s.db.WithContext(ctx).Where("change_id = ?", changeID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lookup decision for change %s", changeID)
	}
	return &d, nil
}
