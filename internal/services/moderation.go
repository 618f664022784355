package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/changeset"
	"ethapplist/internal/logger"
	"ethapplist/internal/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Key layout in badger:
//
//	pc/c/<id>                        change record (JSON)
//	pc/t/<created nanos>/<id>        every change by creation time
//	pc/p/<created nanos>/<id>        pending changes only, removed on decision
//	pc/e/<entity id>/<nanos>/<id>    changes targeting an existing product
//	pc/s/<wallet>/<nanos>/<id>       changes by submitter
const (
	prefixRecord    = "pc/c/"
	prefixTime      = "pc/t/"
	prefixPending   = "pc/p/"
	prefixEntity    = "pc/e/"
	prefixSubmitter = "pc/s/"

	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
	MaxEditSummary     = 500

	actionApprove = "approve"
	actionReject  = "reject"
)

// decisionClaim marks a change as being decided. It is never shown to
// clients; a claimed change still lists as pending.
type decisionClaim struct {
	Token     string    `json:"token"`
	Action    string    `json:"action"`
	Curator   string    `json:"curator"`
	ExpiresAt time.Time `json:"expires_at"`
}

type storedChange struct {
	models.PendingChange
	Claim *decisionClaim `json:"claim,omitempty"`
}

type ModerationConfig struct {
	ClaimTTL     time.Duration
	DecisionWait time.Duration
}

// ModerationQueue holds proposed product changes until a curator approves
// or rejects them. Status moves once from pending to approved or rejected.
// Deciding happens in three steps: claim the change in a badger
// transaction, fence the outcome in the relational store (an approval's
// decision row is written with its revision, a rejection writes its own),
// then finalize the status. The claim keeps deciders from doing duplicate
// work; the fence decides who wins even when a claim has expired. A failed
// commit releases the claim and leaves the change pending.
type ModerationQueue struct {
	db        *badger.DB
	revisions *RevisionStore
	catalog   *Catalog
	log       *logger.Logger
	cfg       ModerationConfig
	now       func() time.Time
}

func NewModerationQueue(db *badger.DB, revisions *RevisionStore, catalog *Catalog, cfg ModerationConfig, log *logger.Logger) *ModerationQueue {
	return &ModerationQueue{
		db:        db,
		revisions: revisions,
		catalog:   catalog,
		log:       log,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type SubmitRequest struct {
	EntityType  string
	EntityID    string
	ChangeType  string
	ChangeData  []byte
	EditSummary string
	MinorEdit   bool
	Submitter   string
}

// Decision is the outcome of an approve or reject.
type Decision struct {
	Change *models.PendingChange `json:"change"`
	Commit *CommitResult         `json:"commit,omitempty"`
}

func recordKey(id string) []byte {
	return []byte(prefixRecord + id)
}

func stamp(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

func timeKey(c *models.PendingChange) []byte {
	return []byte(prefixTime + stamp(c.CreatedAt) + "/" + c.ID)
}

func pendingKey(c *models.PendingChange) []byte {
	return []byte(prefixPending + stamp(c.CreatedAt) + "/" + c.ID)
}

func entityKey(c *models.PendingChange) []byte {
	return []byte(prefixEntity + c.EntityID + "/" + stamp(c.CreatedAt) + "/" + c.ID)
}

func submitterKey(c *models.PendingChange) []byte {
	return []byte(prefixSubmitter + c.SubmitterWallet + "/" + stamp(c.CreatedAt) + "/" + c.ID)
}

func idFromIndexKey(key []byte) string {
	k := string(key)
	return k[strings.LastIndexByte(k, '/')+1:]
}

// Submit validates a proposed change and enqueues it as pending. Malformed
// payloads are rejected here and never stored.
func (q *ModerationQueue) Submit(ctx context.Context, req SubmitRequest) (*models.PendingChange, error) {
	if req.EntityType == "" {
		req.EntityType = models.EntityProduct
	}
	fields := map[string]string{}
	if req.EntityType != models.EntityProduct {
		fields["entity_type"] = "must be product"
	}
	if !models.ValidChangeType(req.ChangeType) {
		fields["change_type"] = "must be create, update or delete"
	}
	if req.ChangeType == models.ChangeCreate && req.EntityID != "" {
		fields["entity_id"] = "must be empty for create"
	}
	if req.ChangeType != models.ChangeCreate && req.EntityID == "" {
		fields["entity_id"] = "required"
	}
	summary := changeset.StripMarkup(req.EditSummary)
	if len([]rune(summary)) > MaxEditSummary {
		fields["edit_summary"] = fmt.Sprintf("must be at most %d characters", MaxEditSummary)
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid change", fields)
	}

	parsed, err := changeset.Parse(req.ChangeType, req.ChangeData)
	if err != nil {
		return nil, err
	}
	if err := q.catalog.CheckRefs(ctx, parsed); err != nil {
		return nil, err
	}
	if req.EntityID != "" {
		ok, err := q.revisions.Exists(ctx, req.EntityID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NotFound("product %s not found", req.EntityID)
		}
	}

	change := storedChange{PendingChange: models.PendingChange{
		ID:              uuid.NewString(),
		UserID:          req.Submitter,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		ChangeType:      req.ChangeType,
		ChangeData:      parsed.Encode(),
		EditSummary:     summary,
		MinorEdit:       req.MinorEdit,
		SubmitterWallet: req.Submitter,
		Status:          models.StatusPending,
		CreatedAt:       q.now(),
	}}
	raw, err := json.Marshal(&change)
	if err != nil {
		return nil, errors.Wrap(err, "encode change")
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		c := &change.PendingChange
		if err := txn.Set(recordKey(c.ID), raw); err != nil {
			return err
		}
		if err := txn.Set(timeKey(c), nil); err != nil {
			return err
		}
		if err := txn.Set(pendingKey(c), nil); err != nil {
			return err
		}
		if err := txn.Set(submitterKey(c), nil); err != nil {
			return err
		}
		if c.EntityID != "" {
			return txn.Set(entityKey(c), nil)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "store change")
	}

	q.log.Info("Change submitted",
		"change_id", change.ID,
		"change_type", change.ChangeType,
		"entity_id", change.EntityID,
		"submitter", change.SubmitterWallet)
	out := change.PendingChange
	return &out, nil
}

func loadChange(txn *badger.Txn, id string) (*storedChange, error) {
	item, err := txn.Get(recordKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, apperr.NotFound("change %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var c storedChange
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "decode change %s", id)
	}
	return &c, nil
}

func saveChange(txn *badger.Txn, c *storedChange) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode change")
	}
	return txn.Set(recordKey(c.ID), raw)
}

// claim takes the exclusive right to decide change id. While another
// decision holds a live claim the caller waits, up to DecisionWait, for it
// to finish.
func (q *ModerationQueue) claim(ctx context.Context, id, action, curator string) (string, *models.PendingChange, error) {
	deadline := time.Now().Add(q.cfg.DecisionWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	token := uuid.NewString()
	backoff := 5 * time.Millisecond

	for {
		var (
			change *storedChange
			busy   bool
		)
		err := q.db.Update(func(txn *badger.Txn) error {
			c, err := loadChange(txn, id)
			if err != nil {
				return err
			}
			if c.IsTerminal() {
				return apperr.AlreadyDecided("change %s is already %s", id, c.Status)
			}
			now := q.now()
			if c.Claim != nil && now.Before(c.Claim.ExpiresAt) {
				busy = true
				return nil
			}
			c.Claim = &decisionClaim{
				Token:     token,
				Action:    action,
				Curator:   curator,
				ExpiresAt: now.Add(q.cfg.ClaimTTL),
			}
			change = c
			return saveChange(txn, c)
		})
		switch {
		case err == badger.ErrConflict:
			// another decision wrote the record first; look again
			continue
		case err != nil:
			if apperr.KindOf(err) != apperr.KindInternal {
				return "", nil, err
			}
			return "", nil, errors.Wrap(err, "claim change")
		case !busy:
			out := change.PendingChange
			return token, &out, nil
		}

		if time.Now().After(deadline) {
			return "", nil, apperr.Conflict("change %s is being decided by another curator, retry", id)
		}
		select {
		case <-ctx.Done():
			return "", nil, apperr.Conflict("change %s is being decided by another curator, retry", id)
		case <-time.After(backoff):
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// release drops our claim so the change can be decided again.
func (q *ModerationQueue) release(id, token string) {
	for attempt := 0; attempt < 5; attempt++ {
		err := q.db.Update(func(txn *badger.Txn) error {
			c, err := loadChange(txn, id)
			if err != nil {
				return err
			}
			if c.Claim == nil || c.Claim.Token != token {
				return nil
			}
			c.Claim = nil
			return saveChange(txn, c)
		})
		if err == badger.ErrConflict {
			continue
		}
		if err != nil {
			q.log.Warn("Failed to release decision claim", "change_id", id, "error", err)
		}
		return
	}
}

type finalState struct {
	status         string
	decidedBy      string
	entityID       string
	revisionNumber int
}

// finalize moves a change to its terminal status. It is only called once
// the outcome is fenced in the relational store, so every decider that gets
// here agrees on st.status and whichever arrives first writes it.
func (q *ModerationQueue) finalize(id string, st finalState) (*models.PendingChange, error) {
	for {
		var out models.PendingChange
		err := q.db.Update(func(txn *badger.Txn) error {
			c, err := loadChange(txn, id)
			if err != nil {
				return err
			}
			if c.IsTerminal() {
				return apperr.AlreadyDecided("change %s is already %s", id, c.Status)
			}
			if err := txn.Delete(pendingKey(&c.PendingChange)); err != nil {
				return err
			}

			decidedAt := q.now()
			c.Status = st.status
			c.DecidedAt = &decidedAt
			c.DecidedBy = st.decidedBy
			c.RevisionNumber = st.revisionNumber
			if c.EntityID == "" && st.entityID != "" {
				c.EntityID = st.entityID
			}
			c.Claim = nil
			out = c.PendingChange
			return saveChange(txn, c)
		})
		if err == badger.ErrConflict {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &out, nil
	}
}

// settle finalizes a fenced outcome. A change another decider already
// finalized the same way counts as ours.
func (q *ModerationQueue) settle(ctx context.Context, id string, st finalState) (*models.PendingChange, error) {
	final, err := q.finalize(id, st)
	if err == nil {
		return final, nil
	}
	if apperr.KindOf(err) == apperr.KindAlreadyDecided {
		got, gerr := q.Get(ctx, id)
		if gerr == nil && got.Status == st.status {
			return got, nil
		}
		return nil, err
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		return nil, err
	}
	return nil, errors.Wrapf(err, "finalize change %s", id)
}

// Approve commits the change to the revision store and marks it approved.
func (q *ModerationQueue) Approve(ctx context.Context, id, curator string) (*Decision, error) {
	token, change, err := q.claim(ctx, id, actionApprove, curator)
	if err != nil {
		return nil, err
	}

	fields, err := changeset.Decode(change.ChangeType, []byte(change.ChangeData))
	if err != nil {
		q.release(id, token)
		return nil, err
	}

	res, err := q.revisions.Commit(ctx, CommitRequest{
		ProductID:   change.EntityID,
		ChangeID:    change.ID,
		ChangeType:  change.ChangeType,
		Fields:      fields,
		EditSummary: change.EditSummary,
		Editor:      curator,
		Submitter:   change.SubmitterWallet,
	})
	if apperr.KindOf(err) == apperr.KindAlreadyDecided {
		// a rejection was recorded but never finalized; finish it
		return nil, q.finishRejection(ctx, id, token, err)
	}
	if err != nil {
		q.release(id, token)
		q.log.Warn("Approval commit failed, change stays pending", "change_id", id, "error", err)
		return nil, err
	}

	decidedBy := curator
	if res.Replayed {
		// an earlier approval committed but never finalized
		if rev, err := q.revisions.CommittedRevision(ctx, id); err == nil && rev != nil {
			decidedBy = rev.EditorWallet
		}
	}

	final, err := q.settle(ctx, id, finalState{
		status:         models.StatusApproved,
		decidedBy:      decidedBy,
		entityID:       res.ProductID,
		revisionNumber: res.RevisionNumber,
	})
	if err != nil {
		return nil, err
	}

	q.log.Info("Change approved",
		"change_id", id,
		"product_id", res.ProductID,
		"revision", res.RevisionNumber,
		"curator", decidedBy)
	return &Decision{Change: final, Commit: res}, nil
}

func (q *ModerationQueue) finishRejection(ctx context.Context, id, token string, decided error) error {
	d, err := q.revisions.DecisionFor(ctx, id)
	if err != nil || d == nil {
		q.release(id, token)
		if err != nil {
			return err
		}
		return decided
	}
	if _, err := q.settle(ctx, id, finalState{status: models.StatusRejected, decidedBy: d.DecidedBy}); err != nil &&
		apperr.KindOf(err) == apperr.KindInternal {
		return err
	}
	return apperr.AlreadyDecided("change %s is already rejected", id)
}

// Reject marks the change rejected. The record is kept for history.
func (q *ModerationQueue) Reject(ctx context.Context, id, curator string) (*Decision, error) {
	token, _, err := q.claim(ctx, id, actionReject, curator)
	if err != nil {
		return nil, err
	}

	rev, err := q.revisions.RecordRejection(ctx, id, curator)
	if err != nil {
		q.release(id, token)
		return nil, err
	}
	if rev != nil {
		// an approval committed but did not get to finalize; finish it
		_, err := q.settle(ctx, id, finalState{
			status:         models.StatusApproved,
			decidedBy:      rev.EditorWallet,
			entityID:       rev.ProductID,
			revisionNumber: rev.RevisionNumber,
		})
		if err != nil && apperr.KindOf(err) == apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.AlreadyDecided("change %s is already approved", id)
	}

	final, err := q.settle(ctx, id, finalState{status: models.StatusRejected, decidedBy: curator})
	if err != nil {
		return nil, err
	}

	q.log.Info("Change rejected", "change_id", id, "curator", curator)
	return &Decision{Change: final}, nil
}

func (q *ModerationQueue) Get(ctx context.Context, id string) (*models.PendingChange, error) {
	var out models.PendingChange
	err := q.db.View(func(txn *badger.Txn) error {
		c, err := loadChange(txn, id)
		if err != nil {
			return err
		}
		out = c.PendingChange
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, errors.Wrap(err, "load change")
	}
	return &out, nil
}

// scan walks an index prefix and loads the records it points at. keep may
// be nil; limit <= 0 means no limit.
func (q *ModerationQueue) scan(prefix string, reverse bool, limit int, keep func(*models.PendingChange) bool) ([]models.PendingChange, error) {
	out := []models.PendingChange{}
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = reverse
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte(prefix)
		if reverse {
			start = append([]byte(prefix), 0xff)
		}
		for it.Seek(start); it.ValidForPrefix([]byte(prefix)); it.Next() {
			c, err := loadChange(txn, idFromIndexKey(it.Item().Key()))
			if err != nil {
				return err
			}
			if keep != nil && !keep(&c.PendingChange) {
				continue
			}
			out = append(out, c.PendingChange)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan changes")
	}
	return out, nil
}

func isPending(c *models.PendingChange) bool {
	return c.Status == models.StatusPending
}

// ListPending returns pending changes oldest first, optionally only those
// targeting entityID.
func (q *ModerationQueue) ListPending(ctx context.Context, entityID string) ([]models.PendingChange, error) {
	if entityID != "" {
		return q.scan(prefixEntity+entityID+"/", false, 0, isPending)
	}
	return q.scan(prefixPending, false, 0, nil)
}

// ListRecent returns the newest changes of any status.
func (q *ModerationQueue) ListRecent(ctx context.Context, limit int) ([]models.PendingChange, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	return q.scan(prefixTime, true, limit, nil)
}

// ListByStatus returns changes with status, newest first.
func (q *ModerationQueue) ListByStatus(ctx context.Context, status string, limit int) ([]models.PendingChange, error) {
	switch status {
	case models.StatusPending, models.StatusApproved, models.StatusRejected:
	default:
		return nil, apperr.Validation("invalid status", map[string]string{"status": "must be pending, approved or rejected"})
	}
	if limit <= 0 || limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	return q.scan(prefixTime, true, limit, func(c *models.PendingChange) bool {
		return c.Status == status
	})
}

// ListBySubmitter returns wallet's changes, newest first.
func (q *ModerationQueue) ListBySubmitter(ctx context.Context, wallet string, limit int) ([]models.PendingChange, error) {
	return q.scan(prefixSubmitter+wallet+"/", true, limit, nil)
}

// CountBySubmitter counts wallet's changes per status.
func (q *ModerationQueue) CountBySubmitter(ctx context.Context, wallet string) (map[string]int, error) {
	changes, err := q.ListBySubmitter(ctx, wallet, 0)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{
		models.StatusPending:  0,
		models.StatusApproved: 0,
		models.StatusRejected: 0,
	}
	for _, c := range changes {
		counts[c.Status]++
	}
	return counts, nil
}
