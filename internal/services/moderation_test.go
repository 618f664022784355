package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/changeset"
	"ethapplist/internal/db/dbtest"
	"ethapplist/internal/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func submitCreate(t *testing.T, env *testEnv, title string) *models.PendingChange {
	t.Helper()
	change, err := env.queue.Submit(context.Background(), SubmitRequest{
		ChangeType:  models.ChangeCreate,
		ChangeData:  []byte(fmt.Sprintf(`{"title": %q, "short_desc": "new app", "chains": ["ethereum"]}`, title)),
		EditSummary: "<b>please</b> add",
		Submitter:   alice,
	})
	require.NoError(t, err)
	return change
}

func submitUpdate(t *testing.T, env *testEnv, productID, data string) *models.PendingChange {
	t.Helper()
	change, err := env.queue.Submit(context.Background(), SubmitRequest{
		EntityType: models.EntityProduct,
		EntityID:   productID,
		ChangeType: models.ChangeUpdate,
		ChangeData: []byte(data),
		Submitter:  bob,
	})
	require.NoError(t, err)
	return change
}

func TestSubmitStoresPendingChange(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	change := submitCreate(t, env, "Farcaster")
	assert.Equal(t, models.StatusPending, change.Status)
	assert.Equal(t, models.EntityProduct, change.EntityType)
	assert.Equal(t, alice, change.UserID)
	assert.Equal(t, "please add", change.EditSummary)
	assert.Empty(t, change.EntityID)
	assert.Nil(t, change.DecidedAt)

	got, err := env.queue.Get(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, change.ID, got.ID)
	assert.JSONEq(t, `{"title": "Farcaster", "short_desc": "new app", "chains": [{"id": "ethereum"}]}`, got.ChangeData)

	pending, err := env.queue.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, change.ID, pending[0].ID)

	// nothing is published before approval
	var n int64
	require.NoError(t, env.db.Model(&models.Product{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	p := env.createProduct(t, "Existing")

	cases := []struct {
		name string
		req  SubmitRequest
		kind apperr.Kind
	}{
		{"missing title", SubmitRequest{ChangeType: models.ChangeCreate, ChangeData: []byte(`{"short_desc": "x"}`)}, apperr.KindValidation},
		{"malformed json", SubmitRequest{ChangeType: models.ChangeCreate, ChangeData: []byte(`{"title": `)}, apperr.KindValidation},
		{"unknown field", SubmitRequest{ChangeType: models.ChangeCreate, ChangeData: []byte(`{"title": "x", "short_desc": "y", "owner": "me"}`)}, apperr.KindValidation},
		{"bad change type", SubmitRequest{ChangeType: "merge", EntityID: p.ID, ChangeData: []byte(`{}`)}, apperr.KindValidation},
		{"bad entity type", SubmitRequest{EntityType: "category", ChangeType: models.ChangeCreate, ChangeData: []byte(`{"title": "x", "short_desc": "y"}`)}, apperr.KindValidation},
		{"create with entity", SubmitRequest{ChangeType: models.ChangeCreate, EntityID: p.ID, ChangeData: []byte(`{"title": "x", "short_desc": "y"}`)}, apperr.KindValidation},
		{"update without entity", SubmitRequest{ChangeType: models.ChangeUpdate, ChangeData: []byte(`{"title": "x"}`)}, apperr.KindValidation},
		{"unknown category", SubmitRequest{ChangeType: models.ChangeCreate, ChangeData: []byte(`{"title": "x", "short_desc": "y", "categories": ["nope"]}`)}, apperr.KindValidation},
		{"delete with data", SubmitRequest{ChangeType: models.ChangeDelete, EntityID: p.ID, ChangeData: []byte(`{"title": "x"}`)}, apperr.KindValidation},
		{"update missing product", SubmitRequest{ChangeType: models.ChangeUpdate, EntityID: "missing", ChangeData: []byte(`{"title": "x"}`)}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.Submitter = alice
			_, err := env.queue.Submit(ctx, tc.req)
			requireKind(t, tc.kind, err)
		})
	}

	recent, err := env.queue.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestApproveCreatePublishesProduct(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	change := submitCreate(t, env, "Zapper")

	d, err := env.queue.Approve(ctx, change.ID, curator)
	require.NoError(t, err)
	require.NotNil(t, d.Commit)
	assert.Equal(t, models.StatusApproved, d.Change.Status)
	assert.Equal(t, curator, d.Change.DecidedBy)
	assert.NotNil(t, d.Change.DecidedAt)
	assert.Equal(t, 1, d.Change.RevisionNumber)
	assert.Equal(t, d.Commit.ProductID, d.Change.EntityID)

	p, err := env.revisions.GetActive(ctx, d.Commit.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "Zapper", p.Title)
	assert.Equal(t, alice, p.SubmitterWallet)
	assert.Equal(t, curator, p.LastEditorWallet)
	require.Len(t, p.Chains, 1)

	pending, err := env.queue.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = env.queue.Approve(ctx, change.ID, admin)
	requireKind(t, apperr.KindAlreadyDecided, err)
	_, err = env.queue.Reject(ctx, change.ID, admin)
	requireKind(t, apperr.KindAlreadyDecided, err)

	revs, _, err := env.revisions.History(ctx, p.ID, Page{})
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestRejectLeavesCatalogUntouched(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	p := env.createProduct(t, "Rabby")
	change := submitUpdate(t, env, p.ID, `{"title": "Rabby Wallet"}`)

	d, err := env.queue.Reject(ctx, change.ID, curator)
	require.NoError(t, err)
	assert.Nil(t, d.Commit)
	assert.Equal(t, models.StatusRejected, d.Change.Status)
	assert.Equal(t, curator, d.Change.DecidedBy)
	assert.Zero(t, d.Change.RevisionNumber)

	got, err := env.revisions.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rabby", got.Title)
	assert.Equal(t, 1, got.CurrentRevisionNumber)

	_, err = env.queue.Approve(ctx, change.ID, curator)
	requireKind(t, apperr.KindAlreadyDecided, err)

	rejected, err := env.queue.ListByStatus(ctx, models.StatusRejected, 0)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, change.ID, rejected[0].ID)
}

func TestApproveUnknownChange(t *testing.T) {
	env := newEnv(t)
	_, err := env.queue.Approve(context.Background(), "missing", curator)
	requireKind(t, apperr.KindNotFound, err)
	_, err = env.queue.Get(context.Background(), "missing")
	requireKind(t, apperr.KindNotFound, err)
}

func TestFailedCommitLeavesChangePending(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	p := env.createProduct(t, "Blur")
	change := submitUpdate(t, env, p.ID, `{"short_desc": "NFT marketplace"}`)

	// the product is removed before anyone looks at the proposal
	_, err := env.revisions.Commit(ctx, CommitRequest{ProductID: p.ID, ChangeType: models.ChangeDelete, Editor: admin})
	require.NoError(t, err)

	_, err = env.queue.Approve(ctx, change.ID, curator)
	requireKind(t, apperr.KindNotFound, err)

	got, err := env.queue.Get(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	pending, err := env.queue.ListPending(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// the claim was released, so the change can still be decided
	d, err := env.queue.Reject(ctx, change.ID, curator)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, d.Change.Status)
}

func TestConcurrentDecisionsOnOneChange(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	change := submitCreate(t, env, "Lens")

	const deciders = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []*Decision
		decided   int
	)
	for i := 0; i < deciders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				d   *Decision
				err error
			)
			if i%2 == 0 {
				d, err = env.queue.Approve(ctx, change.ID, curator)
			} else {
				d, err = env.queue.Reject(ctx, change.ID, admin)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, d)
			case apperr.KindOf(err) == apperr.KindAlreadyDecided:
				decided++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, successes, 1)
	assert.Equal(t, deciders-1, decided)

	var n int64
	require.NoError(t, env.db.Model(&models.Product{}).Count(&n).Error)
	final, err := env.queue.Get(ctx, change.ID)
	require.NoError(t, err)
	if final.Status == models.StatusApproved {
		assert.EqualValues(t, 1, n)
	} else {
		assert.Equal(t, models.StatusRejected, final.Status)
		assert.Zero(t, n)
	}
}

func TestConcurrentApprovalsOnOneProduct(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	p := env.createProduct(t, "Optimism Bridge")

	const edits = 5
	ids := make([]string, edits)
	for i := range ids {
		ids[i] = submitUpdate(t, env, p.ID, fmt.Sprintf(`{"long_desc": "edit %d"}`, i)).ID
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			d, err := env.queue.Approve(ctx, id, curator)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, d.Change.RevisionNumber)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	sort.Ints(numbers)
	assert.Equal(t, []int{2, 3, 4, 5, 6}, numbers)

	got, err := env.revisions.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, edits+1, got.CurrentRevisionNumber)
}

func TestApproveReplaysEarlierCommit(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	change := submitCreate(t, env, "Gnosis Pay")

	// an approval that committed but never finalized
	fields := mustFields(t, models.ChangeCreate, change.ChangeData)
	res, err := env.revisions.Commit(ctx, CommitRequest{
		ChangeID:   change.ID,
		ChangeType: models.ChangeCreate,
		Fields:     fields,
		Editor:     admin,
		Submitter:  alice,
	})
	require.NoError(t, err)

	d, err := env.queue.Approve(ctx, change.ID, curator)
	require.NoError(t, err)
	assert.True(t, d.Commit.Replayed)
	assert.Equal(t, res.ProductID, d.Change.EntityID)
	assert.Equal(t, admin, d.Change.DecidedBy)

	var n int64
	require.NoError(t, env.db.Model(&models.Product{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestRejectAfterUnfinishedApproval(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	p := env.createProduct(t, "Morpho")
	change := submitUpdate(t, env, p.ID, `{"title": "Morpho Blue"}`)

	_, err := env.revisions.Commit(ctx, CommitRequest{
		ProductID:  p.ID,
		ChangeID:   change.ID,
		ChangeType: models.ChangeUpdate,
		Fields:     mustFields(t, models.ChangeUpdate, change.ChangeData),
		Editor:     admin,
	})
	require.NoError(t, err)

	_, err = env.queue.Reject(ctx, change.ID, curator)
	requireKind(t, apperr.KindAlreadyDecided, err)

	got, err := env.queue.Get(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, 2, got.RevisionNumber)
	assert.Equal(t, admin, got.DecidedBy)
}

func TestLiveClaimBlocksOtherDeciders(t *testing.T) {
	env := newEnv(t)
	env.queue.cfg.DecisionWait = 50 * time.Millisecond
	ctx := context.Background()
	change := submitCreate(t, env, "Pendle")

	token, _, err := env.queue.claim(ctx, change.ID, actionReject, admin)
	require.NoError(t, err)

	_, err = env.queue.Approve(ctx, change.ID, curator)
	requireKind(t, apperr.KindConflict, err)

	// a claimed change still lists as pending
	got, err := env.queue.Get(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	env.queue.release(change.ID, token)
	_, err = env.queue.Approve(ctx, change.ID, curator)
	require.NoError(t, err)
}

func TestExpiredClaimCanBeTakenOver(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	change := submitCreate(t, env, "EigenLayer")

	_, _, err := env.queue.claim(ctx, change.ID, actionApprove, admin)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	env.queue.now = func() time.Time { return later }

	d, err := env.queue.Reject(ctx, change.ID, curator)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, d.Change.Status)

	// the stale approver comes back too late
	_, err = env.queue.Approve(ctx, change.ID, admin)
	requireKind(t, apperr.KindAlreadyDecided, err)

	var n int64
	require.NoError(t, env.db.Model(&models.Product{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestQueueListings(t *testing.T) {
	env := newEnv(t)
	env.queue.now = steppingClock()
	ctx := context.Background()
	p := env.createProduct(t, "1inch")

	first := submitCreate(t, env, "First")
	second := submitUpdate(t, env, p.ID, `{"title": "1inch Fusion"}`)
	third := submitCreate(t, env, "Third")

	_, err := env.queue.Reject(ctx, first.ID, curator)
	require.NoError(t, err)

	pending, err := env.queue.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, third.ID, pending[1].ID)

	forProduct, err := env.queue.ListPending(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, forProduct, 1)
	assert.Equal(t, second.ID, forProduct[0].ID)

	recent, err := env.queue.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, third.ID, recent[0].ID)
	assert.Equal(t, second.ID, recent[1].ID)

	mine, err := env.queue.ListBySubmitter(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, third.ID, mine[0].ID)
	assert.Equal(t, models.StatusRejected, mine[1].Status)

	_, err = env.queue.ListByStatus(ctx, "archived", 0)
	requireKind(t, apperr.KindValidation, err)
}

func TestApprovePublishesReviewedText(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	titles := []string{
		"&lt;b&gt;Bold&lt;/b&gt; Protocol",
		"&amp;lt;i&amp;gt;Deep&amp;lt;/i&amp;gt; Escapes",
		"Tom &amp; Jerry Swap",
		"5 > 3 Finance",
	}
	for _, title := range titles {
		change, err := env.queue.Submit(ctx, SubmitRequest{
			ChangeType: models.ChangeCreate,
			ChangeData: []byte(fmt.Sprintf(`{"title": %q, "short_desc": "entity test"}`, title)),
			Submitter:  alice,
		})
		require.NoError(t, err, title)

		reviewed, err := changeset.Decode(models.ChangeCreate, []byte(change.ChangeData))
		require.NoError(t, err, title)
		assert.NotContains(t, *reviewed.Title, "<", title)

		d, err := env.queue.Approve(ctx, change.ID, curator)
		require.NoError(t, err, title)
		assert.Equal(t, *reviewed.Title, d.Commit.Product.Title, title)
	}

	change, err := env.queue.Submit(ctx, SubmitRequest{
		ChangeType: models.ChangeCreate,
		ChangeData: []byte(`{"title": "&lt;b&gt;Bold&lt;/b&gt; Protocol", "short_desc": "x"}`),
		Submitter:  alice,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title": "Bold Protocol", "short_desc": "x"}`, change.ChangeData)
}

func TestMarkupOnlyTitleFailsAtSubmit(t *testing.T) {
	env := newEnv(t)
	_, err := env.queue.Submit(context.Background(), SubmitRequest{
		ChangeType: models.ChangeCreate,
		ChangeData: []byte(`{"title": "&lt;b&gt;&lt;/b&gt;", "short_desc": "x"}`),
		Submitter:  alice,
	})
	requireKind(t, apperr.KindValidation, err)

	pending, err := env.queue.ListPending(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApproveAfterRecordedRejection(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	change := submitCreate(t, env, "Farcaster")

	// a rejection that was recorded but never finalized
	_, err := env.revisions.RecordRejection(ctx, change.ID, admin)
	require.NoError(t, err)

	_, err = env.queue.Approve(ctx, change.ID, curator)
	requireKind(t, apperr.KindAlreadyDecided, err)

	got, err := env.queue.Get(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, admin, got.DecidedBy)

	var n int64
	require.NoError(t, env.db.Model(&models.Product{}).Count(&n).Error)
	assert.Zero(t, n)
}

func claimedFor(t *testing.T, env *testEnv, id, action string) bool {
	var ok bool
	err := env.kv.DB.View(func(txn *badger.Txn) error {
		c, err := loadChange(txn, id)
		if err != nil {
			return err
		}
		ok = c.Claim != nil && c.Claim.Action == action
		return nil
	})
	require.NoError(t, err)
	return ok
}

func TestRejectWhileApprovalCommitIsInFlight(t *testing.T) {
	env := newEnvOn(t, dbtest.OpenShared(t))
	ctx := context.Background()
	change := submitCreate(t, env, "Safe Wallet")

	type outcome struct {
		d   *Decision
		err error
	}
	rejected := make(chan outcome, 1)
	var once sync.Once
	err := env.db.Callback().Create().After("gorm:create").Register("test:reject_in_flight", func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "revisions" {
			return
		}
		once.Do(func() {
			// the approval's claim lapses while its transaction is open
			later := time.Now().Add(time.Hour)
			env.queue.now = func() time.Time { return later }
			go func() {
				d, err := env.queue.Reject(ctx, change.ID, admin)
				rejected <- outcome{d, err}
			}()
			require.Eventually(t, func() bool {
				return claimedFor(t, env, change.ID, actionReject)
			}, 2*time.Second, 5*time.Millisecond)
			time.Sleep(50 * time.Millisecond)
		})
	})
	require.NoError(t, err)

	d, err := env.queue.Approve(ctx, change.ID, curator)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, d.Change.Status)

	select {
	case r := <-rejected:
		requireKind(t, apperr.KindAlreadyDecided, r.err)
	case <-time.After(10 * time.Second):
		t.Fatal("reject did not return")
	}

	got, err := env.queue.Get(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, 1, got.RevisionNumber)

	var n int64
	require.NoError(t, env.db.Model(&models.Product{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	decision, err := env.revisions.DecisionFor(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApprove, decision.Action)
}
