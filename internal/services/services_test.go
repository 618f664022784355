package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ethapplist/internal/apperr"
	"ethapplist/internal/changeset"
	"ethapplist/internal/db/dbtest"
	"ethapplist/internal/kv"
	"ethapplist/internal/logger"
	"ethapplist/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	alice   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob     = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	curator = "0xcccccccccccccccccccccccccccccccccccccccc"
	admin   = "0xdddddddddddddddddddddddddddddddddddddddd"
)

type testEnv struct {
	db        *gorm.DB
	kv        *kv.Store
	catalog   *Catalog
	revisions *RevisionStore
	votes     *VoteLedger
	ranker    *TrendingRanker
	listings  *Listings
	ratings   *Ratings
	accounts  *Accounts
	queue     *ModerationQueue
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	return newEnvOn(t, dbtest.Open(t))
}

func newEnvOn(t *testing.T, gdb *gorm.DB) *testEnv {
	t.Helper()
	store, err := kv.Open("", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logger.Nop()
	env := &testEnv{db: gdb, kv: store}
	env.catalog = NewCatalog(gdb, log)
	env.revisions = NewRevisionStore(gdb, log)
	env.revisions.OnCommit(func(*CommitResult) { env.catalog.InvalidateCounts() })
	env.votes = NewVoteLedger(gdb, log)
	env.ranker = NewTrendingRanker(gdb, env.votes, log)
	env.listings = NewListings(gdb, env.ranker)
	env.ratings = NewRatings(gdb, env.revisions)
	env.accounts = NewAccounts(gdb, []string{admin}, []string{curator})
	env.queue = NewModerationQueue(store.DB, env.revisions, env.catalog, ModerationConfig{
		ClaimTTL:     5 * time.Second,
		DecisionWait: 2 * time.Second,
	}, log)
	return env
}

// steppingClock returns strictly increasing times so ordering by creation
// time is deterministic.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func mustFields(t *testing.T, changeType, data string) *changeset.ProductFields {
	t.Helper()
	f, err := changeset.Parse(changeType, []byte(data))
	require.NoError(t, err)
	return f
}

func (e *testEnv) createProduct(t *testing.T, title string) *models.Product {
	t.Helper()
	res, err := e.revisions.Commit(context.Background(), CommitRequest{
		ChangeType: models.ChangeCreate,
		Fields:     mustFields(t, models.ChangeCreate, fmt.Sprintf(`{"title": %q, "short_desc": "about %s"}`, title, title)),
		Editor:     curator,
	})
	require.NoError(t, err)
	return res.Product
}

func (e *testEnv) categoryID(t *testing.T, name string) string {
	t.Helper()
	cats, err := e.catalog.Categories(context.Background())
	require.NoError(t, err)
	for _, c := range cats {
		if c.Name == name {
			return c.ID
		}
	}
	t.Fatalf("category %s not seeded", name)
	return ""
}

func requireKind(t *testing.T, kind apperr.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), err.Error())
}
