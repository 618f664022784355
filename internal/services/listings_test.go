package services

import (
	"context"
	"fmt"
	"testing"

	"ethapplist/internal/apperr"
	"ethapplist/internal/models"
	"ethapplist/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func titles(products []models.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Title
	}
	return out
}

func seedRanked(t *testing.T, env *testEnv) (a, b, c *models.Product) {
	t.Helper()
	ctx := context.Background()
	env.revisions.now = steppingClock()
	a = env.createProduct(t, "Alpha")
	b = env.createProduct(t, "Beta")
	c = env.createProduct(t, "Gamma")

	for _, w := range []string{alice, bob} {
		_, err := env.votes.Upvote(ctx, w, a.ID)
		require.NoError(t, err)
	}
	_, err := env.votes.Upvote(ctx, alice, b.ID)
	require.NoError(t, err)
	return a, b, c
}

func TestRankOrdersByVotes(t *testing.T) {
	env := newEnv(t)
	a, b, c := seedRanked(t, env)

	ids, err := env.ranker.Rank(context.Background(), utils.WindowWeek)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids)

	_, err = env.ranker.Rank(context.Background(), utils.Window("decade"))
	requireKind(t, apperr.KindValidation, err)
}

func TestRankSkipsRemovedProducts(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	a, b, c := seedRanked(t, env)

	_, err := env.revisions.Commit(ctx, CommitRequest{ProductID: a.ID, ChangeType: models.ChangeDelete, Editor: admin})
	require.NoError(t, err)

	ids, err := env.ranker.Rank(ctx, utils.WindowAll)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID}, ids)
}

func TestListNewAndTop(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	seedRanked(t, env)

	res, err := env.listings.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Gamma", "Beta", "Alpha"}, titles(res.Products))
	assert.EqualValues(t, 3, res.Total)
	assert.Equal(t, 1, res.Pages)

	res, err = env.listings.List(ctx, ListQuery{Sort: "top_day"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, titles(res.Products))
	assert.EqualValues(t, 2, res.Products[0].UpvoteCount)

	res, err = env.listings.List(ctx, ListQuery{Sort: "top_all", Page: Page{Page: 2, PerPage: 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Gamma"}, titles(res.Products))
	assert.Equal(t, 2, res.Pages)

	res, err = env.listings.List(ctx, ListQuery{Sort: "top_all", Page: Page{Page: 9, PerPage: 2}})
	require.NoError(t, err)
	assert.Empty(t, res.Products)

	_, err = env.listings.List(ctx, ListQuery{Sort: "hot"})
	requireKind(t, apperr.KindValidation, err)
	_, err = env.listings.List(ctx, ListQuery{Sort: "top_century"})
	requireKind(t, apperr.KindValidation, err)
}

func TestListHugePage(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	seedRanked(t, env)

	for _, order := range []string{"new", "top_all", "top_week"} {
		res, err := env.listings.List(ctx, ListQuery{Sort: order, Page: Page{Page: 461168601842738792, PerPage: 20}})
		require.NoError(t, err, order)
		assert.Empty(t, res.Products, order)
		assert.EqualValues(t, 3, res.Total, order)
	}
}

func TestListFilters(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	defi := env.categoryID(t, "DeFi")

	_, err := env.revisions.Commit(ctx, CommitRequest{
		ChangeType: models.ChangeCreate,
		Fields: mustFields(t, models.ChangeCreate, fmt.Sprintf(
			`{"title": "Uniswap", "short_desc": "Swap", "categories": [%q], "chains": ["base"]}`, defi)),
		Editor: curator,
	})
	require.NoError(t, err)
	env.createProduct(t, "Snapshot")

	res, err := env.listings.List(ctx, ListQuery{Category: defi})
	require.NoError(t, err)
	assert.Equal(t, []string{"Uniswap"}, titles(res.Products))

	res, err = env.listings.List(ctx, ListQuery{Category: "defi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Uniswap"}, titles(res.Products))

	res, err = env.listings.List(ctx, ListQuery{Chain: "Base", Sort: "top_all"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Uniswap"}, titles(res.Products))

	res, err = env.listings.List(ctx, ListQuery{Search: "snap"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Snapshot"}, titles(res.Products))

	res, err = env.listings.List(ctx, ListQuery{Chain: "polygon"})
	require.NoError(t, err)
	assert.Empty(t, res.Products)
	assert.Zero(t, res.Total)
}

func TestRandomProducts(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		env.createProduct(t, fmt.Sprintf("App %d", i))
	}

	got, err := env.ranker.Random(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = env.ranker.Random(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	seen := map[string]bool{}
	for _, p := range got {
		assert.False(t, seen[p.ID])
		seen[p.ID] = true
	}
}
