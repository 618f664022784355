package handlers

import (
	"net/http"

	"ethapplist/internal/changeset"
	"ethapplist/internal/middleware"
	"ethapplist/internal/models"
	"ethapplist/internal/services"

	"github.com/gin-gonic/gin"
)

type ProductHandler struct {
	revisions *services.RevisionStore
	listings  *services.Listings
	ranker    *services.TrendingRanker
	queue     *services.ModerationQueue
	votes     *services.VoteLedger
}

func NewProductHandler(revisions *services.RevisionStore, listings *services.Listings, ranker *services.TrendingRanker, queue *services.ModerationQueue, votes *services.VoteLedger) *ProductHandler {
	return &ProductHandler{revisions: revisions, listings: listings, ranker: ranker, queue: queue, votes: votes}
}

// List serves the public listing with filters, sort and paging.
func (h *ProductHandler) List(c *gin.Context) {
	page, err := queryPage(c)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := h.listings.List(c.Request.Context(), services.ListQuery{
		Category: c.Query("category"),
		Chain:    c.Query("chain"),
		Search:   c.Query("search"),
		Sort:     c.Query("sort"),
		Page:     page,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ProductHandler) Random(c *gin.Context) {
	n, err := queryInt(c, "n", 1)
	if err != nil {
		fail(c, err)
		return
	}
	products, err := h.ranker.Random(c.Request.Context(), n)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// Get serves one active product; signed-in callers also learn whether they voted for it.
func (h *ProductHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.revisions.GetActive(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if acc, ok := middleware.CurrentAccount(c); ok {
		if p.HasVoted, err = h.votes.HasVoted(ctx, acc.Wallet, p.ID); err != nil {
			fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProductHandler) History(c *gin.Context) {
	page, err := queryPage(c)
	if err != nil {
		fail(c, err)
		return
	}
	revs, total, err := h.revisions.History(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		fail(c, err)
		return
	}
	page = page.Normalize(20, 100)
	c.JSON(http.StatusOK, gin.H{
		"revisions": revs,
		"total":     total,
		"page":      page.Page,
		"per_page":  page.PerPage,
		"pages":     page.Pages(total),
	})
}

// Create publishes directly for curators and queues a proposal for
// everyone else.
func (h *ProductHandler) Create(c *gin.Context) {
	acc := account(c)
	req, err := readChange(c)
	if err != nil {
		fail(c, err)
		return
	}

	if !acc.IsCurator() {
		h.submit(c, models.ChangeCreate, "", req)
		return
	}
	h.commit(c, http.StatusCreated, models.ChangeCreate, "", req)
}

// Update is the curator path that skips the queue.
func (h *ProductHandler) Update(c *gin.Context) {
	req, err := readChange(c)
	if err != nil {
		fail(c, err)
		return
	}
	h.commit(c, http.StatusOK, models.ChangeUpdate, c.Param("id"), req)
}

// Edit proposes an update for review.
func (h *ProductHandler) Edit(c *gin.Context) {
	req, err := readChange(c)
	if err != nil {
		fail(c, err)
		return
	}
	h.submit(c, models.ChangeUpdate, c.Param("id"), req)
}

// Delete removes the product when an admin asks, otherwise it queues a
// removal proposal.
func (h *ProductHandler) Delete(c *gin.Context) {
	acc := account(c)
	req, err := readChange(c)
	if err != nil {
		fail(c, err)
		return
	}
	if !acc.IsAdmin() {
		h.submit(c, models.ChangeDelete, c.Param("id"), req)
		return
	}
	h.commit(c, http.StatusOK, models.ChangeDelete, c.Param("id"), req)
}

func (h *ProductHandler) commit(c *gin.Context, status int, changeType, productID string, req *changeRequest) {
	fields, err := changeset.Parse(changeType, req.Product)
	if err != nil {
		fail(c, err)
		return
	}
	summary := changeset.StripMarkup(req.EditSummary)
	if len([]rune(summary)) > services.MaxEditSummary {
		fail(c, badRequest("edit_summary", "too long"))
		return
	}
	res, err := h.revisions.Commit(c.Request.Context(), services.CommitRequest{
		ProductID:   productID,
		ChangeType:  changeType,
		Fields:      fields,
		EditSummary: summary,
		Editor:      account(c).Wallet,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(status, gin.H{
		"product":         res.Product,
		"revision_number": res.RevisionNumber,
	})
}

func (h *ProductHandler) submit(c *gin.Context, changeType, productID string, req *changeRequest) {
	change, err := h.queue.Submit(c.Request.Context(), services.SubmitRequest{
		EntityType:  models.EntityProduct,
		EntityID:    productID,
		ChangeType:  changeType,
		ChangeData:  req.Product,
		EditSummary: req.EditSummary,
		MinorEdit:   req.MinorEdit,
		Submitter:   account(c).Wallet,
	})
	if err != nil {
		fail(c, err)
		return
	}
	middleware.Logger(c).Info("Change queued for review", "change_id", change.ID, "change_type", changeType)
	c.JSON(http.StatusAccepted, gin.H{"pending_change": change})
}
