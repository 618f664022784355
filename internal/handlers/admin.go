package handlers

import (
	"net/http"

	"ethapplist/internal/models"
	"ethapplist/internal/services"

	"github.com/gin-gonic/gin"
)

// AdminHandler is the curator review surface over the moderation queue.
type AdminHandler struct {
	queue     *services.ModerationQueue
	revisions *services.RevisionStore
}

func NewAdminHandler(queue *services.ModerationQueue, revisions *services.RevisionStore) *AdminHandler {
	return &AdminHandler{queue: queue, revisions: revisions}
}

// PendingChanges lists the queue, oldest first. ?status= switches to
// decided changes and ?entity_id= narrows to one product.
func (h *AdminHandler) PendingChanges(c *gin.Context) {
	var (
		changes []models.PendingChange
		err     error
	)
	status := c.Query("status")
	if status != "" && status != models.StatusPending {
		limit, lerr := queryInt(c, "limit", services.MaxRecentLimit)
		if lerr != nil {
			fail(c, lerr)
			return
		}
		changes, err = h.queue.ListByStatus(c.Request.Context(), status, limit)
	} else {
		changes, err = h.queue.ListPending(c.Request.Context(), c.Query("entity_id"))
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes, "count": len(changes)})
}

// Product shows a product the way a reviewer needs it: current state,
// latest revisions and the proposals still waiting on it.
func (h *AdminHandler) Product(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	p, err := h.revisions.Get(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	revs, total, err := h.revisions.History(ctx, id, services.Page{Page: 1, PerPage: 20})
	if err != nil {
		fail(c, err)
		return
	}
	pending, err := h.queue.ListPending(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product":         p,
		"revisions":       revs,
		"revision_count":  total,
		"pending_changes": pending,
	})
}

func (h *AdminHandler) Approve(c *gin.Context) {
	d, err := h.queue.Approve(c.Request.Context(), c.Param("id"), account(c).Wallet)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *AdminHandler) Reject(c *gin.Context) {
	d, err := h.queue.Reject(c.Request.Context(), c.Param("id"), account(c).Wallet)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// RecentEdits lists the newest changes of any status.
func (h *AdminHandler) RecentEdits(c *gin.Context) {
	limit, err := queryInt(c, "limit", services.DefaultRecentLimit)
	if err != nil {
		fail(c, err)
		return
	}
	changes, err := h.queue.ListRecent(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}
