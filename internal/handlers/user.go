package handlers

import (
	"net/http"
	"time"

	"ethapplist/internal/models"
	"ethapplist/internal/services"
	"ethapplist/internal/utils"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	votes *services.VoteLedger
	queue *services.ModerationQueue
}

func NewUserHandler(votes *services.VoteLedger, queue *services.ModerationQueue) *UserHandler {
	return &UserHandler{votes: votes, queue: queue}
}

// Permissions reports what the current wallet may do.
func (h *UserHandler) Permissions(c *gin.Context) {
	acc := account(c)
	c.JSON(http.StatusOK, gin.H{
		"canAdd":    true,
		"canEdit":   acc.IsCurator(),
		"isAdmin":   acc.IsAdmin(),
		"isCurator": acc.IsCurator(),
	})
}

// Profile summarises the wallet's votes and submissions.
func (h *UserHandler) Profile(c *gin.Context) {
	acc := account(c)
	ctx := c.Request.Context()

	counts, err := h.queue.CountBySubmitter(ctx, acc.Wallet)
	if err != nil {
		fail(c, err)
		return
	}
	cast, err := h.votes.CastBy(ctx, acc.Wallet)
	if err != nil {
		fail(c, err)
		return
	}

	level, icon := utils.ContributorLevel(counts[models.StatusApproved])
	c.JSON(http.StatusOK, gin.H{
		"wallet":            acc.Wallet,
		"display_name":      utils.ShortWallet(acc.Wallet),
		"role":              acc.Role,
		"created_at":        acc.CreatedAt,
		"days_since_joined": utils.DaysSince(time.Now(), acc.CreatedAt),
		"level":             level,
		"level_icon":        icon,
		"pending_changes":   counts[models.StatusPending],
		"approved_changes":  counts[models.StatusApproved],
		"rejected_changes":  counts[models.StatusRejected],
		"votes_cast":        cast,
	})
}
