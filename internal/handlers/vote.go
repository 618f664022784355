package handlers

import (
	"net/http"

	"ethapplist/internal/apperr"
	"ethapplist/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type VoteHandler struct {
	votes *services.VoteLedger
}

func NewVoteHandler(votes *services.VoteLedger) *VoteHandler {
	return &VoteHandler{votes: votes}
}

// Upvote casts the caller's vote. A repeated vote answers 409 with the
// current count so the client can reconcile its optimistic state.
func (h *VoteHandler) Upvote(c *gin.Context) {
	wallet := account(c).Wallet
	productID := c.Param("id")

	count, err := h.votes.Upvote(c.Request.Context(), wallet, productID)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindDuplicateVote {
			current, cerr := h.votes.Count(c.Request.Context(), productID)
			if cerr != nil {
				fail(c, cerr)
				return
			}
			c.JSON(http.StatusConflict, gin.H{
				"error":        appErr,
				"product_id":   productID,
				"upvote_count": current,
				"has_voted":    true,
			})
			return
		}
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id":   productID,
		"upvote_count": count,
		"has_voted":    true,
	})
}

// VoteStates maps every requested product id to whether the caller voted.
func (h *VoteHandler) VoteStates(c *gin.Context) {
	states, err := h.votes.VoteStates(c.Request.Context(), account(c).Wallet, queryList(c, "ids"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}
