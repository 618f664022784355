package handlers

import (
	"net/http"

	"ethapplist/internal/services"

	"github.com/gin-gonic/gin"
)

type ScoreHandler struct {
	ratings *services.Ratings
}

func NewScoreHandler(ratings *services.Ratings) *ScoreHandler {
	return &ScoreHandler{ratings: ratings}
}

func (h *ScoreHandler) Rate(c *gin.Context) {
	var in services.RatingInput
	if !bindJSON(c, &in) {
		return
	}
	rating, err := h.ratings.Rate(c.Request.Context(), account(c).Wallet, c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rating)
}

func (h *ScoreHandler) Summary(c *gin.Context) {
	sum, err := h.ratings.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Mine returns the caller's rating; rating is null when there is none.
func (h *ScoreHandler) Mine(c *gin.Context) {
	rating, err := h.ratings.Mine(c.Request.Context(), account(c).Wallet, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rating": rating})
}
