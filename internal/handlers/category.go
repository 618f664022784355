package handlers

import (
	"net/http"

	"ethapplist/internal/services"

	"github.com/gin-gonic/gin"
)

type CategoryHandler struct {
	catalog *services.Catalog
}

func NewCategoryHandler(catalog *services.Catalog) *CategoryHandler {
	return &CategoryHandler{catalog: catalog}
}

// ListCategories lists every category with its product count.
func (h *CategoryHandler) ListCategories(c *gin.Context) {
	cats, err := h.catalog.Categories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (h *CategoryHandler) CreateCategory(c *gin.Context) {
	var in services.CategoryInput
	if !bindJSON(c, &in) {
		return
	}
	cat, err := h.catalog.CreateCategory(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (h *CategoryHandler) ListChains(c *gin.Context) {
	chains, err := h.catalog.Chains(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chains": chains})
}
