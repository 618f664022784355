package handlers

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"ethapplist/internal/apperr"
	"ethapplist/internal/middleware"
	"ethapplist/internal/models"
	"ethapplist/internal/services"

	"github.com/gin-gonic/gin"
)

// fail writes err as the JSON error response.
func fail(c *gin.Context, err error) {
	middleware.RespondError(c, err)
}

func badRequest(field, message string) error {
	return apperr.Validation("invalid request", map[string]string{field: message})
}

// bindJSON decodes the body into dst, reporting a 400 on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, badRequest("body", "malformed JSON"))
		return false
	}
	return true
}

// account returns the caller. Only valid behind AuthRequired.
func account(c *gin.Context) *models.Account {
	acc, _ := middleware.CurrentAccount(c)
	return acc
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(name, "must be an integer")
	}
	return n, nil
}

func queryPage(c *gin.Context) (services.Page, error) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return services.Page{}, err
	}
	perPage, err := queryInt(c, "per_page", 0)
	if err != nil {
		return services.Page{}, err
	}
	return services.Page{Page: page, PerPage: perPage}, nil
}

// queryList reads a comma separated list, also accepting repeated keys.
func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, v := range c.QueryArray(name) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// changeRequest is a proposed product change. Clients may send the product
// fields bare, or wrapped together with an edit summary.
type changeRequest struct {
	Product     json.RawMessage `json:"product"`
	EditSummary string          `json:"edit_summary"`
	MinorEdit   bool            `json:"minor_edit"`
}

func readChange(c *gin.Context) (*changeRequest, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, badRequest("body", "unreadable")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &changeRequest{}, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, badRequest("body", "malformed JSON")
	}
	_, wrapped := envelope["product"]
	_, hasSummary := envelope["edit_summary"]
	_, hasMinor := envelope["minor_edit"]
	if !wrapped && !hasSummary && !hasMinor {
		return &changeRequest{Product: body}, nil
	}
	var req changeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest("body", "malformed JSON")
	}
	return &req, nil
}
