package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ethapplist/internal/apperr"
	"ethapplist/internal/identity"
	"ethapplist/internal/logger"
	"ethapplist/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeResolver struct {
	sessions map[string]*identity.Session
	err      error
}

func (f fakeResolver) Resolve(_ context.Context, token string) (*identity.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[token]
	if !ok {
		return nil, apperr.Unauthorized("invalid session token")
	}
	return s, nil
}

type fakeAccounts map[string]*models.Account

func (f fakeAccounts) Get(_ context.Context, wallet string) (*models.Account, error) {
	if acc, ok := f[wallet]; ok {
		return acc, nil
	}
	return &models.Account{Wallet: wallet, Role: models.RoleUser}, nil
}

const (
	userWallet    = "0x1111111111111111111111111111111111111111"
	curatorWallet = "0x2222222222222222222222222222222222222222"
)

func newEngine(resolver SessionResolver, guard gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger.Nop()))
	r.Use(LoadWallet(resolver, fakeAccounts{
		curatorWallet: {Wallet: curatorWallet, Role: models.RoleCurator},
	}))
	handlers := []gin.HandlerFunc{}
	if guard != nil {
		handlers = append(handlers, guard)
	}
	handlers = append(handlers, func(c *gin.Context) {
		wallet := ""
		if acc, ok := CurrentAccount(c); ok {
			wallet = acc.Wallet
		}
		c.String(http.StatusOK, wallet)
	})
	r.GET("/", handlers...)
	return r
}

func get(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

var resolver = fakeResolver{sessions: map[string]*identity.Session{
	"user":    {Wallet: userWallet},
	"curator": {Wallet: curatorWallet},
}}

func TestLoadWallet(t *testing.T) {
	r := newEngine(resolver, nil)

	rec := get(r, "user")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userWallet, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	// bad tokens fall through as anonymous
	rec = get(r, "bogus")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = get(r, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestLoadWalletInternalFailure(t *testing.T) {
	r := newEngine(fakeResolver{err: errors.New("store offline")}, nil)
	rec := get(r, "user")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "errorcode")
	assert.NotContains(t, rec.Body.String(), "store offline")
}

func TestAuthRequired(t *testing.T) {
	r := newEngine(resolver, AuthRequired())

	rec := get(r, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication required")

	rec = get(r, "bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid session token")

	rec = get(r, "user")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoleGuards(t *testing.T) {
	tests := []struct {
		name   string
		guard  gin.HandlerFunc
		token  string
		status int
	}{
		{"curator route anonymous", CuratorRequired(), "", http.StatusUnauthorized},
		{"curator route user", CuratorRequired(), "user", http.StatusForbidden},
		{"curator route curator", CuratorRequired(), "curator", http.StatusOK},
		{"admin route curator", AdminRequired(), "curator", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(newEngine(resolver, tt.guard), tt.token)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"validation", apperr.Validation("bad", map[string]string{"title": "required"}), http.StatusBadRequest, `"title":"required"`},
		{"wrapped not found", errors.Wrap(apperr.NotFound("product p1 not found"), "load"), http.StatusNotFound, `"kind":"not_found"`},
		{"already decided", apperr.AlreadyDecided("change c1 already decided"), http.StatusConflict, `"already_decided"`},
		{"plain error", errors.New("db down"), http.StatusInternalServerError, `"errorcode"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
			RespondError(c, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestStackOf(t *testing.T) {
	assert.Empty(t, stackOf(apperr.NotFound("x")))
	st := stackOf(errors.New("boom"))
	require.NotEmpty(t, st)
	assert.True(t, strings.Contains(st, "middleware"))
}
