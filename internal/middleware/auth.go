package middleware

import (
	"context"
	"strings"

	"ethapplist/internal/apperr"
	"ethapplist/internal/identity"
	"ethapplist/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	WalletKey  = "wallet"
	SessionKey = "session"
	AccountKey = "account"
	authErrKey = "auth_error"

	// CookieTokenKey is where the browser session keeps the bearer token.
	CookieTokenKey = "token"
)

type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*identity.Session, error)
}

type AccountLookup interface {
	Get(ctx context.Context, wallet string) (*models.Account, error)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// LoadWallet resolves the caller's session token, from the Authorization
// header or else the session cookie, and puts the wallet and its account on
// the context. Anonymous requests pass through.
func LoadWallet(resolver SessionResolver, accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		fromCookie := false
		if _, hasStore := c.Get(sessions.DefaultKey); token == "" && hasStore {
			if v, ok := sessions.Default(c).Get(CookieTokenKey).(string); ok {
				token = v
				fromCookie = true
			}
		}
		if token == "" {
			c.Next()
			return
		}

		s, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				RespondError(c, err)
				c.Abort()
				return
			}
			c.Set(authErrKey, err)
			if fromCookie {
				sess := sessions.Default(c)
				sess.Delete(CookieTokenKey)
				_ = sess.Save()
			}
			c.Next()
			return
		}

		acc, err := accounts.Get(c.Request.Context(), s.Wallet)
		if err != nil {
			RespondError(c, err)
			c.Abort()
			return
		}
		c.Set(WalletKey, s.Wallet)
		c.Set(SessionKey, s)
		c.Set(AccountKey, acc)
		c.Set(loggerKey, Logger(c).With("wallet", s.Wallet))
		c.Next()
	}
}

// CurrentAccount returns the authenticated account, if any.
func CurrentAccount(c *gin.Context) (*models.Account, bool) {
	v, ok := c.Get(AccountKey)
	if !ok {
		return nil, false
	}
	acc, ok := v.(*models.Account)
	return acc, ok
}

// CurrentSession returns the resolved session, if any.
func CurrentSession(c *gin.Context) (*identity.Session, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*identity.Session)
	return s, ok
}

// authenticated writes a 401 and aborts when the request has no valid
// session.
func authenticated(c *gin.Context) bool {
	if _, ok := CurrentAccount(c); ok {
		return true
	}
	if err, ok := c.Get(authErrKey); ok {
		RespondError(c, err.(error))
	} else {
		RespondError(c, apperr.Unauthorized("authentication required"))
	}
	c.Abort()
	return false
}

// AuthRequired rejects requests without a valid session.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticated(c) {
			c.Next()
		}
	}
}

// CuratorRequired allows curators and admins.
func CuratorRequired() gin.HandlerFunc {
	return requireRole(func(a *models.Account) bool { return a.IsCurator() }, "curator permission required")
}

// AdminRequired allows admins only.
func AdminRequired() gin.HandlerFunc {
	return requireRole(func(a *models.Account) bool { return a.IsAdmin() }, "admin permission required")
}

func requireRole(allowed func(*models.Account) bool, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticated(c) {
			return
		}
		acc, _ := CurrentAccount(c)
		if !allowed(acc) {
			RespondError(c, apperr.Forbidden("%s", message))
			c.Abort()
			return
		}
		c.Next()
	}
}
