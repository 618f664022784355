package handlers

import (
	"net/http"

	"ethapplist/internal/apperr"
	"ethapplist/internal/identity"
	"ethapplist/internal/middleware"
	"ethapplist/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	verifier *identity.Verifier
	accounts *services.Accounts
}

func NewAuthHandler(verifier *identity.Verifier, accounts *services.Accounts) *AuthHandler {
	return &AuthHandler{verifier: verifier, accounts: accounts}
}

// Challenge returns the message the wallet has to sign.
func (h *AuthHandler) Challenge(c *gin.Context) {
	message, err := h.verifier.Challenge(c.Query("wallet"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

type verifyRequest struct {
	Wallet    string `json:"wallet" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

// Verify checks the signed challenge and opens a session. The token is
// returned for bearer use and also kept in the cookie session.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.verifier.Verify(c.Request.Context(), req.Wallet, req.Signature, req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	acc, err := h.accounts.Touch(c.Request.Context(), s.Wallet)
	if err != nil {
		fail(c, err)
		return
	}

	if _, ok := c.Get(sessions.DefaultKey); ok {
		session := sessions.Default(c)
		session.Set(middleware.CookieTokenKey, s.Token)
		if err := session.Save(); err != nil {
			middleware.Logger(c).Warn("Failed to save cookie session", "error", err)
		}
	}

	middleware.Logger(c).Info("Wallet signed in", "wallet", s.Wallet, "role", acc.Role)
	c.JSON(http.StatusOK, gin.H{
		"token":      s.Token,
		"wallet":     s.Wallet,
		"role":       acc.Role,
		"issued_at":  s.IssuedAt,
		"expires_at": s.ExpiresAt,
	})
}

// Logout revokes the current session and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	s, ok := middleware.CurrentSession(c)
	if !ok {
		fail(c, apperr.Unauthorized("authentication required"))
		return
	}
	if err := h.verifier.Logout(c.Request.Context(), s.Token); err != nil {
		fail(c, err)
		return
	}
	if _, ok := c.Get(sessions.DefaultKey); ok {
		session := sessions.Default(c)
		session.Clear()
		_ = session.Save()
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
