package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chainattend/internal/auth"
	"chainattend/internal/session"
	"chainattend/pkg/logger"
)

const statusLoading = "Loading contract..."

type sessionResponse struct {
	Token     string            `json:"token,omitempty"`
	ExpiresAt int64             `json:"expires_at,omitempty"`
	Session   *session.Snapshot `json:"session"`
	Status    string            `json:"status"`
}

func sessionStatus(snap session.Snapshot) string {
	switch {
	case snap.Error != "":
		return "Error: " + snap.Error
	case snap.State == session.StateLoading:
		return statusLoading
	default:
		return "Connected: " + snap.Account
	}
}

// respondSession issues a fresh token so its role claim matches the session.
func (h *Handler) respondSession(c *gin.Context, code int, sess *session.Session) {
	snap := sess.Snapshot()
	tok, err := auth.Issue(sess.ID, sess.Account, string(snap.Role), h.issuer, h.signingKey, h.ttl)
	if err != nil {
		h.log.Error("token issue failed", zap.String(logger.FieldSession, sess.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed", "status": "Error: token issue failed"})
		return
	}
	c.JSON(code, sessionResponse{
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt.Unix(),
		Session:   &snap,
		Status:    sessionStatus(snap),
	})
}

// ---------- Accounts ----------

func (h *Handler) ListAccounts(c *gin.Context) {
	accounts := []string{}
	if h.accounts != nil {
		accounts = append(accounts, h.accounts.Accounts()...)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// ---------- Session ----------

type challengeRequest struct {
	Account string `json:"account"`
}

// IssueChallenge hands out the message the account owner must sign to
// connect.
func (h *Handler) IssueChallenge(c *gin.Context) {
	if !h.sessions.Configured() {
		h.fail(c, session.ErrNotConfigured, nil)
		return
	}
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Account) == "" {
		h.fail(c, session.ErrNoAccount, nil)
		return
	}
	ch, err := h.challenges.Issue(req.Account)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"challenge": ch, "status": "Sign the message to connect"})
}

// proof is a personal_sign signature over an issued challenge.
type proof struct {
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type connectRequest struct {
	Account string `json:"account"`
	proof
}

// Connect opens a session for an account whose owner signed a challenge.
func (h *Handler) Connect(c *gin.Context) {
	if !h.sessions.Configured() {
		h.fail(c, session.ErrNotConfigured, nil)
		return
	}
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, session.ErrNoAccount, nil)
		return
	}
	account := strings.TrimSpace(req.Account)
	if account == "" {
		h.fail(c, session.ErrNoAccount, nil)
		return
	}
	if err := h.challenges.Verify(account, req.Nonce, req.Signature); err != nil {
		h.log.Warn("connect rejected", zap.String(logger.FieldAccount, account), zap.Error(err))
		h.fail(c, err, nil)
		return
	}

	ctx, cancel := h.callCtx(c)
	defer cancel()
	sess, err := h.sessions.Connect(ctx, account)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	h.respondSession(c, http.StatusCreated, sess)
}

func (h *Handler) GetSession(c *gin.Context) {
	snap := sessionFrom(c).Snapshot()
	c.JSON(http.StatusOK, sessionResponse{Session: &snap, Status: sessionStatus(snap)})
}

type accountsRequest struct {
	Accounts []string `json:"accounts"`
	proof
}

// AccountsChanged replaces the session after the wallet switched accounts.
// An empty list disconnects. Switching to another account needs a signed
// challenge for it, like Connect.
func (h *Handler) AccountsChanged(c *gin.Context) {
	var req accountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "status": "Error: invalid request"})
		return
	}
	old := sessionFrom(c)
	if len(req.Accounts) > 0 {
		next := strings.TrimSpace(req.Accounts[0])
		if next != "" && !strings.EqualFold(next, old.Account) {
			if err := h.challenges.Verify(next, req.Nonce, req.Signature); err != nil {
				h.log.Warn("account change rejected", zap.String(logger.FieldAccount, next), zap.Error(err))
				h.fail(c, err, nil)
				return
			}
		}
	}

	ctx, cancel := h.callCtx(c)
	defer cancel()
	sess, err := h.sessions.AccountsChanged(ctx, old.ID, req.Accounts)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	if sess == nil {
		c.JSON(http.StatusOK, sessionResponse{Status: "Disconnected"})
		return
	}
	h.respondSession(c, http.StatusOK, sess)
}

// Retry re-runs role resolution for a session that failed to load.
func (h *Handler) Retry(c *gin.Context) {
	ctx, cancel := h.callCtx(c)
	defer cancel()
	sess, err := h.sessions.Retry(ctx, sessionFrom(c).ID)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	h.respondSession(c, http.StatusOK, sess)
}

func (h *Handler) Disconnect(c *gin.Context) {
	if err := h.sessions.Disconnect(sessionFrom(c).ID); err != nil {
		h.fail(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}
