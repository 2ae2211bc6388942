package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/internal/identity"
	"voicedesk/internal/tenants"
	"voicedesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

type TokenManager interface {
	IssuePair(now time.Time, userID, tenantID, role string) (auth.TokenPair, error)
	Verify(tokenString string, expected auth.TokenType, now time.Time) (auth.Claims, error)
}

// SessionVerifier resolves an identity-provider access token to a user id.
type SessionVerifier interface {
	SessionUserID(ctx context.Context, accessToken string) (string, error)
}

type MemberLookup interface {
	MemberRole(ctx context.Context, tenantID, userID string) (string, error)
}

// AuthHandlers issues admin API tokens. The role always comes from the
// tenant membership table, never from the request.
type AuthHandlers struct {
	Tokens TokenManager
	// Sessions is nil when no identity provider is configured; the session
	// exchange then answers not_configured.
	Sessions SessionVerifier
	Members  MemberLookup
	Now      func() time.Time
}

func (h AuthHandlers) Register(g gin.IRoutes) {
	g.POST("/auth/token", h.Exchange)
	g.POST("/auth/refresh", h.Refresh)
}

type exchangeRequest struct {
	TenantID string `json:"tenant_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Exchange trades "Authorization: Bearer <identity access token>" plus a
// tenant id for a token pair.
func (h AuthHandlers) Exchange(c *gin.Context) {
	if h.Sessions == nil {
		abort(c, http.StatusConflict, CodeNotConfigured, "identity provider is not configured")
		return
	}
	session, ok := auth.BearerToken(c)
	if !ok {
		abort(c, http.StatusUnauthorized, CodeUnauthorized, "missing bearer token")
		return
	}
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.TenantID) == "" {
		abort(c, http.StatusBadRequest, CodeValidation, "tenant_id is required")
		return
	}

	userID, err := h.Sessions.SessionUserID(c.Request.Context(), session)
	switch {
	case errors.Is(err, identity.ErrInvalidSession):
		abort(c, http.StatusUnauthorized, CodeUnauthorized, "invalid session")
		return
	case err != nil:
		logger.FromGin(c).Warn("session lookup failed", "error", err)
		abort(c, http.StatusBadGateway, CodeUpstream, "identity provider unavailable")
		return
	}
	h.issue(c, userID, strings.TrimSpace(req.TenantID))
}

// Refresh trades a refresh token for a new pair. Membership is checked
// again, so a removed user cannot keep refreshing.
func (h AuthHandlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		abort(c, http.StatusBadRequest, CodeValidation, "refresh_token is required")
		return
	}
	claims, err := h.Tokens.Verify(req.RefreshToken, auth.TokenTypeRefresh, h.now())
	if err != nil {
		abort(c, http.StatusUnauthorized, CodeUnauthorized, "invalid refresh token")
		return
	}
	h.issue(c, claims.UserID, claims.TenantID)
}

func (h AuthHandlers) issue(c *gin.Context, userID, tenantID string) {
	log := logger.FromGin(c).With("user_id", userID, "tenant_id", tenantID)

	role, err := h.Members.MemberRole(c.Request.Context(), tenantID, userID)
	switch {
	case errors.Is(err, tenants.ErrNotFound):
		log.Info("token refused, not a member")
		abort(c, http.StatusForbidden, CodeForbidden, "not a member of this tenant")
		return
	case err != nil:
		fail(c, err)
		return
	}

	pair, err := h.Tokens.IssuePair(h.now(), userID, tenantID, role)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, TokenType: "Bearer"})
}

func (h AuthHandlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
