package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MrEthical07/handshake"
	"github.com/MrEthical07/handshake/session"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options wires the HTTP surface.
type Options struct {
	Engine    *handshake.Engine
	Sessions  *session.Manager
	Directory handshake.IdentityDirectory
	Metrics   http.Handler
	Checks    map[string]HealthCheck
	TenantID  string
	Logger    *zap.Logger
}

// Handler serves the login endpoints.
type Handler struct {
	engine    *handshake.Engine
	sessions  *session.Manager
	directory handshake.IdentityDirectory
	metrics   http.Handler
	checks    map[string]HealthCheck
	tenantID  string
	redirect  handshake.RedirectConfig
	logger    *zap.Logger
}

// New validates opts and returns a Handler.
func New(opts Options) (*Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("httpapi: session manager required")
	}
	if opts.Directory == nil {
		return nil, errors.New("httpapi: directory required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Handler{
		engine:    opts.Engine,
		sessions:  opts.Sessions,
		directory: opts.Directory,
		metrics:   opts.Metrics,
		checks:    opts.Checks,
		tenantID:  opts.TenantID,
		redirect:  opts.Engine.Config().Redirect,
		logger:    opts.Logger.Named("http"),
	}, nil
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestContext())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the login endpoints on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	auth := r.Group("/auth")
	auth.GET("/:provider/login", h.login)
	auth.GET("/:provider/callback", h.callback)
	auth.POST("/challenge/verify", h.verify)
	auth.POST("/logout", h.logout)
	auth.GET("/me", RequireSession(h.sessions), h.me)

	r.GET("/healthz", h.health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
}

// requestContext carries the client address and tenant into the engine.
func (h *Handler) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := handshake.WithClientIP(c.Request.Context(), c.ClientIP())
		if h.tenantID != "" {
			ctx = handshake.WithTenantID(ctx, h.tenantID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (h *Handler) login(c *gin.Context) {
	start, err := h.engine.BeginHandshake(c.Request.Context(), c.Param("provider"), c.Query("from"))
	if err != nil {
		if errors.Is(err, handshake.ErrUnknownProvider) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
			return
		}
		h.logger.Error("handshake start failed", zap.String("provider", c.Param("provider")), zap.Error(err))
		h.redirectLoginFailure(c, err)
		return
	}

	setStateCookie(c.Writer, start.State, start.ExpiresAt)
	c.Redirect(http.StatusFound, start.AuthURL)
}

func (h *Handler) callback(c *gin.Context) {
	bound := stateFromRequest(c.Request)
	clearStateCookie(c.Writer)

	params := handshake.CallbackParams{
		Provider:         c.Param("provider"),
		State:            c.Query("state"),
		BoundState:       bound,
		Code:             c.Query("code"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	}

	ticket, err := h.engine.Login(c.Request.Context(), params, h.boundary(c))
	if err != nil {
		h.redirectLoginFailure(c, err)
		return
	}

	target, ok := h.redirect.FrontendURLFor(h.redirect.ChallengeEntryPath, url.Values{"challenge": {ticket.Token}})
	if !ok {
		h.logger.Error("challenge entry url rejected", zap.String("path", h.redirect.ChallengeEntryPath))
		c.JSON(http.StatusInternalServerError, gin.H{"error": handshake.CodeUnavailable})
		return
	}
	c.Redirect(http.StatusFound, target)
}

// boundary revokes whatever session the browser still carries and clears
// its cookie, so no session survives into a new login.
func (h *Handler) boundary(c *gin.Context) handshake.SessionBoundary {
	sid := session.FromRequest(c.Request)
	tenant := handshake.TenantIDFromContext(c.Request.Context())

	return handshake.SessionBoundaryFunc(func(ctx context.Context) error {
		session.ClearCookie(c.Writer)
		return h.sessions.Revoke(ctx, tenant, sid)
	})
}

func (h *Handler) redirectLoginFailure(c *gin.Context, err error) {
	reason := "error"
	if handshake.PublicCode(err) == handshake.CodeHandshakeDenied {
		reason = "failed"
	}

	target, ok := h.redirect.FrontendURLFor("/login", url.Values{"oauth": {reason}})
	if !ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": handshake.CodeHandshakeFailed})
		return
	}
	c.Redirect(http.StatusFound, target)
}

type verifyRequest struct {
	Challenge string `json:"challenge" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

type verifyResponse struct {
	Redirect    string    `json:"redirect"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *Handler) verify(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	grant, err := h.engine.VerifyChallenge(c.Request.Context(), req.Challenge, req.Code)
	if err != nil {
		code := handshake.PublicCode(err)
		status := verifyStatus(code)
		if status >= http.StatusInternalServerError {
			h.logger.Error("challenge verification failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": code})
		return
	}

	session.SetCookie(c.Writer, grant.SessionID, grant.ExpiresAt)

	redirect := grant.RedirectURL
	if redirect == "" {
		redirect = grant.RedirectPath
	}
	c.JSON(http.StatusOK, verifyResponse{
		Redirect:    redirect,
		AccessToken: grant.AccessToken,
		ExpiresAt:   grant.ExpiresAt,
	})
}

func verifyStatus(code string) int {
	switch code {
	case handshake.CodeInvalidCode:
		return http.StatusUnauthorized
	case handshake.CodeChallengeInvalid:
		return http.StatusGone
	case handshake.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

type meResponse struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	DisplayName           string     `json:"display_name"`
	Role                  string     `json:"role"`
	OnboardingCompletedAt *time.Time `json:"onboarding_completed_at"`
	SessionExpiresAt      time.Time  `json:"session_expires_at"`
}

func (h *Handler) me(c *gin.Context) {
	sess, ok := sessionFromGin(c)
	if !ok {
		writeUnauthenticated(c)
		return
	}

	profile, err := h.directory.GetUser(c.Request.Context(), sess.UserID)
	if err != nil {
		h.logger.Warn("session user lookup failed", zap.String("user_id", sess.UserID), zap.Error(err))
		writeUnauthenticated(c)
		return
	}

	c.JSON(http.StatusOK, meResponse{
		ID:                    profile.UserID,
		Email:                 profile.Email,
		DisplayName:           profile.DisplayName,
		Role:                  profile.Role,
		OnboardingCompletedAt: profile.OnboardingCompletedAt,
		SessionExpiresAt:      time.Unix(sess.ExpiresAt, 0).UTC(),
	})
}

func (h *Handler) logout(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	defer session.ClearCookie(c.Writer)

	sess, err := sessionFromRequest(c.Request, h.sessions)
	if err == nil {
		if err := h.sessions.Revoke(c.Request.Context(), sess.TenantID, sess.SessionID); err != nil {
			h.logger.Error("logout revoke failed", zap.String("session_id", sess.SessionID), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": handshake.CodeUnavailable})
			return
		}
	}
	c.Status(http.StatusNoContent)
}

const healthTimeout = 2 * time.Second

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	var failed []string
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
