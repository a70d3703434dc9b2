// Package api exposes sessions and the role panels over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chainattend/internal/attendance"
	"chainattend/internal/auth"
	"chainattend/internal/chain"
	"chainattend/internal/httpmiddleware"
	"chainattend/internal/journal"
	"chainattend/internal/session"
	"chainattend/pkg/logger"
)

// AccountSource lists the accounts the server can sign for.
type AccountSource interface {
	Accounts() []string
}

// JournalReader lists recorded transactions.
type JournalReader interface {
	List(ctx context.Context, account string, limit, offset int) ([]journal.Entry, error)
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) bool

// Options wires the handler's dependencies. Accounts, Journal, Checks and
// Challenges may be nil.
type Options struct {
	Sessions   *session.Manager
	Panels     *attendance.Registry
	Accounts   AccountSource
	Journal    JournalReader
	Checks     map[string]Check
	Challenges *auth.Challenges

	JWTIssuer     string
	JWTSigningKey string
	SessionTTL    time.Duration
	CallTimeout   time.Duration
	RatePerMinute int

	Log *zap.Logger
}

type Handler struct {
	sessions   *session.Manager
	panels     *attendance.Registry
	accounts   AccountSource
	journal    JournalReader
	checks     map[string]Check
	challenges *auth.Challenges

	issuer      string
	signingKey  string
	ttl         time.Duration
	callTimeout time.Duration
	limiter     *httpmiddleware.SimpleTokenBucket

	log     *zap.Logger
	nowFunc func() time.Time
}

func New(o Options) *Handler {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 12 * time.Hour
	}
	if o.Challenges == nil {
		o.Challenges = auth.NewChallenges(5 * time.Minute)
	}
	return &Handler{
		sessions:    o.Sessions,
		panels:      o.Panels,
		accounts:    o.Accounts,
		journal:     o.Journal,
		checks:      o.Checks,
		challenges:  o.Challenges,
		issuer:      o.JWTIssuer,
		signingKey:  o.JWTSigningKey,
		ttl:         o.SessionTTL,
		callTimeout: o.CallTimeout,
		limiter:     httpmiddleware.NewSimpleTokenBucket(o.RatePerMinute, o.RatePerMinute),
		log:         o.Log,
		nowFunc:     time.Now,
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(h.accessLog("/healthz", "/metrics"))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	public := r.Group("/v1", h.limiter.GinMiddleware())
	public.GET("/accounts", h.ListAccounts)
	public.POST("/session/challenge", h.IssueChallenge)
	public.POST("/session", h.Connect)

	authed := r.Group("/v1",
		auth.SessionAuth(h.signingKey, h.issuer),
		h.limiter.GinMiddlewareBy(accountKey),
		h.loadSession,
	)
	authed.GET("/session", h.GetSession)
	authed.DELETE("/session", h.Disconnect)
	authed.POST("/session/accounts", h.AccountsChanged)
	authed.POST("/session/retry", h.Retry)

	teacher := authed.Group("/teacher", auth.RequireRole(string(session.RoleTeacher)))
	teacher.GET("/panel", h.TeacherPanel)
	teacher.GET("/students", h.ListStudents)
	teacher.POST("/students", h.RegisterStudent)
	teacher.POST("/students/bulk", h.RegisterStudents)
	teacher.GET("/students/:address/registered", h.StudentRegistered)
	teacher.GET("/students/:address/dates", h.StudentDates)
	teacher.POST("/attendance", h.MarkAttendance)
	teacher.GET("/attendance", h.CheckAttendance)

	authed.GET("/journal", auth.RequireRole(string(session.RoleTeacher)), h.ListJournal)

	student := authed.Group("/student", auth.RequireRole(string(session.RoleStudent)))
	student.GET("/panel", h.StudentPanel)
	student.GET("/registration", h.Registration)
	student.GET("/today", h.Today)
	student.GET("/attendance", h.AttendanceOn)
	student.GET("/history", h.History)
	student.GET("/records", h.Records)
	student.GET("/summary", h.Summary)

	return r
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"contract": h.sessions.Configured()}
	code := http.StatusOK
	if !h.sessions.Configured() {
		code = http.StatusServiceUnavailable
	}
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			code = http.StatusServiceUnavailable
		}
	}
	body["status"] = "ok"
	if code != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(code, body)
}

// ---------- Errors ----------

// httpStatus maps an action error to a response code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, attendance.ErrValidation),
		errors.Is(err, session.ErrNoAccount),
		errors.Is(err, chain.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, auth.ErrUnknownChallenge),
		errors.Is(err, auth.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, attendance.ErrNotRegistered),
		errors.Is(err, chain.ErrUnknownAccount),
		errors.Is(err, chain.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// statusText is the user-facing line for err.
func statusText(err error) string {
	switch {
	case errors.Is(err, session.ErrNotConfigured):
		return err.Error()
	case errors.Is(err, attendance.ErrNotRegistered):
		return attendance.NotRegisteredMessage
	case errors.Is(err, auth.ErrUnknownChallenge), errors.Is(err, auth.ErrBadSignature):
		return "Error: " + err.Error() + ", sign a new challenge"
	default:
		return attendance.ErrorStatus(err)
	}
}

func (h *Handler) fail(c *gin.Context, err error, extra gin.H) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		h.log.Warn("request failed",
			zap.String(logger.FieldOperation, c.FullPath()),
			zap.Int("code", code),
			zap.Error(err))
	}
	body := gin.H{"error": err.Error(), "status": statusText(err)}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(code, body)
}

func invalid(msg string) error {
	return &attendance.ValidationError{Message: msg}
}

// callCtx bounds contract calls by the configured timeout.
func (h *Handler) callCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.callTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.callTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

// ---------- Middleware ----------

// accessLog writes one zap entry per request, except for skipped paths.
func (h *Handler) accessLog(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if _, ok := skipped[path]; ok {
			return
		}
		fields := []zap.Field{
			zap.String("http_method", c.Request.Method),
			zap.String("path", path),
			zap.Int("code", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if claims, ok := auth.ClaimsFrom(c); ok {
			fields = append(fields, zap.String(logger.FieldAccount, claims.Account))
		}
		h.log.Info("request", fields...)
	}
}

const sessionKey = "session"

// loadSession attaches the live session named by the token.
func (h *Handler) loadSession(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
		return
	}
	sess, err := h.sessions.Get(claims.SessionID())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "status": "Session ended, connect again"})
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func sessionFrom(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func accountKey(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok {
		return claims.Account
	}
	return ""
}

// corsMiddleware allows browser clients from any origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// HSTS only in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
