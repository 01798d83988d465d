// Package server is the HTTP edge: echo routing, the bearer-token guard,
// request metrics, and the JSON contract. All decisions live in the auth
// engine and the quote gate; handlers translate.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/auth"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/quotegate"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/rbac"
)

// QuoteSaver persists an accepted submission.
type QuoteSaver interface {
	Save(ctx context.Context, sub *quotegate.Submission) (string, error)
}

// Config carries the transport-level knobs.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// SecureCookies marks the refresh cookie Secure; disabled only for
	// local plain-HTTP development.
	SecureCookies bool
	// RefreshCookieTTL matches the session TTL.
	RefreshCookieTTL time.Duration
}

type Server struct {
	config   Config
	engine   *auth.Engine
	gate     *quotegate.Gate
	quotes   QuoteSaver
	notifier Notifier
	logger   *slog.Logger
	echo     *echo.Echo
}

func New(
	cfg Config,
	engine *auth.Engine,
	gate *quotegate.Gate,
	quotes QuoteSaver,
	notifier Notifier,
	logger *slog.Logger,
	registry *prometheus.Registry,
) *Server {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	s := &Server{
		config:   cfg,
		engine:   engine,
		gate:     gate,
		quotes:   quotes,
		notifier: notifier,
		logger:   logger,
		echo:     e,
	}

	e.Use(echomw.Recover())
	e.Use(clientContext)
	if registry != nil {
		e.Use(requestMetrics(registry))
		e.GET("/metrics", metricsHandler(registry))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	authGroup := e.Group("/auth")
	authGroup.POST("/login", s.handleLogin)
	authGroup.POST("/login/mfa", s.handleLoginMFA)
	authGroup.POST("/refresh", s.handleRefresh)
	authGroup.POST("/logout", s.handleLogout)

	guarded := authGroup.Group("", s.guard)
	guarded.POST("/2fa/setup", s.handleTOTPSetup)
	guarded.POST("/2fa/confirm", s.handleTOTPConfirm)
	guarded.POST("/2fa/disable", s.handleTOTPDisable)
	guarded.POST("/2fa/backup-codes", s.handleBackupCodes)
	guarded.PUT("/password", s.handlePasswordChange)
	guarded.GET("/sessions", s.handleSessionEstimate, s.requireRole(rbac.RoleAdmin, "sessions.estimate"))

	e.POST("/quotes", s.handleQuote)

	return s
}

func (s *Server) Start() error {
	return s.echo.Start(s.config.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}
