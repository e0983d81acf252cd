package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/handshake"
	"github.com/MrEthical07/handshake/internal/config"
	"github.com/MrEthical07/handshake/internal/httpapi"
	"github.com/MrEthical07/handshake/jwt"
	"github.com/MrEthical07/handshake/metrics/export/prometheus"
	"github.com/MrEthical07/handshake/notify"
	"github.com/MrEthical07/handshake/provider/oidc"
	"github.com/MrEthical07/handshake/session"
)

// App owns the HTTP server and everything it depends on.
type App struct {
	httpServer *http.Server
	engine     *handshake.Engine
	logger     *zap.Logger
	cleanup    []func(context.Context) error
}

// New wires infrastructure, the login engine and the HTTP surface. On
// error everything opened so far is released.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.release(context.Background())
		}
	}()

	infra, err := setupInfra(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.cleanup = append(a.cleanup, infra.close)

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Session.AccessTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(cfg.Session.SigningKey),
		Issuer:        cfg.Session.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("access tokens: %w", err)
	}

	var sessionStore session.Store = session.NewMemoryStore(time.Now)
	if infra.Redis != nil {
		sessionStore = session.NewRedisStore(infra.Redis, "hs")
	}
	sessions, err := session.NewManager(sessionStore, tokens, session.ManagerConfig{TTL: cfg.Session.TTL})
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}

	providers, err := setupProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	notifier, err := setupNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	builder := handshake.New().
		WithConfig(cfg.Engine()).
		WithLogger(logger).
		WithProviders(providers...).
		WithDirectory(infra.Directory).
		WithSessionIssuer(sessions).
		WithAuditSink(handshake.NewZapSink(logger))
	if infra.Redis != nil {
		builder.WithRedis(infra.Redis)
	}
	if notifier != nil {
		builder.WithNotifier(notifier)
	}

	a.engine, err = builder.Build()
	if err != nil {
		return nil, fmt.Errorf("login engine: %w", err)
	}

	shutdownOTel, err := setupOTel(ctx, cfg.OTEL, a.engine)
	if err != nil {
		return nil, err
	}
	if shutdownOTel != nil {
		a.cleanup = append(a.cleanup, shutdownOTel)
		logger.Info("otel metrics export enabled", zap.String("endpoint", cfg.OTEL.Endpoint))
	}

	api, err := httpapi.New(httpapi.Options{
		Engine:    a.engine,
		Sessions:  sessions,
		Directory: infra.Directory,
		Metrics:   prometheus.NewPrometheusExporter(a.engine).Handler(),
		Checks:    infra.checks(a.engine),
		TenantID:  cfg.TenantID,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	a.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	logger.Info("login engine ready",
		zap.Strings("providers", a.engine.Providers()),
		zap.Bool("redis", infra.Redis != nil),
		zap.Bool("postgres", infra.Pool != nil),
		zap.Bool("production", cfg.Production()),
	)

	report := a.engine.SecurityReport()
	logger.Info("security posture",
		zap.Bool("tokens_signed", report.TokensSigned),
		zap.Bool("issuance_throttled", report.IssuanceThrottled),
		zap.Bool("verify_throttled", report.VerifyThrottled),
		zap.Bool("debug_codes", report.DebugCodesEnabled),
		zap.Float64("guess_probability", report.GuessProbability),
	)
	return a, nil
}

func setupProviders(ctx context.Context, cfg *config.Config) ([]handshake.IdentityProvider, error) {
	var providers []handshake.IdentityProvider
	if cfg.Google.ClientID != "" {
		google, err := oidc.New(ctx, oidc.Config{
			Name:         "google",
			IssuerURL:    cfg.Google.Issuer,
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		})
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		providers = append(providers, google)
	}
	return providers, nil
}

// setupNotifier picks SMTP when configured. Outside production a missing
// relay falls back to the log notifier; with DEBUG_LOG_CODES the engine
// logs codes itself and needs none.
func setupNotifier(cfg *config.Config, logger *zap.Logger) (handshake.Notifier, error) {
	if cfg.SMTP.Host != "" {
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		}, logger)
	}
	if cfg.DebugLogCodes {
		return nil, nil
	}
	return notify.NewLogNotifier(logger, cfg.Production())
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Engine returns the login engine.
func (a *App) Engine() *handshake.Engine {
	return a.engine
}

// Run serves HTTP until Shutdown is called.
func (a *App) Run() error {
	a.logger.Info("http server listening", zap.String("addr", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server and releases every dependency.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := a.release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) release(ctx context.Context) error {
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}

	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanup = nil
	return errors.Join(errs...)
}
