package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/surgery-scheduler/internal/config"
	"github.com/ehr/surgery-scheduler/internal/platform/auth"
	"github.com/ehr/surgery-scheduler/internal/platform/db"
	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/ehr/surgery-scheduler/internal/platform/middleware"
	"github.com/ehr/surgery-scheduler/internal/platform/phi"
	"github.com/ehr/surgery-scheduler/internal/platform/ratelimit"
	"github.com/ehr/surgery-scheduler/internal/platform/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	maxBodySize     = "1M"
	version         = "0.1.0"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// serverDeps are the collaborators that need a live database in
// production. Tests substitute in-memory versions.
type serverDeps struct {
	sink     hipaa.Sink
	searcher hipaa.Searcher
	probe    db.Probe
	registry *prometheus.Registry
}

type server struct {
	echo    *echo.Echo
	limiter *ratelimit.Limiter
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	registry := prometheus.NewRegistry()
	probe := db.PoolProbe{Pool: pool}
	if err := telemetry.RegisterPoolGauges(registry, func() telemetry.PoolGauges {
		s := probe.Stats()
		return telemetry.PoolGauges{Total: s.TotalConns, Idle: s.IdleConns, Acquired: s.AcquiredConns, Max: s.MaxConns}
	}); err != nil {
		return err
	}

	pgSink := hipaa.NewPGSink(pool)
	srv, err := newServer(cfg, logger, serverDeps{
		sink:     pgSink,
		searcher: pgSink,
		probe:    probe,
		registry: registry,
	})
	if err != nil {
		return err
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go srv.limiter.Run(sweepCtx, cfg.RateLimitSweepInterval)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, deps serverDeps) (*server, error) {
	salt, err := cfg.PHISalt()
	if err != nil {
		return nil, err
	}
	encryption, err := hipaa.NewEncryptionService(hipaa.EncryptionConfig{
		Passphrase:    cfg.PHIEncryptionPassphrase,
		Salt:          salt,
		KeyVersion:    cfg.PHIKeyVersion,
		AllowDisabled: !cfg.IsProduction(),
	}, logger)
	if err != nil {
		return nil, err
	}

	signingKey, generated, err := resolveSigningKey(cfg.AuthSigningKey, cfg.IsDev())
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; using a random development key")
	}

	if deps.registry == nil {
		deps.registry = prometheus.NewRegistry()
	}
	if err := telemetry.Register(deps.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := deps.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	recorder := hipaa.NewRecorder(deps.sink, hipaa.NewLogSink(logger),
		hipaa.WithSinkTimeout(cfg.AuditSinkTimeout),
		hipaa.WithRecorderLogger(logger))
	limiter := ratelimit.New(append(rateLimitOptions(cfg), ratelimit.WithLogger(logger))...)
	resolver := auth.NewResolver(auth.ContextIdentitySource)
	guard := middleware.NewGuard(resolver, recorder, limiter, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(guard.Recovery())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
	}))
	e.Use(echomw.BodyLimit(maxBodySize))
	e.Use(telemetry.Instrument())
	e.Use(guard.Sanitize())

	e.GET("/health", healthHandler(encryption))
	if deps.probe != nil {
		e.GET("/health/db", db.HealthHandler(deps.probe, logger))
	}
	e.GET("/metrics", echo.WrapHandler(telemetry.Handler(deps.registry)))

	authCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: signingKey,
		OnFailure:  guard.AuthFailureHook,
	}
	authMW := auth.JWTMiddleware(authCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(authCfg)
	}

	api := e.Group("/api/v1", authMW, guard.RequireAuthenticated())

	auth.RegisterPermissionRoutes(api.Group("", guard.RateLimitByMethod()), resolver)

	patients := api.Group("/patients", guard.RateLimit(ratelimit.OpWrite))
	patients.POST("/validate", validatePatientHandler(guard, phi.NewValidator()),
		guard.RequirePermission(auth.ActionWrite, auth.ResourcePatients))

	auditGroup := api.Group("/audit-logs",
		guard.RequireEnhancedPermission(auth.ResourceTypeSystem, auth.CapViewAuditLogs, auth.ScopeUnspecified),
		guard.RateLimit(ratelimit.OpSearch))
	hipaa.NewAuditSearchHandler(deps.searcher, recorder, resolver).RegisterRoutes(auditGroup, hipaa.AuditRouteMiddleware{
		Search: []echo.MiddlewareFunc{guard.AuditAccess(auth.ResourceAuditLogs)},
		Export: []echo.MiddlewareFunc{
			guard.RequirePermission(auth.ActionExport, auth.ResourceAuditLogs),
			guard.RateLimit(ratelimit.OpExport),
		},
	})

	return &server{echo: e, limiter: limiter}, nil
}

// rateLimitOptions applies RATE_LIMIT_<OP>_* overrides on top of the
// built-in policies.
func rateLimitOptions(cfg *config.Config) []ratelimit.Option {
	defaults := ratelimit.DefaultPolicies()
	var opts []ratelimit.Option
	for name, o := range cfg.RateLimitOverrides {
		op, ok := ratelimit.ParseOperation(name)
		if !ok {
			continue
		}
		p := defaults[op]
		if o.MaxRequests > 0 {
			p.MaxRequests = o.MaxRequests
		}
		if o.Window > 0 {
			p.Window = o.Window
		}
		opts = append(opts, ratelimit.WithPolicy(op, p))
	}
	return opts
}

// resolveSigningKey decodes AUTH_SIGNING_KEY (hex). In development an empty
// value yields a random 32-byte key; the second return value reports that.
func resolveSigningKey(envValue string, dev bool) ([]byte, bool, error) {
	if envValue != "" {
		decoded, err := hex.DecodeString(envValue)
		if err != nil {
			return nil, false, fmt.Errorf("invalid AUTH_SIGNING_KEY hex value: %w", err)
		}
		if len(decoded) < 32 {
			return nil, false, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(decoded))
		}
		return decoded, false, nil
	}
	if !dev {
		return nil, false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

// validatePatientHandler checks a patient payload without storing it so
// clients can surface field errors before submitting.
func validatePatientHandler(guard *middleware.Guard, v *phi.Validator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in phi.PatientInput
		if err := guard.BindAndValidate(c, v, auth.ResourcePatients, &in); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]bool{"valid": true})
	}
}

type healthStatus struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	PHIEncryption string `json:"phi_encryption"`
	KeyVersion    int    `json:"key_version,omitempty"`
}

func healthHandler(enc *hipaa.EncryptionService) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := healthStatus{Status: "ok", Version: version, PHIEncryption: "disabled"}
		if enc.IsEnabled() {
			h.PHIEncryption = "enabled"
			h.KeyVersion = enc.CurrentVersion()
		}
		return c.JSON(http.StatusOK, h)
	}
}
