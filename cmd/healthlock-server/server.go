package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/healthlock/healthlock/internal/config"
	"github.com/healthlock/healthlock/internal/domain/accesslog"
	"github.com/healthlock/healthlock/internal/domain/account"
	"github.com/healthlock/healthlock/internal/domain/consent"
	"github.com/healthlock/healthlock/internal/domain/record"
	"github.com/healthlock/healthlock/internal/platform/auth"
	"github.com/healthlock/healthlock/internal/platform/blobstore"
	"github.com/healthlock/healthlock/internal/platform/db"
	"github.com/healthlock/healthlock/internal/platform/metrics"
	"github.com/healthlock/healthlock/internal/platform/middleware"
	"github.com/healthlock/healthlock/internal/platform/notification"
	"github.com/healthlock/healthlock/internal/platform/response"
)

const (
	version        = "0.1.0"
	requestTimeout = 30 * time.Second
	defaultBody    = "1M"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// generalRateLimit converts the per-second settings into a bucket of Burst
// requests refilled at RPS.
func generalRateLimit(cfg *config.Config) middleware.RateLimitConfig {
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return middleware.RateLimitConfig{Limit: 40, Window: 2 * time.Second}
	}
	window := time.Duration(float64(cfg.RateLimitBurst) / cfg.RateLimitRPS * float64(time.Second))
	return middleware.RateLimitConfig{Limit: cfg.RateLimitBurst, Window: window}
}

func windowOrDefault(limit int, window time.Duration, def middleware.RateLimitConfig) middleware.RateLimitConfig {
	if limit <= 0 || window <= 0 {
		return def
	}
	return middleware.RateLimitConfig{Limit: limit, Window: window}
}

// ipExtractor decides where c.RealIP comes from. X-Forwarded-For is only
// honoured behind a trusted proxy; it keys the rate limiters and the access log.
func ipExtractor(cfg *config.Config) echo.IPExtractor {
	if !cfg.TrustProxy {
		return echo.ExtractIPDirect()
	}
	var opts []echo.TrustOption
	for _, cidr := range cfg.TrustedProxies {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			opts = append(opts, echo.TrustIPRange(ipNet))
		}
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

func isRecordUpload(c echo.Context) bool {
	return c.Request().Method == http.MethodPost && strings.HasSuffix(strings.TrimRight(c.Path(), "/"), "/patient/records")
}

// openBlobStore picks the record payload backend. The returned close func is
// never nil.
func openBlobStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (blobstore.BlobStore, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch cfg.BlobBackend {
	case "memory":
		return blobstore.NewInMemoryBlobStore(cfg.MaxUploadBytes), noop, nil
	case "gridfs":
		client, err := blobstore.ConnectMongo(ctx, cfg.MongoURL)
		if err != nil {
			return nil, noop, err
		}
		store := blobstore.NewGridFSBlobStore(client.Database(cfg.MongoDatabase), blobstore.DefaultBucket, cfg.MaxUploadBytes)
		return store, client.Disconnect, nil
	default:
		return blobstore.NewPostgresBlobStore(pool, cfg.MaxUploadBytes), noop, nil
	}
}

func newDispatcher(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) *notification.Dispatcher {
	var sender notification.EmailSender
	if cfg.SMTPConfigured() {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.MailFrom,
		})
	} else {
		logger.Warn().Msg("SMTP not configured, notifications will be skipped")
	}
	return notification.NewDispatcher(sender, notification.NewTemplateEngine(), logger, m)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Tokens first: a bad signing key must stop startup.
	tokens, err := auth.NewTokenService([]byte(cfg.JWTSecret),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize token service")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	blobs, closeBlobs, err := openBlobStore(ctx, cfg, pool)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.BlobBackend).Msg("failed to open blob store")
	}
	logger.Info().Str("backend", cfg.BlobBackend).Msg("blob store ready")

	m := metrics.New()
	dispatcher := newDispatcher(cfg, logger, m)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = response.ErrorHandler(logger)
	e.IPExtractor = ipExtractor(cfg)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(m.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(defaultBody, middleware.UploadLimit(cfg.MaxUploadBytes), isRecordUpload))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(auth.SessionMiddleware(tokens))

	api := e.Group("/api")
	api.Use(middleware.RateLimit(generalRateLimit(cfg)))
	authLimit := middleware.RateLimit(windowOrDefault(cfg.AuthRateLimit, cfg.AuthRateLimitWindow, middleware.AuthRateLimitConfig()))
	recordLimit := middleware.RateLimit(windowOrDefault(cfg.RecordRateLimit, cfg.RecordRateLimitWindow, middleware.RecordRateLimitConfig()))

	api.GET("/health", func(c echo.Context) error {
		return response.OK(c, map[string]string{"status": "ok", "version": version})
	})
	api.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Accounts
	accountSvc := account.NewService(account.NewRepoPG(pool), dispatcher, logger, cfg.FrontendBaseURL)
	cookies := auth.NewCookiePolicy(cfg.IsProduction(), cfg.SessionTTL)
	account.NewHandler(accountSvc, tokens, cookies).RegisterRoutes(api, authLimit)

	// Access log
	logSvc := accesslog.NewService(accesslog.NewRepoPG(pool), logger)
	accesslog.NewHandler(logSvc).RegisterRoutes(api)

	// Records
	recordRepo := record.NewRepoPG(pool)
	recordSvc := record.NewService(record.Deps{
		Repo:     recordRepo,
		Blobs:    blobs,
		Tokens:   tokens,
		Accounts: accountSvc,
		Logs:     logSvc,
		Notifier: dispatcher,
		Metrics:  m,
		Logger:   logger,
	}, record.Config{
		FrontendBaseURL: cfg.FrontendBaseURL,
		TokenTTL:        cfg.RecordTokenTTL,
		MaxUploadBytes:  cfg.MaxUploadBytes,
	})
	record.NewHandler(recordSvc).RegisterRoutes(api, recordLimit)

	// Profile access requests
	consentSvc := consent.NewService(consent.Deps{
		Repo:     consent.NewRepoPG(pool),
		Accounts: accountSvc,
		Records:  recordRepo,
		Notifier: dispatcher,
		Metrics:  m,
		Logger:   logger,
	}, consent.Config{
		TTL:             cfg.ProfileReqTTL,
		FrontendBaseURL: cfg.FrontendBaseURL,
	})
	consent.NewHandler(consentSvc).RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("notifications", dispatcher.Enabled()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	dispatcher.Wait()
	if err := closeBlobs(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("blob store close failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
