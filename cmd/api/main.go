package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mpnag/discipline/internal/auth"
	"github.com/mpnag/discipline/internal/background"
	"github.com/mpnag/discipline/internal/config"
	"github.com/mpnag/discipline/internal/database"
	"github.com/mpnag/discipline/internal/handlers"
	"github.com/mpnag/discipline/internal/metrics"
	"github.com/mpnag/discipline/internal/ratelimit"
	"github.com/mpnag/discipline/internal/repositories"
	"github.com/mpnag/discipline/internal/routes"
	"github.com/mpnag/discipline/internal/services"
	pkgauth "github.com/mpnag/discipline/pkg/auth"
	pkghttp "github.com/mpnag/discipline/pkg/http"
	pkglogger "github.com/mpnag/discipline/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	hasher, err := pkgauth.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	refreshRepo := repositories.NewRefreshTokenRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)
	m := metrics.New()

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.TimingDelayBase,
		RandomDelay: cfg.Auth.TimingDelayRandom,
	})

	// Rate limit store
	var (
		limitStore ratelimit.Store
		sweeper    background.BucketSweeper
	)
	switch cfg.RateLimit.Store {
	case config.RateLimitStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		limitStore = ratelimit.NewRedisStore(client, "discipline:ratelimit:")
		logger.Info("rate limiter using redis store", slog.String("addr", cfg.Redis.Addr))
	default:
		memStore := ratelimit.NewMemoryStore()
		limitStore = memStore
		sweeper = memStore
	}

	// Password reset delivery
	var mailer services.PasswordResetMailer
	if cfg.Email.Enabled() {
		emailService, err := services.NewAWSSESEmailService(context.Background(),
			cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.ResetURLBase, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize email service: %w", err)
		}
		mailer = emailService
	} else if !cfg.Auth.ResetTokenEcho {
		logger.Warn("no email transport configured, password reset tokens will not be delivered")
	}

	// Initialize services
	authService := services.NewAuthService(accountRepo, refreshRepo, hasher, tokenManager, timingDelay,
		cfg.Auth.RefreshTokenTTL, logger, auditLogger, m)
	resetService := services.NewPasswordResetService(accountRepo, resetRepo, hasher, mailer, timingDelay,
		services.PasswordResetConfig{
			TokenTTL:       cfg.Auth.ResetTokenTTL,
			EchoToken:      cfg.Auth.ResetTokenEcho,
			RevokeSessions: cfg.Auth.ResetRevokesSessions,
		}, logger, auditLogger, m)
	accountService := services.NewAccountService(accountRepo, hasher, logger, auditLogger)

	// Bootstrap first admin account if configured
	if cfg.Admin.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		created, err := accountService.EnsureAdmin(ctx, cfg.Admin.FullName, cfg.Admin.Email, cfg.Admin.Username, cfg.Admin.Password)
		cancel()
		switch {
		case err != nil:
			logger.Error("failed to ensure admin account", slog.Any("error", err))
		case created:
			logger.Info("admin account created", slog.String("username", cfg.Admin.Username))
		default:
			logger.Info("admin account already exists")
		}
	}

	var liveAccounts auth.AccountFetcher
	if cfg.Auth.LiveAccountCheck {
		liveAccounts = accountRepo
	}

	router := routes.NewRouter(routes.Dependencies{
		AuthHandler:            handlers.NewAuthHandler(authService, resetService, ipConfig, logger),
		TokenManager:           tokenManager,
		Accounts:               liveAccounts,
		Limiter:                ratelimit.NewLimiter(limitStore),
		Rules:                  rateLimitRules(cfg.RateLimit),
		AuthenticatedPerMinute: cfg.RateLimit.AuthenticatedPerMinute,
		IPConfig:               ipConfig,
		Health:                 db,
		Metrics:                m,
		Logger:                 logger,
		Env:                    cfg.Server.Env,
		AllowedOrigins:         cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(refreshRepo, resetRepo, sweeper, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-sigChan:
		logger.Info("shutdown signal received")
	}

	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

func rateLimitRules(cfg config.RateLimitConfig) routes.RateLimitRules {
	rule := func(name string, r config.Rule) ratelimit.Rule {
		return ratelimit.Rule{Name: name, Max: r.Max, Window: r.Window}
	}
	return routes.RateLimitRules{
		Login:         rule("login", cfg.Login),
		Refresh:       rule("refresh", cfg.Refresh),
		ResetRequest:  rule("reset_request", cfg.ResetRequest),
		ResetPassword: rule("reset_password", cfg.ResetPassword),
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}
