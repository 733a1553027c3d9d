package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tonyb8121/Inventory-Management-System/internal/cache"
	"github.com/tonyb8121/Inventory-Management-System/internal/config"
	"github.com/tonyb8121/Inventory-Management-System/internal/httpapi"
	"github.com/tonyb8121/Inventory-Management-System/internal/recommendation"
	"github.com/tonyb8121/Inventory-Management-System/internal/service"
	"github.com/tonyb8121/Inventory-Management-System/internal/store"
	"github.com/tonyb8121/Inventory-Management-System/internal/store/memory"
	pgstore "github.com/tonyb8121/Inventory-Management-System/internal/store/postgres"
)

const restockLookback = 7 * 24 * time.Hour

func newRootCmd() *cobra.Command {
	var (
		cfg    config.Config
		logger *zap.Logger
	)

	root := &cobra.Command{
		Use:           "posd",
		Short:         "Point-of-sale backend: sales, receipts and stock",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			v, err := config.New(envFile)
			if err != nil {
				return err
			}
			if err := v.BindPFlag("LOG_LEVEL", cmd.Flags().Lookup("log-level")); err != nil {
				return err
			}
			if flag := cmd.Flags().Lookup("port"); flag != nil {
				if err := v.BindPFlag("PORT", flag); err != nil {
					return err
				}
			}
			cfg = config.Load(v)

			logger, err = newLogger(cfg)
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.PersistentFlags().String("env-file", ".env", "optional dotenv file")
	root.PersistentFlags().String("log-level", "info", "debug|info|warn|error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return serve(cmd.Context(), cfg, logger, migrate)
		},
	}
	serveCmd.Flags().String("port", "8080", "listen port")
	serveCmd.Flags().Bool("migrate", false, "apply the Postgres schema before serving")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), cfg, logger)
		},
	}

	root.AddCommand(serveCmd, migrateCmd)
	return root
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && (len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*")) {
		return fmt.Errorf("ALLOWED_ORIGINS must list explicit origins in production")
	}
	return nil
}

func migrate(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required to migrate")
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	return pg.Migrate(ctx)
}

func serve(parent context.Context, cfg config.Config, logger *zap.Logger, applySchema bool) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close", zap.Error(err))
			}
		}
	}()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if applySchema {
			if err := pg.Migrate(startCtx); err != nil {
				return err
			}
		}
		repo = pg
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	receipts := cache.ReceiptCache(cache.NoopReceiptCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReceiptCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, receipt cache disabled", zap.Error(err))
			_ = redisCache.Close()
		} else {
			receipts = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	svc := service.New(repo, receipts, cfg.ReceiptCacheTTL(), recommendation.NewEngine(2, restockLookback), logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, logger)
	if upgraded, err := auth.UpgradeLegacyPasswords(startCtx); err != nil {
		logger.Warn("legacy password upgrade skipped", zap.Error(err))
	} else if upgraded > 0 {
		logger.Info("legacy passwords upgraded", zap.Int("count", upgraded))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigins:     cfg.AllowedOrigins,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
	}, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("pos backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
