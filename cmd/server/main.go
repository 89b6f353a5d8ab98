package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vendaflow/broker-auth-service/internal/app"
	"github.com/vendaflow/broker-auth-service/internal/config"
	"github.com/vendaflow/broker-auth-service/internal/domain"
	"github.com/vendaflow/broker-auth-service/internal/health"
	"github.com/vendaflow/broker-auth-service/internal/http/handler"
	"github.com/vendaflow/broker-auth-service/internal/http/router"
	"github.com/vendaflow/broker-auth-service/internal/notification"
	"github.com/vendaflow/broker-auth-service/internal/observability"
	"github.com/vendaflow/broker-auth-service/internal/repository"
	"github.com/vendaflow/broker-auth-service/internal/security"
	"github.com/vendaflow/broker-auth-service/internal/service"
	"github.com/vendaflow/broker-auth-service/internal/tools/common"
	"github.com/vendaflow/broker-auth-service/internal/tools/loadgen"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:   "broker-auth-service",
		Short: "Broker authentication and device-bounded session service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file loaded before config")
	root.AddCommand(newServeCommand(), newSweepCommand(), newLoadgenCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and reset codes once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return sweepOnce(ctx)
		},
	}
}

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate synthetic traffic against a running instance",
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			res, err := loadgen.Run(ctx, cfg)
			if ci {
				var details []string
				if res != nil {
					details = append(details,
						fmt.Sprintf("requests=%d failures=%d", res.TotalRequests, res.Failures))
				}
				ok := err == nil && res != nil && res.Failures == 0
				common.PrintCIResult(os.Stdout, ok, "loadgen", details, err)
				return err
			}
			if res != nil {
				fmt.Print(loadgen.RenderSummary(cfg, res))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&ci, "ci", false, "machine-readable pass/fail output")
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: mixed, auth or health")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "run duration")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "target requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "worker count")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "random seed")
	return cmd
}

func serve(ctx context.Context) error {
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(ctx, bootstrapLogger)
	if err != nil {
		return err
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return err
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&domain.Broker{}, &domain.Session{}, &domain.PasswordResetCode{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	var redisClient *redis.Client
	var guard service.AuthAbuseGuard = service.NoopAuthAbuseGuard{}
	checkers := []health.Checker{health.DatabaseChecker{DB: db}}
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		guard = service.NewRedisAuthAbuseGuard(redisClient, "authguard", service.AuthAbusePolicy{
			FreeAttempts: cfg.AbuseFreeAttempts,
			BaseDelay:    cfg.AbuseBaseDelay,
			Multiplier:   cfg.AbuseMultiplier,
			MaxDelay:     cfg.AbuseMaxDelay,
			ResetWindow:  cfg.AbuseResetWindow,
		})
		checkers = append(checkers, health.RedisChecker{Client: redisClient})
	}

	brokers := repository.NewBrokerRepository(db)
	sessions := repository.NewSessionRepository(db)
	codes := repository.NewResetCodeRepository(db)
	hasher := security.NewPasswordHasher(cfg.BcryptCost)

	var channel service.NotificationChannel = notification.NewLogChannel(logger)
	if cfg.NotifyWebhookURL != "" {
		channel = notification.NewWebhookChannel(cfg.NotifyWebhookURL, cfg.NotifyTimeout, logger)
	}

	authSvc := service.NewAuthService(brokers, sessions, hasher, cfg.SessionTTL, cfg.MaxDevices, logger)
	resetSvc := service.NewPasswordResetService(brokers, codes, hasher, channel, cfg.ResetCodeTTL, logger)
	sweeper := service.NewSweeper(sessions, codes, cfg.SweepInterval, logger)

	readiness := health.NewProbeRunner(2*time.Second, 5*time.Second, checkers...)

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:                handler.NewAuthHandler(authSvc, resetSvc, guard, logger),
		SessionHandler:             handler.NewSessionHandler(authSvc, logger),
		AuthService:                authSvc,
		CORSOrigins:                cfg.CORSOrigins,
		AuthRateLimitRPM:           cfg.AuthRateLimitRPM,
		PasswordForgotRateLimitRPM: cfg.PasswordForgotRateLimitRPM,
		APIRateLimitRPM:            cfg.APIRateLimitRPM,
		Readiness:                  readiness,
		EnableOTelHTTP:             cfg.OTELTracesEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	a := app.New(cfg, logger, server, db, redisClient, runtime, readiness, stopSweeper)
	return a.Run(ctx)
}

func sweepOnce(ctx context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(ctx, logger)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	sweeper := service.NewSweeper(repository.NewSessionRepository(db), repository.NewResetCodeRepository(db), cfg.SweepInterval, logger)
	deleted, err := sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	logger.Info("sweep finished", "deleted", deleted)
	return nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DBDSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
