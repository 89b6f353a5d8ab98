package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProfileDev  = "dev"
	ProfileProd = "prod"
)

type Config struct {
	Profile  string
	HTTPAddr string

	DBDriver string // "postgres" or "sqlite"
	DBDSN    string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	BcryptCost   int
	SessionTTL   time.Duration
	MaxDevices   int
	ResetCodeTTL time.Duration

	SweepInterval time.Duration

	AbuseFreeAttempts int
	AbuseBaseDelay    time.Duration
	AbuseMultiplier   float64
	AbuseMaxDelay     time.Duration
	AbuseResetWindow  time.Duration

	APIRateLimitRPM            int
	AuthRateLimitRPM           int
	PasswordForgotRateLimitRPM int
	CORSOrigins                []string

	NotifyWebhookURL string
	NotifyTimeout    time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

// Load reads configuration from the environment, applies profile defaults,
// and validates the result. The error text keeps a "validate config:" /
// "parse X:" shape so failures can be classified for metrics.
func Load(ctx context.Context, logger *slog.Logger) (*Config, error) {
	cfg, err := load()
	recordConfigValidationEvent(ctx, profileOrDefault(), outcomeFor(err), classifyConfigLoadError(err))
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("config loaded",
			"profile", cfg.Profile,
			"http_addr", cfg.HTTPAddr,
			"db_driver", cfg.DBDriver,
			"redis_enabled", cfg.RedisEnabled,
			"max_devices", cfg.MaxDevices,
		)
	}
	return cfg, nil
}

func load() (*Config, error) {
	cfg := &Config{
		Profile:  normalizeConfigProfile(envString("APP_PROFILE", ProfileDev)),
		HTTPAddr: envString("HTTP_ADDR", ":8080"),

		DBDriver: envString("DB_DRIVER", "sqlite"),
		DBDSN:    envString("DB_DSN", "file:broker-auth.db?cache=shared"),

		RedisAddr:     envString("REDIS_ADDR", ""),
		RedisPassword: envString("REDIS_PASSWORD", ""),

		BcryptCost: 0,
		MaxDevices: 3,

		APIRateLimitRPM:            600,
		AuthRateLimitRPM:           30,
		PasswordForgotRateLimitRPM: 10,

		NotifyWebhookURL: envString("NOTIFY_WEBHOOK_URL", ""),

		OTELServiceName:          envString("OTEL_SERVICE_NAME", "broker-auth-service"),
		OTELEnvironment:          envString("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint: envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.BcryptCost, err = envInt("BCRYPT_COST", 12); err != nil {
		return nil, err
	}
	if cfg.MaxDevices, err = envInt("SESSION_MAX_DEVICES", 3); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = envDuration("SESSION_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ResetCodeTTL, err = envDuration("RESET_CODE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.AbuseFreeAttempts, err = envInt("ABUSE_FREE_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.AbuseBaseDelay, err = envDuration("ABUSE_BASE_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.AbuseMultiplier, err = envFloat("ABUSE_MULTIPLIER", 2); err != nil {
		return nil, err
	}
	if cfg.AbuseMaxDelay, err = envDuration("ABUSE_MAX_DELAY", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AbuseResetWindow, err = envDuration("ABUSE_RESET_WINDOW", time.Hour); err != nil {
		return nil, err
	}
	if cfg.APIRateLimitRPM, err = envInt("API_RATE_LIMIT_RPM", 600); err != nil {
		return nil, err
	}
	if cfg.AuthRateLimitRPM, err = envInt("AUTH_RATE_LIMIT_RPM", 30); err != nil {
		return nil, err
	}
	if cfg.PasswordForgotRateLimitRPM, err = envInt("PASSWORD_FORGOT_RATE_LIMIT_RPM", 10); err != nil {
		return nil, err
	}
	if cfg.NotifyTimeout, err = envDuration("NOTIFY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RedisEnabled, err = envBool("REDIS_ENABLED", cfg.RedisAddr != ""); err != nil {
		return nil, err
	}
	if cfg.OTELExporterOTLPInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", true); err != nil {
		return nil, err
	}
	if cfg.OTELMetricsEnabled, err = envBool("OTEL_METRICS_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.OTELTracesEnabled, err = envBool("OTEL_TRACES_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.OTELLogsEnabled, err = envBool("OTEL_LOGS_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.OTELMetricsExportInterval, err = envDuration("OTEL_METRICS_EXPORT_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownHTTPDrainTimeout, err = envDuration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownObservabilityTimeout, err = envDuration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	cfg.CORSOrigins = envStrings("CORS_ORIGINS", nil)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Profile != ProfileDev && c.Profile != ProfileProd {
		return fmt.Errorf("validate config: APP_PROFILE must be dev or prod, got %q", c.Profile)
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("validate config: DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("validate config: DB_DSN is required")
	}
	if c.Profile == ProfileProd && c.DBDriver != "postgres" {
		return fmt.Errorf("validate config: prod profile requires DB_DRIVER=postgres")
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		return fmt.Errorf("validate config: REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	if c.MaxDevices < 1 {
		return fmt.Errorf("validate config: SESSION_MAX_DEVICES must be at least 1")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("validate config: SESSION_TTL must be positive")
	}
	if c.ResetCodeTTL <= 0 {
		return fmt.Errorf("validate config: RESET_CODE_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("validate config: SWEEP_INTERVAL must be positive")
	}
	return nil
}

func profileOrDefault() string {
	return envString("APP_PROFILE", ProfileDev)
}

func outcomeFor(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func envStrings(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
