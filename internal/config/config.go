package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings read from the environment.
type Config struct {
	Port                  int
	AppEnv                string
	DBDSN                 string
	RedisURL              string
	JWTAccessTTL          time.Duration
	JWTRefreshTTL         time.Duration
	JWTSecret             string
	AllowOrigins          []string
	RateLimitPublic       RateLimitConfig
	RateLimitAuth         RateLimitConfig
	PrincipalCacheTTL     time.Duration
	DemoHeartbeatInterval time.Duration
	DemoIdleTimeout       time.Duration
	CacheVersion          string
	LoginURL              string
	Storage               StorageConfig
	Mail                  MailConfig
}

// RateLimitConfig is a token bucket: sustained rate plus burst.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// StorageConfig selects where uploaded lead files are archived.
type StorageConfig struct {
	Provider  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PublicURL string
}

// MailConfig configures the welcome e-mail. An empty key disables sending.
type MailConfig struct {
	ResendAPIKey string
	From         string
}

// Production reports whether the service runs with APP_ENV=production.
func (c *Config) Production() bool {
	return c.AppEnv == "production"
}

// Load reads .env (when present) and the environment, applying defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return nil, errors.New("PORT invalid")
	}
	cfg.Port = port

	cfg.AppEnv = strings.ToLower(strings.TrimSpace(getEnv("APP_ENV", "development")))

	cfg.DBDSN = getEnv("DB_DSN", "")
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN required")
	}

	cfg.RedisURL = getEnv("REDIS_URL", "")
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL required")
	}

	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", ""))
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}

	if cfg.JWTAccessTTL, err = parseDurationEnv("JWT_ACCESS_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JWTRefreshTTL, err = parseDurationEnv("JWT_REFRESH_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}

	for _, origin := range strings.Split(getEnv("ALLOW_ORIGINS", ""), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}

	if cfg.RateLimitPublic, err = parseRateLimitEnv("RATE_LIMIT_PUBLIC", RateLimitConfig{RequestsPerSecond: 10, Burst: 20}); err != nil {
		return nil, err
	}
	if cfg.RateLimitAuth, err = parseRateLimitEnv("RATE_LIMIT_AUTH", RateLimitConfig{RequestsPerSecond: 10, Burst: 40}); err != nil {
		return nil, err
	}

	if cfg.PrincipalCacheTTL, err = parseDurationEnv("PRINCIPAL_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.DemoHeartbeatInterval, err = parseDurationEnv("DEMO_HEARTBEAT_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DemoIdleTimeout, err = parseDurationEnv("DEMO_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}

	cfg.CacheVersion = strings.TrimSpace(getEnv("CACHE_VERSION", "1"))
	cfg.LoginURL = strings.TrimSpace(getEnv("LOGIN_URL", "http://localhost:3000/login"))

	cfg.Storage = StorageConfig{
		Provider:  strings.ToLower(strings.TrimSpace(getEnv("STORAGE_PROVIDER", ""))),
		Endpoint:  strings.TrimSpace(getEnv("STORAGE_ENDPOINT", "")),
		Region:    strings.TrimSpace(getEnv("STORAGE_REGION", "us-east-1")),
		Bucket:    strings.TrimSpace(getEnv("STORAGE_BUCKET", "")),
		AccessKey: strings.TrimSpace(getEnv("STORAGE_ACCESS_KEY", "")),
		SecretKey: strings.TrimSpace(getEnv("STORAGE_SECRET_KEY", "")),
		UseSSL:    getEnv("STORAGE_USE_SSL", "true") != "false",
		PublicURL: strings.TrimSpace(getEnv("STORAGE_PUBLIC_URL", "")),
	}
	switch cfg.Storage.Provider {
	case "", "noop":
	case "s3", "minio":
		if cfg.Storage.Endpoint == "" || cfg.Storage.Bucket == "" {
			return nil, errors.New("STORAGE_ENDPOINT and STORAGE_BUCKET required for provider " + cfg.Storage.Provider)
		}
	default:
		return nil, errors.New("STORAGE_PROVIDER " + cfg.Storage.Provider + " not supported")
	}

	cfg.Mail = MailConfig{
		ResendAPIKey: strings.TrimSpace(getEnv("RESEND_API_KEY", "")),
		From:         strings.TrimSpace(getEnv("MAIL_FROM", "CRM <no-reply@example.com>")),
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	val := getEnv(key, "")
	if val == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(val)
	if err != nil || dur <= 0 {
		return 0, errors.New(key + " invalid")
	}
	return dur, nil
}

// parseRateLimitEnv reads "<rps>:<burst>", e.g. "10:20".
func parseRateLimitEnv(key string, def RateLimitConfig) (RateLimitConfig, error) {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def, nil
	}
	rpsStr, burstStr, ok := strings.Cut(val, ":")
	if !ok {
		return RateLimitConfig{}, errors.New(key + " must be <rps>:<burst>")
	}
	rps, err := strconv.ParseFloat(strings.TrimSpace(rpsStr), 64)
	if err != nil || rps <= 0 {
		return RateLimitConfig{}, errors.New(key + " invalid")
	}
	burst, err := strconv.Atoi(strings.TrimSpace(burstStr))
	if err != nil || burst <= 0 {
		return RateLimitConfig{}, errors.New(key + " invalid")
	}
	return RateLimitConfig{RequestsPerSecond: rps, Burst: burst}, nil
}
