package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/digkill/imagestudio/internal/models"
)

// Config aggregates runtime configuration for the API and supporting services.
type Config struct {
	ListenAddr         string
	AllowedOrigins     []string
	LogLevel           string
	MySQLDSN           string
	RedisURL           string
	WaveSpeedAPIKey    string
	WaveSpeedBaseURL   string
	SeedreamPath       string
	NanoBananaPath     string
	RequestTimeout     time.Duration
	PollMaxAttempts    int
	PollInterval       time.Duration
	GenerationTimeout  time.Duration
	AssetRetention     time.Duration
	MaxUploadBytes     int64
	RateLimitPerMinute int
	PaymentIPNSecret   string
	AdminUsername      string
	AdminPassword      string
	TelegramBotToken   string
	TelegramAdminChat  int64
	S3Endpoint         string
	S3Region           string
	S3AccessKey        string
	S3SecretKey        string
	S3Bucket           string
	S3PublicBaseURL    string
	S3UsePathStyle     bool
	S3Prefix           string
	Pricing            Pricing
}

// Pricing is the single source of truth for free-tier sizes and per-operation prices.
type Pricing struct {
	FreeStandardStart int
	FreeHDStart       int
	PriceHD           int
	PricePro          int
}

// Price returns the credit cost of one operation once its free counter is exhausted.
func (p Pricing) Price(kind models.OperationKind) int {
	switch kind {
	case models.KindHD:
		return p.PriceHD
	case models.KindPro:
		return p.PricePro
	default:
		return 0
	}
}

// Validate rejects pricing that would let a paid kind become free.
func (p Pricing) Validate() error {
	if p.PriceHD <= 0 {
		return fmt.Errorf("PRICE_HD must be positive, got %d", p.PriceHD)
	}
	if p.PricePro <= 0 {
		return fmt.Errorf("PRICE_PRO must be positive, got %d", p.PricePro)
	}
	if p.FreeStandardStart < 0 || p.FreeHDStart < 0 {
		return fmt.Errorf("free generation counters cannot be negative")
	}
	return nil
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultWaveSpeedBaseURL = "https://api.wavespeed.ai"

	cfg := Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisURL:           os.Getenv("REDIS_URL"),
		WaveSpeedBaseURL:   normalizeBaseURL(getEnv("WAVESPEED_BASE_URL", defaultWaveSpeedBaseURL), defaultWaveSpeedBaseURL),
		SeedreamPath:       getEnv("WAVESPEED_SEEDREAM_PATH", "/api/v3/bytedance/seedream-v4/edit"),
		NanoBananaPath:     getEnv("WAVESPEED_NANO_BANANA_PATH", "/api/v3/google/nano-banana/edit"),
		RequestTimeout:     time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		PollMaxAttempts:    getInt("POLL_MAX_ATTEMPTS", 120),
		PollInterval:       time.Millisecond * time.Duration(getInt("POLL_INTERVAL_MS", 3000)),
		GenerationTimeout:  time.Second * time.Duration(getInt("GENERATION_TIMEOUT_SECONDS", 420)),
		AssetRetention:     24 * time.Hour * time.Duration(getInt("ASSET_RETENTION_DAYS", 7)),
		MaxUploadBytes:     int64(getInt("MAX_UPLOAD_MB", 15)) << 20,
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 10),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", "change-me"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAdminChat:  getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3Region:           os.Getenv("S3_REGION"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:     getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:           getEnv("S3_PREFIX", "sources"),
		Pricing: Pricing{
			FreeStandardStart: getInt("FREE_STANDARD_START", 3),
			FreeHDStart:       getInt("FREE_HD_START", 1),
			PriceHD:           getInt("PRICE_HD", 37),
			PricePro:          getInt("PRICE_PRO", 60),
		},
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.WaveSpeedAPIKey = os.Getenv("WAVESPEED_API_KEY")
	cfg.PaymentIPNSecret = os.Getenv("PAYMENT_IPN_SECRET")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.WaveSpeedAPIKey == "" {
		missing = append(missing, "WAVESPEED_API_KEY")
	}
	if cfg.PaymentIPNSecret == "" {
		missing = append(missing, "PAYMENT_IPN_SECRET")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.PollMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}
	if err := cfg.Pricing.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// normalizeBaseURL keeps a scheme on the provider host and strips trailing slashes.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	// The marketing domain serves HTML, the API lives on its own host.
	if parsed.Host == "wavespeed.ai" {
		parsed.Host = "api.wavespeed.ai"
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads the first env file found. Unlike a bot deployment the API runs fine
// from the process environment alone, so a missing file is not an error.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
