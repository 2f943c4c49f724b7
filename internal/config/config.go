package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppPort     string   `yaml:"app_port"`
	DBDSN       string   `yaml:"db_dsn"`
	JWTSecret   string   `yaml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	LockTTL       int    `yaml:"lock_ttl_seconds"`

	ProcessorMode       string `yaml:"processor_mode"`
	StripeSecretKey     string `yaml:"stripe_secret_key"`
	WebhookSecret       string `yaml:"webhook_secret"`
	WebhookScheme       string `yaml:"webhook_scheme"`
	DefaultCurrency     string `yaml:"default_currency"`
	ProcessorTimeoutMS  int    `yaml:"processor_timeout_ms"`
	ProcessorMaxRetries int    `yaml:"processor_max_retries"`

	ReconcileCron string `yaml:"reconcile_cron"`

	SendgridAPIKey string `yaml:"sendgrid_api_key"`
	AlertEmailTo   string `yaml:"alert_email_to"`
	AlertEmailFrom string `yaml:"alert_email_from"`
}

func defaults() Config {
	return Config{
		AppPort:             "8080",
		CORSOrigins:         []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		LockTTL:             30,
		ProcessorMode:       "stripe",
		WebhookScheme:       "hmac",
		DefaultCurrency:     "usd",
		ProcessorTimeoutMS:  10000,
		ProcessorMaxRetries: 3,
		ReconcileCron:       "@every 1m",
	}
}

// Load builds the config from defaults, then the YAML file at CONFIG_PATH (if set), then
// the environment. Missing required keys panic.
func Load() Config {
	cfg, err := LoadFrom(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	return cfg
}

func LoadFrom(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.AppPort = get("APP_PORT", cfg.AppPort)
	cfg.DBDSN = must("DB_DSN", cfg.DBDSN)
	cfg.JWTSecret = must("JWT_SECRET", cfg.JWTSecret)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	cfg.RedisAddr = get("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = get("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.LockTTL = getInt("LOCK_TTL_SECONDS", cfg.LockTTL)

	cfg.ProcessorMode = strings.ToLower(get("PROCESSOR_MODE", cfg.ProcessorMode))
	cfg.StripeSecretKey = get("STRIPE_SECRET_KEY", cfg.StripeSecretKey)
	if cfg.ProcessorMode == "stripe" {
		cfg.StripeSecretKey = must("STRIPE_SECRET_KEY", cfg.StripeSecretKey)
	}
	cfg.WebhookSecret = must("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.WebhookScheme = strings.ToLower(get("WEBHOOK_SCHEME", cfg.WebhookScheme))
	cfg.DefaultCurrency = strings.ToLower(get("DEFAULT_CURRENCY", cfg.DefaultCurrency))
	cfg.ProcessorTimeoutMS = getInt("PROCESSOR_TIMEOUT_MS", cfg.ProcessorTimeoutMS)
	cfg.ProcessorMaxRetries = getInt("PROCESSOR_MAX_RETRIES", cfg.ProcessorMaxRetries)
	cfg.ReconcileCron = get("RECONCILE_CRON", cfg.ReconcileCron)

	cfg.SendgridAPIKey = get("SENDGRID_API_KEY", cfg.SendgridAPIKey)
	cfg.AlertEmailTo = get("ALERT_EMAIL_TO", cfg.AlertEmailTo)
	cfg.AlertEmailFrom = get("ALERT_EMAIL_FROM", cfg.AlertEmailFrom)

	switch cfg.ProcessorMode {
	case "stripe", "fake":
	default:
		return Config{}, fmt.Errorf("config: unknown PROCESSOR_MODE %q", cfg.ProcessorMode)
	}
	switch cfg.WebhookScheme {
	case "hmac", "stripe":
	default:
		return Config{}, fmt.Errorf("config: unknown WEBHOOK_SCHEME %q", cfg.WebhookScheme)
	}
	return cfg, nil
}

func (c Config) ProcessorTimeout() time.Duration {
	return time.Duration(c.ProcessorTimeoutMS) * time.Millisecond
}

func (c Config) LockTTLDuration() time.Duration {
	return time.Duration(c.LockTTL) * time.Second
}

func get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getInt(k string, def int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return v
}

func must(k, fallback string) string {
	v := get(k, fallback)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func PathFromEnv() string {
	return os.Getenv("CONFIG_PATH")
}

// JWTSecretFromEnv is used by tooling that only signs tokens and needs no other config.
func JWTSecretFromEnv() (string, error) {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("config: JWT_SECRET is not set")
}
