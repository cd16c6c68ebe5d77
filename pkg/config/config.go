package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env         string
	Port        int
	APIPrefix   string
	SchoolName  string
	ReceiptsDir string

	Database  DatabaseConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Log       LogConfig
	Mpesa     MpesaConfig
	SMS       SMSConfig
	Payments  PaymentsConfig
	Timetable TimetableConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MpesaConfig carries Daraja API credentials and endpoints.
type MpesaConfig struct {
	ConsumerKey       string
	ConsumerSecret    string
	BusinessShortCode string
	Passkey           string
	Environment       string
	CallbackURL       string
	HTTPTimeout       time.Duration
}

// SMSConfig carries Africa's Talking credentials.
type SMSConfig struct {
	Username string
	APIKey   string
	SenderID string
	BaseURL  string
}

// PaymentsConfig tunes reconciliation of stuck pending payments.
type PaymentsConfig struct {
	ReconcileInterval time.Duration
	PendingMaxAge     time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// TimetableConfig governs timetable read caching.
type TimetableConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.SchoolName = v.GetString("SCHOOL_NAME")
	cfg.ReceiptsDir = v.GetString("RECEIPTS_DIR")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Mpesa = MpesaConfig{
		ConsumerKey:       v.GetString("MPESA_CONSUMER_KEY"),
		ConsumerSecret:    v.GetString("MPESA_CONSUMER_SECRET"),
		BusinessShortCode: v.GetString("MPESA_BUSINESS_SHORT_CODE"),
		Passkey:           v.GetString("MPESA_PASSKEY"),
		Environment:       v.GetString("MPESA_ENVIRONMENT"),
		CallbackURL:       v.GetString("MPESA_CALLBACK_URL"),
		HTTPTimeout:       parseDuration(v.GetString("MPESA_HTTP_TIMEOUT"), 30*time.Second),
	}

	cfg.SMS = SMSConfig{
		Username: v.GetString("AT_USERNAME"),
		APIKey:   v.GetString("AT_API_KEY"),
		SenderID: v.GetString("AT_SENDER_ID"),
		BaseURL:  v.GetString("AT_BASE_URL"),
	}

	cfg.Payments = PaymentsConfig{
		ReconcileInterval: parseDuration(v.GetString("PAYMENTS_RECONCILE_INTERVAL"), 5*time.Minute),
		PendingMaxAge:     parseDuration(v.GetString("PAYMENTS_PENDING_MAX_AGE"), 3*time.Minute),
		WorkerConcurrency: v.GetInt("PAYMENTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("PAYMENTS_WORKER_RETRIES"),
	}

	cfg.Timetable = TimetableConfig{
		CacheEnabled: v.GetBool("TIMETABLE_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("TIMETABLE_CACHE_TTL"), 10*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "shule")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MPESA_CONSUMER_KEY", "")
	v.SetDefault("MPESA_CONSUMER_SECRET", "")
	v.SetDefault("MPESA_BUSINESS_SHORT_CODE", "")
	v.SetDefault("MPESA_PASSKEY", "")
	v.SetDefault("MPESA_ENVIRONMENT", "sandbox")
	v.SetDefault("MPESA_CALLBACK_URL", "")
	v.SetDefault("MPESA_HTTP_TIMEOUT", "30s")

	v.SetDefault("AT_USERNAME", "sandbox")
	v.SetDefault("AT_API_KEY", "")
	v.SetDefault("AT_SENDER_ID", "SCHOOL")
	v.SetDefault("AT_BASE_URL", "https://api.africastalking.com/version1")

	v.SetDefault("PAYMENTS_RECONCILE_INTERVAL", "5m")
	v.SetDefault("PAYMENTS_PENDING_MAX_AGE", "3m")
	v.SetDefault("PAYMENTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("PAYMENTS_WORKER_RETRIES", 3)

	v.SetDefault("TIMETABLE_CACHE_ENABLED", false)
	v.SetDefault("TIMETABLE_CACHE_TTL", "10m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
