// Package config loads the server configuration from environment variables.
//
// Load is called once at startup; the result is treated as immutable.
// cmd/server reads an optional .env file into the environment first.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/qanda/internal/email"
	"github.com/sakif/qanda/internal/objectstore"
)

// Storage and database backends.
const (
	DBSQLite    = "sqlite"
	DBFirestore = "firestore"

	StorageLocal = "local"
	StorageMinIO = "minio"
	StorageFTP   = "ftp"
)

type Config struct {
	// Server
	Port      int
	BaseURL   string
	LogLevel  slog.Level
	LogFormat string // "text" or "json"

	// Document store
	DBBackend          string
	DBPath             string
	FirestoreProjectID string

	// Sessions
	JWTSecret    string
	SessionTTL   time.Duration
	CookieSecure bool

	// Google sign-in; disabled when the client ID is empty
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Object store
	StorageBackend string
	StorageDir     string
	MinIO          objectstore.MinIOConfig
	FTP            objectstore.FTPConfig

	// Optional integrations; empty disables them
	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string
	SMTP           email.Config

	// Limits
	MaxUploadBytes        int64
	RateLimitWritesPerMin int
}

// Load reads the configuration. JWT_SECRET is required; everything else has
// a default that runs the server locally with SQLite and on-disk images.
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.Port = getEnvInt("PORT", 8080)
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
	cfg.LogFormat = getEnvString("LOG_FORMAT", "text")

	level, err := parseLevel(getEnvString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	cfg.DBBackend = getEnvString("DB_BACKEND", DBSQLite)
	cfg.DBPath = getEnvString("DB_PATH", "data/qanda.db")
	cfg.FirestoreProjectID = os.Getenv("FIRESTORE_PROJECT_ID")

	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 24*time.Hour)
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", strings.HasPrefix(cfg.BaseURL, "https://"))

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/auth/google/callback")

	cfg.StorageBackend = getEnvString("STORAGE_BACKEND", StorageLocal)
	cfg.StorageDir = getEnvString("STORAGE_DIR", "data/files")
	cfg.MinIO = objectstore.MinIOConfig{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    getEnvString("MINIO_BUCKET", "qanda"),
		UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		PublicURL: os.Getenv("MINIO_PUBLIC_URL"),
	}
	cfg.FTP = objectstore.FTPConfig{
		Addr:     os.Getenv("FTP_ADDR"),
		User:     os.Getenv("FTP_USER"),
		Password: os.Getenv("FTP_PASSWORD"),
		BaseURL:  os.Getenv("FTP_BASE_URL"),
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.MeiliURL = os.Getenv("MEILI_URL")
	cfg.MeiliMasterKey = os.Getenv("MEILI_MASTER_KEY")
	cfg.SMTP = email.Config{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     getEnvString("SMTP_PORT", "587"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
		FromName: getEnvString("SMTP_FROM_NAME", "Q&A"),
	}

	cfg.MaxUploadBytes = getEnvInt64("MAX_UPLOAD_BYTES", 10<<20)
	cfg.RateLimitWritesPerMin = getEnvInt("RATE_LIMIT_WRITES_PER_MIN", 30)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case DBSQLite:
	case DBFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("DB_BACKEND=firestore requires FIRESTORE_PROJECT_ID")
		}
	default:
		return fmt.Errorf("unknown DB_BACKEND %q (want sqlite or firestore)", c.DBBackend)
	}

	switch c.StorageBackend {
	case StorageLocal:
	case StorageMinIO:
		if c.MinIO.Endpoint == "" || c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" {
			return fmt.Errorf("STORAGE_BACKEND=minio requires MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY")
		}
	case StorageFTP:
		if c.FTP.Addr == "" || c.FTP.BaseURL == "" {
			return fmt.Errorf("STORAGE_BACKEND=ftp requires FTP_ADDR and FTP_BASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want local, minio or ftp)", c.StorageBackend)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown LOG_FORMAT %q (want text or json)", c.LogFormat)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.RateLimitWritesPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_WRITES_PER_MIN must be positive")
	}
	return nil
}

// GoogleEnabled reports whether federated sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
