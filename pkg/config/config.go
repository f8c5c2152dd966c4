package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Mongo     MongoConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Auth      AuthConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	PublicURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	AllowOrigins []string
	// TrustProxy takes the client address from forwarding headers. Enable it only
	// behind a proxy that overwrites them.
	TrustProxy bool
}

type StoreConfig struct {
	// Mode forces a backend: "local", "cloud" or "memory". Empty picks cloud when
	// Mongo is configured and local otherwise.
	Mode     string
	DataFile string
	Key      string
}

type MongoConfig struct {
	URL        string
	Database   string
	Collection string
}

type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	MaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type NATSConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret         string
	SessionTTL        time.Duration
	GuestSessionTTL   time.Duration
	MinPasswordLength int
}

type EmailConfig struct {
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPass      string
	SMTPFrom      string
	SMTPUseTLS    bool
	MailerSendKey string
	FromName      string
	FromEmail     string
}

type RateLimitConfig struct {
	GuestAttempts int
	GuestWindow   time.Duration
}

const (
	ModeLocal  = "local"
	ModeCloud  = "cloud"
	ModeMemory = "memory"
)

// Load reads the environment, after merging an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			PublicURL:    getEnv("PUBLIC_URL", "http://localhost:5173"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 5*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowOrigins: []string{getEnv("CORS_ORIGIN", "http://localhost:5173")},
			TrustProxy:   getBool("TRUST_PROXY", false),
		},
		Store: StoreConfig{
			Mode:     getEnv("STORE_MODE", ""),
			DataFile: getEnv("WANDERLUST_DATA_FILE", "wanderlust.json"),
			Key:      getEnv("WANDERLUST_STORAGE_KEY", "wanderlust_holidays"),
		},
		Mongo: MongoConfig{
			URL:        getEnv("MONGO_URL", ""),
			Database:   getEnv("MONGO_DATABASE", "wanderlust"),
			Collection: getEnv("MONGO_COLLECTION", "holiday"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			MaxConns:    getInt("DB_MAX_CONNS", 10),
			MinConns:    getInt("DB_MIN_CONNS", 1),
			MaxLifetime: getDuration("DB_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", "dev-only-secret-change-in-prod"),
			SessionTTL:        getDuration("SESSION_TTL", 7*24*time.Hour),
			GuestSessionTTL:   getDuration("GUEST_SESSION_TTL", 24*time.Hour),
			MinPasswordLength: getInt("MIN_PASSWORD_LENGTH", 6),
		},
		Email: EmailConfig{
			SMTPHost:      getEnv("SMTP_HOST", ""),
			SMTPPort:      getInt("SMTP_PORT", 1025),
			SMTPUser:      getEnv("SMTP_USER", ""),
			SMTPPass:      getEnv("SMTP_PASS", ""),
			SMTPFrom:      getEnv("SMTP_FROM", "noreply@wanderlust.local"),
			SMTPUseTLS:    getBool("SMTP_USE_TLS", false),
			MailerSendKey: getEnv("MAILERSEND_API_KEY", ""),
			FromName:      getEnv("MAILER_FROM_NAME", "Wanderlust"),
			FromEmail:     getEnv("MAILER_FROM", ""),
		},
		RateLimit: RateLimitConfig{
			GuestAttempts: getInt("GUEST_CODE_ATTEMPTS", 10),
			GuestWindow:   getDuration("GUEST_CODE_WINDOW", 15*time.Minute),
		},
	}
}

// StoreMode resolves which backend to build: an explicit STORE_MODE wins, otherwise
// the presence of remote configuration selects the cloud store.
func (c *Config) StoreMode() string {
	switch c.Store.Mode {
	case ModeLocal, ModeCloud, ModeMemory:
		return c.Store.Mode
	}
	if c.Mongo.URL != "" {
		return ModeCloud
	}
	return ModeLocal
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
