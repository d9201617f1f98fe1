package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	VNPay    VNPayConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/elearning?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings for the trusted caller identity.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// VNPayConfig holds merchant credentials and endpoints for the VNPay gateway.
// HashSecret signs every outbound request and verifies every inbound callback;
// it is passed into the gateway client explicitly, never read ambiently.
type VNPayConfig struct {
	TmnCode      string
	HashSecret   string
	PayURL       string        // interactive redirect endpoint
	QRURL        string        // QR-renderable payment endpoint
	QueryURL     string        // querydr transaction status endpoint
	ReturnURL    string        // where the gateway sends the browser back
	IntentTTL    time.Duration // pending intent lifetime
	QueryTimeout time.Duration // bound on outbound status queries
	SweepEvery   time.Duration // worker interval for force-expiring stale intents
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/elearning?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "elearning"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		VNPay: VNPayConfig{
			TmnCode:      getEnv("VNPAY_TMN_CODE", ""),
			HashSecret:   getEnv("VNPAY_HASH_SECRET", ""),
			PayURL:       getEnv("VNPAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			QRURL:        getEnv("VNPAY_QR_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			QueryURL:     getEnv("VNPAY_QUERY_URL", "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"),
			ReturnURL:    getEnv("VNPAY_RETURN_URL", "http://localhost:3000/payment/vnpay/return"),
			IntentTTL:    getEnvDuration("VNPAY_INTENT_TTL", 15*time.Minute),
			QueryTimeout: getEnvDuration("VNPAY_QUERY_TIMEOUT", 10*time.Second),
			SweepEvery:   getEnvDuration("VNPAY_SWEEP_INTERVAL", time.Minute),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
