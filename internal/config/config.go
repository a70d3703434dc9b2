package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"chainattend/pkg/logger"
)

// EnvFiles are loaded in order; variables already set are never overridden,
// so earlier files win.
var EnvFiles = []string{".env.local", ".env"}

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string

	RPCURL          string
	ContractAddress string
	ChainID         int64
	SignerKeys      []string
	CallTimeout     time.Duration

	DatabaseURL  string
	RedisAddr    string
	QueueBackend string

	JWTIssuer     string
	JWTSigningKey string
	SessionTTL    time.Duration

	RateLimitPerMin   int
	DetailConcurrency int

	Log logger.Config

	// Warnings collects values that failed to parse and fell back to defaults.
	Warnings []string
}

// ContractConfigured reports whether a contract address was supplied.
func (a App) ContractConfigured() bool {
	return strings.TrimSpace(a.ContractAddress) != ""
}

// Load reads the env files, then returns the config populated from
// environment variables with sensible defaults.
func Load() App {
	for _, f := range EnvFiles {
		_ = godotenv.Load(f)
	}
	return FromEnv()
}

// FromEnv builds the config from the current process environment only.
func FromEnv() App {
	var warn []string
	a := App{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8081"),

		RPCURL:          getEnv("ETH_RPC_URL", "http://127.0.0.1:8545"),
		ContractAddress: getEnv("CONTRACT_ADDRESS", os.Getenv("VITE_CONTRACT_ADDRESS")),
		ChainID:         int64(intEnv("CHAIN_ID", 0, &warn)),
		SignerKeys:      listEnv("SIGNER_KEYS"),
		CallTimeout:     durationEnv("CALL_TIMEOUT", 0, &warn),

		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend: getEnv("QUEUE_BACKEND", "memory"),

		JWTIssuer:     getEnv("JWT_ISSUER", "chainattend"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		SessionTTL:    durationEnv("SESSION_TTL", 12*time.Hour, &warn),

		RateLimitPerMin:   intEnv("RATE_LIMIT_PER_MIN", 120, &warn),
		DetailConcurrency: intEnv("DETAIL_CONCURRENCY", 4, &warn),

		Log: logger.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}
	a.Warnings = warn
	return a
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func listEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration, warn *[]string) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			*warn = append(*warn, fmt.Sprintf("invalid duration for %s: %v, using fallback %s", key, err, fallback))
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int, warn *[]string) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		*warn = append(*warn, fmt.Sprintf("invalid int for %s, using fallback %d", key, fallback))
	}
	return fallback
}
