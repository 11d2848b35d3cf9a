package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	Environment     string
	DatabasePath    string
	LocalStorePath  string
	JWTSecret       string
	CORSOrigins     []string
	PageSize        int
	ProfileCacheTTL time.Duration
	ProfileSweep    time.Duration
	PresenceCron    string
	PresenceTimeout time.Duration
	NATSURL         string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	MetricsEnabled  bool
}

// Load reads the environment. When ZENTRO_ENV_FILE names a file its values
// are applied first; variables already set in the environment win.
func Load() *Config {
	if path := os.Getenv("ZENTRO_ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			log.Printf("config: failed to load env file %s: %v", path, err)
		}
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		DatabasePath:    getEnv("DATABASE_PATH", "./data/zentro.db"),
		LocalStorePath:  getEnv("LOCAL_STORE_PATH", "./data/local"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:     splitList(getEnv("CORS_ORIGINS", "*")),
		PageSize:        parseInt(getEnv("PAGE_SIZE", "50"), 50),
		ProfileCacheTTL: parseDuration(getEnv("PROFILE_CACHE_TTL", "5m"), 5*time.Minute),
		ProfileSweep:    parseDuration(getEnv("PROFILE_CACHE_SWEEP", "10m"), 10*time.Minute),
		PresenceCron:    getEnv("PRESENCE_SWEEP_CRON", "*/5 * * * *"),
		PresenceTimeout: parseDuration(getEnv("PRESENCE_TIMEOUT", "10m"), 10*time.Minute),
		NATSURL:         getEnv("NATS_URL", ""),
		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
		MetricsEnabled:  parseBool(getEnv("METRICS_ENABLED", "true"), true),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt(s string, fallback int) int {
	val, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	val, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func parseBool(s string, fallback bool) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return val
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
