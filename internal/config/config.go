package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Reference server
	ServerPort  string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	Storage     string
	JWTSecret   string
	JWTTTL      time.Duration
	BcryptCost  int
	CORSOrigins []string

	// Sync client
	APIURL           string
	Token            string
	UserID           string
	MessagePoll      time.Duration
	ConversationPoll time.Duration
	MaxBackoff       time.Duration
	StateBackend     string
	StateDir         string
	RedisURL         string
	KeepReadState    bool
	MetricsAddr      string

	LogLevel  string
	LogFormat string
}

// Load reads .env when present, then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "dmsync"),
		DBPassword:  getEnv("DB_PASSWORD", "dmsync_dev_password"),
		DBName:      getEnv("DB_NAME", "dmsync"),
		Storage:     getEnv("STORAGE", "postgres"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTTTL:      getEnvDuration("JWT_TTL", 24*time.Hour),
		BcryptCost:  getEnvInt("BCRYPT_COST", 10),
		CORSOrigins: getEnvList("CORS_ORIGINS"),

		APIURL:           getEnv("DMSYNC_API_URL", "http://localhost:8080/api/v1"),
		Token:            getEnv("DMSYNC_TOKEN", ""),
		UserID:           getEnv("DMSYNC_USER_ID", ""),
		MessagePoll:      getEnvDuration("DMSYNC_MESSAGE_POLL", 3*time.Second),
		ConversationPoll: getEnvDuration("DMSYNC_CONVERSATION_POLL", 5*time.Second),
		MaxBackoff:       getEnvDuration("DMSYNC_MAX_BACKOFF", 0),
		StateBackend:     getEnv("DMSYNC_STATE_BACKEND", "pebble"),
		StateDir:         getEnv("DMSYNC_STATE_DIR", ".dmsync"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		KeepReadState:    getEnvBool("DMSYNC_KEEP_READ_STATE", false),
		MetricsAddr:      getEnv("METRICS_ADDR", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
