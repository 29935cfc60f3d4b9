package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	Environment     string
	DatabasePath    string
	JWTSecret       string
	CORSOrigins     string
	MaxMessageRunes int
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushSubscriber  string
}

// Load reads configuration from the environment. If QASED_ENV_FILE points to
// an env file it is loaded first; already-set variables win over file values.
func Load() *Config {
	if envFile := os.Getenv("QASED_ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("config: could not load env file %s: %v", envFile, err)
		}
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		DatabasePath:    getEnv("DATABASE_PATH", "./data/qased.db"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		MaxMessageRunes: parseInt(getEnv("MAX_MESSAGE_RUNES", "1000"), 1000),
		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
		PushSubscriber:  getEnv("PUSH_SUBSCRIBER", "mailto:push@qased.local"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	val, err := strconv.Atoi(s)
	if err != nil || val <= 0 {
		return defaultValue
	}
	return val
}
