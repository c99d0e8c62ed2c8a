package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	BranchID                string
	ReceiptConfigTTLSeconds int
	VarianceToleranceCents  int64
	AuthSecret              string
	AccessTokenTTLMinutes   int
	ManagerPIN              string
}

func Load() Config {
	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	receiptTTL, err := strconv.Atoi(getEnv("RECEIPT_CONFIG_TTL_SECONDS", "600"))
	if err != nil || receiptTTL < 1 {
		receiptTTL = 600
	}
	tolerance, err := strconv.ParseInt(getEnv("VARIANCE_TOLERANCE_CENTS", "10000"), 10, 64)
	if err != nil || tolerance < 0 {
		tolerance = 10000
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		BranchID:                getEnv("DEFAULT_BRANCH_ID", "main-branch"),
		ReceiptConfigTTLSeconds: receiptTTL,
		VarianceToleranceCents:  tolerance,
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		ManagerPIN:              strings.TrimSpace(os.Getenv("MANAGER_PIN")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
