package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	PricePolicyTrust  = "trust"
	PricePolicyStrict = "strict"
)

type Config struct {
	Port                  string
	AppEnv                string
	LogLevel              string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	KafkaBrokers          []string
	KafkaStockTopic       string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	PricePolicy           string
	LowStockThreshold     decimal.Decimal
	ReportCacheTTLSeconds int
	TxMaxRetries          int
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	reportTTL, err := strconv.Atoi(getEnv("REPORT_CACHE_TTL_SECONDS", "60"))
	if err != nil || reportTTL < 1 {
		reportTTL = 60
	}
	retries, err := strconv.Atoi(getEnv("TX_MAX_RETRIES", "3"))
	if err != nil || retries < 0 {
		retries = 3
	}

	threshold, err := decimal.NewFromString(getEnv("LOW_STOCK_THRESHOLD", "5"))
	if err != nil || threshold.IsNegative() {
		threshold = decimal.NewFromInt(5)
	}

	policy := strings.ToLower(strings.TrimSpace(getEnv("PRICE_POLICY", PricePolicyTrust)))
	if policy != PricePolicyStrict {
		policy = PricePolicyTrust
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AppEnv:                getEnv("APP_ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaStockTopic:       getEnv("KAFKA_STOCK_TOPIC", "inventory.stock"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		PricePolicy:           policy,
		LowStockThreshold:     threshold,
		ReportCacheTTLSeconds: reportTTL,
		TxMaxRetries:          retries,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
