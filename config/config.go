package config

import (
	"os"
	"strings"

	"checkout-service/internal/database"

	"go.uber.org/zap"
)

type Config struct {
	Port string
	DB   DB

	Gateway Gateway

	KafkaBrokers []string
	KafkaTopic   string
}

type DB struct {
	database.Config
}

type Gateway struct {
	BaseURL  string
	KeyID    string
	Secret   string
	Currency string
}

func Load(log *zap.Logger) *Config {
	return &Config{
		Port: getEnv("APP_PORT", log),
		DB: DB{
			Config: database.Config{
				Host:     getEnv("DB_HOST", log),
				Port:     getEnv("DB_PORT", log),
				User:     getEnv("DB_USER", log),
				Password: getEnv("DB_PASSWORD", log),
				Name:     getEnv("DB_NAME", log),
				SSLMode:  getEnv("DB_SSLMODE", log),
			},
		},
		Gateway: Gateway{
			BaseURL:  getEnv("PAYMENT_GATEWAY_URL", log),
			KeyID:    getEnv("PAYMENT_GATEWAY_KEYID", log),
			Secret:   getEnv("PAYMENT_GATEWAY_SECRET", log),
			Currency: getEnvDefault("PAYMENT_CURRENCY", "INR"),
		},
		KafkaBrokers: splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnvDefault("KAFKA_TOPIC_ORDERS", "checkout.orders"),
	}
}

func getEnv(key string, log *zap.Logger) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	log.Error("Обязательная переменная окружения не установлена", zap.String("key", key))
	panic("missing required environment variable: " + key)
}

func getEnvDefault(key, def string) string {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		return val
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		pt := strings.TrimSpace(p)
		if pt != "" {
			parts = append(parts, pt)
		}
	}
	return parts
}
