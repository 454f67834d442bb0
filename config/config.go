package config

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	QPay     QPayConfig
	Shopify  ShopifyConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// QPayConfig holds gateway credentials and the merchant invoice template.
// WebhookSecret may be empty: signature verification is then skipped, a
// reduced-security mode that is logged at startup.
type QPayConfig struct {
	Environment   string
	Username      string
	Password      string
	InvoiceCode   string
	CallbackURL   string
	WebhookSecret string
}

type ShopifyConfig struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

func (c DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

func Load(logger *zap.Logger) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8030"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "qpay_bridge"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		QPay: QPayConfig{
			Environment:   getEnv("QPAY_ENVIRONMENT", "sandbox"),
			Username:      getEnv("QPAY_USERNAME", ""),
			Password:      getEnv("QPAY_PASSWORD", ""),
			InvoiceCode:   getEnv("QPAY_INVOICE_CODE", ""),
			CallbackURL:   getEnv("QPAY_CALLBACK_URL", ""),
			WebhookSecret: getEnv("QPAY_WEBHOOK_SECRET", ""),
		},
		Shopify: ShopifyConfig{
			ShopDomain:  getEnv("SHOPIFY_SHOP_DOMAIN", ""),
			AccessToken: getEnv("SHOPIFY_ACCESS_TOKEN", ""),
			APIVersion:  getEnv("SHOPIFY_API_VERSION", "2024-01"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
		},
	}

	if cfg.QPay.Username == "" || cfg.QPay.Password == "" {
		return nil, fmt.Errorf("QPAY_USERNAME and QPAY_PASSWORD are required")
	}
	if cfg.QPay.InvoiceCode == "" {
		return nil, fmt.Errorf("QPAY_INVOICE_CODE is required")
	}

	if cfg.QPay.WebhookSecret == "" {
		logger.Warn("QPAY_WEBHOOK_SECRET is empty, webhook signature verification is disabled")
	}
	if cfg.Shopify.ShopDomain == "" || cfg.Shopify.AccessToken == "" {
		logger.Warn("Shopify credentials incomplete, order updates will fail",
			zap.String("shop_domain", cfg.Shopify.ShopDomain))
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
