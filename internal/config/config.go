package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port     string
	LogLevel string
	// Storefront origin used to build provider return URLs.
	BaseURL        string
	AllowedOrigins []string
	// Shop number customers message to confirm delivery.
	WhatsAppNumber string

	DB        DBConfig
	Redis     RedisConfig
	RabbitURL string

	HostedSession  HostedSessionConfig
	ApproveCapture ApproveCaptureConfig
	BankTransfer   BankTransferConfig
	Wallet         WalletConfig
	Exchange       ExchangeConfig

	PollInterval time.Duration
	PollAfter    time.Duration
}

type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type HostedSessionConfig struct {
	APIBase       string
	SecretKey     string
	WebhookSecret string
}

type ApproveCaptureConfig struct {
	APIBase  string
	ClientID string
	Secret   string
}

type BankTransferConfig struct {
	APIBase   string
	SecretKey string
}

type WalletConfig struct {
	MerchantID   string
	DisplayName  string
	ProcessorURL string
	ProcessorKey string
	AllowedHosts []string
	CertFile     string
	KeyFile      string
}

type ExchangeConfig struct {
	LatestURL  string
	ConvertURL string
	AccessKey  string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", "http://localhost:3000"), "/"),
		AllowedOrigins: getList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		WhatsAppNumber: getEnv("WHATSAPP_NUMBER", ""),
		DB: DBConfig{
			Host:     getEnv("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getEnv("BLUEPRINT_DB_PORT", "5432"),
			Username: getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
			Password: getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
			Database: getEnv("BLUEPRINT_DB_DATABASE", "dimplesluxe"),
			Schema:   getEnv("BLUEPRINT_DB_SCHEMA", "public"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		RabbitURL: getEnv("RABBIT_URL", ""),
		HostedSession: HostedSessionConfig{
			APIBase:       getEnv("HOSTED_SESSION_API_URL", "https://api.hosted-checkout.example"),
			SecretKey:     getEnv("HOSTED_SESSION_SECRET_KEY", ""),
			WebhookSecret: getEnv("HOSTED_SESSION_WEBHOOK_SECRET", ""),
		},
		ApproveCapture: ApproveCaptureConfig{
			APIBase:  getEnv("PAYPAL_API_URL", "https://api-m.sandbox.paypal.com"),
			ClientID: getEnv("PAYPAL_CLIENT_ID", ""),
			Secret:   getEnv("PAYPAL_CLIENT_SECRET", ""),
		},
		BankTransfer: BankTransferConfig{
			APIBase:   getEnv("BANK_TRANSFER_API_URL", "https://api.paystack.co"),
			SecretKey: getEnv("BANK_TRANSFER_SECRET_KEY", ""),
		},
		Wallet: WalletConfig{
			MerchantID:   getEnv("WALLET_MERCHANT_ID", ""),
			DisplayName:  getEnv("WALLET_DISPLAY_NAME", "Dimplesluxe"),
			ProcessorURL: getEnv("WALLET_PROCESSOR_URL", ""),
			ProcessorKey: getEnv("WALLET_PROCESSOR_KEY", ""),
			AllowedHosts: getList("WALLET_VALIDATION_HOSTS", []string{"apple-pay-gateway.apple.com", "apple-pay-gateway-cert.apple.com"}),
			CertFile:     getEnv("WALLET_MERCHANT_CERT", ""),
			KeyFile:      getEnv("WALLET_MERCHANT_KEY", ""),
		},
		Exchange: ExchangeConfig{
			LatestURL:  getEnv("EXCHANGE_LATEST_URL", "https://api.exchangerate-api.com/v4/latest"),
			ConvertURL: getEnv("EXCHANGE_CONVERT_URL", "https://api.exchangerate.host/convert"),
			AccessKey:  getEnv("EXCHANGE_ACCESS_KEY", ""),
		},
		PollInterval: getDuration("BANK_TRANSFER_POLL_INTERVAL", time.Minute),
		PollAfter:    getDuration("BANK_TRANSFER_POLL_AFTER", 2*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
