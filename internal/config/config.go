package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries environment configuration shared by the server and the
// reconciler binaries.
type Config struct {
	ListenAddress string
	DatabasePath  string

	LogFile   string
	ErrorFile string
	LogLevel  string

	JWTSecret string

	// On-chain rail (TON escrow wallet).
	WalletMnemonic  string
	WalletVersion   string
	EscrowAddress   string
	TonAPIToken     string
	CharityAddress  string
	PlatformAddress string

	// Fiat rail (Stripe).
	StripeSecretKey       string
	StripeCharityAccount  string
	StripePlatformAccount string
	FrontendURL           string

	ReconcileIntervalSeconds int
}

func Load() Config {
	// .env is optional outside local development.
	_ = godotenv.Load()

	return Config{
		ListenAddress: getEnv("LISTEN_ADDRESS", ":8080"),
		DatabasePath:  getEnv("DATABASE_PATH", "persistent.db"),

		LogFile:   os.Getenv("LOG_FILE"),
		ErrorFile: os.Getenv("ERROR_FILE"),
		LogLevel:  getEnv("LOG_LEVEL", "debug"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		WalletMnemonic:  os.Getenv("WALLET_MNEMONIC"),
		WalletVersion:   getEnv("WALLET_VERSION", "V4R2"),
		EscrowAddress:   os.Getenv("ESCROW_ADDRESS"),
		TonAPIToken:     os.Getenv("TONAPI_TOKEN"),
		CharityAddress:  os.Getenv("CHARITY_ADDRESS"),
		PlatformAddress: os.Getenv("PLATFORM_ADDRESS"),

		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripeCharityAccount:  os.Getenv("STRIPE_CHARITY_ACCOUNT"),
		StripePlatformAccount: os.Getenv("STRIPE_PLATFORM_ACCOUNT"),
		FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:3000"),

		ReconcileIntervalSeconds: getEnvInt("RECONCILE_INTERVAL_SECONDS", 60),
	}
}

func getEnv(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
