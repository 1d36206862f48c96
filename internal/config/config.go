// Package config loads application configuration from environment variables.
package config

import (
	"os"

	"github.com/joho/godotenv"

	"paydrop/internal/logging"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port        string
	BaseURL     string // externally visible base URL, used in challenges and grants
	DatabaseURL string // postgres:// DSN, or a plain file path for SQLite

	// Object storage (S3-compatible: MinIO locally, AWS/B2 in production)
	StorageEndpoint   string
	StorageAccessKey  string
	StorageSecretKey  string
	StorageBucket     string
	StorageUseSSL     bool
	StoragePublicBase string // browser-accessible base URL, e.g. "https://f.paydrop.dev"

	// Payment settlement
	FacilitatorURL string // empty enables the mock facilitator (dev mode)
	PayNetwork     string // CAIP-2 network identifier, e.g. "eip155:8453"
	PayeeAddress   string
	VerifierURL    string // wallet-signature verification service; empty disables read auth

	UploadTokenSecret string // optional; enables edge upload tokens instead of presigned PUTs
	SweepSecret       string // shared secret guarding the sweep trigger endpoint
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logging.Internal.Println("no .env file found, reading from environment")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "paydrop.db"),

		StorageEndpoint:   getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey:  getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey:  getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:     getEnv("STORAGE_BUCKET", "paydrop"),
		StorageUseSSL:     getEnv("STORAGE_USE_SSL", "false") == "true",
		StoragePublicBase: getEnv("STORAGE_PUBLIC_BASE", "http://localhost:9000/paydrop"),

		FacilitatorURL: os.Getenv("FACILITATOR_URL"),
		PayNetwork:     getEnv("PAY_NETWORK", "eip155:84532"),
		PayeeAddress:   os.Getenv("PAYEE_ADDRESS"),
		VerifierURL:    os.Getenv("WALLET_VERIFIER_URL"),

		UploadTokenSecret: os.Getenv("UPLOAD_TOKEN_SECRET"),
		SweepSecret:       os.Getenv("SWEEP_SECRET"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
