package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Sync
	SyncInterval       time.Duration
	SyncMaxConcurrent  int

	// Upstream (LibreLink)
	LibreLinkEndpoint string
	UpstreamTimeout   time.Duration
	UpstreamRateRPS   float64
	UpstreamRateBurst int

	// Ops server (/health, /metrics)
	OpsPort string

	// Logging
	LogLevel string
}

// デフォルトのLibreLinkエンドポイント（EUリージョン）。
const defaultLibreLinkEndpoint = "https://api-eu.libreview.io"

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 1*time.Minute)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 4)
	cfg.LibreLinkEndpoint = getEnvString("LIBRELINK_ENDPOINT", defaultLibreLinkEndpoint)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.UpstreamRateRPS = getEnvFloat("UPSTREAM_RATE_RPS", 2.0)
	cfg.UpstreamRateBurst = getEnvInt("UPSTREAM_RATE_BURST", 4)
	cfg.OpsPort = getEnvString("OPS_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
