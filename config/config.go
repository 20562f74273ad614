package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config carries the env-derived settings for the API process.
type Config struct {
	Env              string
	ListenAddr       string
	DatabaseURL      string
	AutoMigrate      bool
	EsignProvider    string
	SignWellAPIKey   string
	SignWellBaseURL  string
	StubAutoComplete bool
	// WorkerSharedSecret signs the HS256 token gating out-of-band
	// reconciliation triggers.
	WorkerSharedSecret string
	AdminMaxBodyBytes  int64
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// Load reads configuration from the environment. A missing DATABASE_URL is
// returned as an error value so callers can decide whether it is fatal.
func Load() (Config, error) {
	cfg := Config{
		Env:                getenv("APP_ENV", "development"),
		ListenAddr:         getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		AutoMigrate:        getenvBool("AUTO_MIGRATE", false),
		EsignProvider:      getenv("ESIGN_PROVIDER", "stub"),
		SignWellAPIKey:     os.Getenv("SIGNWELL_API_KEY"),
		SignWellBaseURL:    getenv("SIGNWELL_BASE_URL", "https://www.signwell.com/api/v1"),
		StubAutoComplete:   getenvBool("STUB_AUTO_COMPLETE", false),
		WorkerSharedSecret: os.Getenv("WORKER_SHARED_SECRET"),
		AdminMaxBodyBytes:  getenvInt64("ADMIN_MAX_BODY_BYTES", 1<<20),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}
