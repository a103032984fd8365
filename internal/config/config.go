// Package config loads service settings from the environment, backed by
// a .env file when present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// IngestConfig holds EMAIL_PARSER_* settings for the sync engine.
type IngestConfig struct {
	DataDir             string
	GoogleCredentials   string
	GoogleToken         string
	GoogleRefreshToken  string
	EmbeddingModel      string
	EmbeddingDimension  int
	SyncBatchSize       int
	ListenAddr          string
}

// ServiceConfig holds DASHBOARD_* settings for the HTTP API.
type ServiceConfig struct {
	AuthEnabled       bool
	GoogleClientID    string
	GoogleClientSecret string
	GoogleRedirectURI string
	AllowedEmail      string
	SessionSecret     string
	SessionTTL        time.Duration
	HTTPSOnly         bool
	CORSOrigins       []string
	LLMProvider       string
	LLMModel          string
	LLMAPIKey         string
	LLMBaseURL        string
}

// Config is the full process configuration.
type Config struct {
	Ingest  IngestConfig
	Service ServiceConfig
}

// Load reads a .env file if present (missing is not an error), then
// resolves every setting from the environment with the defaults below.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Ingest: IngestConfig{
			DataDir:            env("EMAIL_PARSER_CHROMA_PERSIST_DIR", "./data"),
			GoogleCredentials:  env("EMAIL_PARSER_GOOGLE_CREDENTIALS_PATH", "credentials.json"),
			GoogleToken:        env("EMAIL_PARSER_GOOGLE_TOKEN_PATH", "token.json"),
			GoogleRefreshToken: env("EMAIL_PARSER_GOOGLE_REFRESH_TOKEN", ""),
			EmbeddingModel:     env("EMAIL_PARSER_EMBEDDING_MODEL", "hash-v1"),
			EmbeddingDimension: envInt("EMAIL_PARSER_EMBEDDING_DIMENSION", 384),
			SyncBatchSize:      envInt("EMAIL_PARSER_SYNC_BATCH_SIZE", 100),
			ListenAddr:         env("EMAIL_PARSER_LISTEN_ADDR", ":8080"),
		},
		Service: ServiceConfig{
			AuthEnabled:        envBool("DASHBOARD_AUTH_ENABLED", false),
			GoogleClientID:     env("DASHBOARD_GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret: env("DASHBOARD_GOOGLE_CLIENT_SECRET", ""),
			GoogleRedirectURI:  env("DASHBOARD_GOOGLE_REDIRECT_URI", ""),
			AllowedEmail:       env("DASHBOARD_ALLOWED_EMAIL", ""),
			SessionSecret:      env("DASHBOARD_SESSION_SECRET", ""),
			SessionTTL:         time.Duration(envInt("DASHBOARD_SESSION_TTL_SECONDS", 86400)) * time.Second,
			HTTPSOnly:          envBool("DASHBOARD_HTTPS_ONLY", false),
			CORSOrigins:        envList("DASHBOARD_CORS_ORIGINS"),
			LLMProvider:        env("DASHBOARD_LLM_PROVIDER", "local"),
			LLMModel:           env("DASHBOARD_LLM_MODEL", ""),
			LLMAPIKey:          env("DASHBOARD_LLM_API_KEY", ""),
			LLMBaseURL:         env("DASHBOARD_LLM_BASE_URL", ""),
		},
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
