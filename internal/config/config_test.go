package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("EMAIL_PARSER_EMBEDDING_DIMENSION", "")
	t.Setenv("DASHBOARD_AUTH_ENABLED", "")
	cfg := Load()

	if cfg.Ingest.EmbeddingDimension != 384 {
		t.Fatalf("expected default dimension 384, got %d", cfg.Ingest.EmbeddingDimension)
	}
	if cfg.Ingest.SyncBatchSize != 100 {
		t.Fatalf("expected default batch size 100, got %d", cfg.Ingest.SyncBatchSize)
	}
	if cfg.Service.AuthEnabled {
		t.Fatal("expected auth disabled by default")
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("EMAIL_PARSER_SYNC_BATCH_SIZE", "50")
	t.Setenv("DASHBOARD_AUTH_ENABLED", "true")
	t.Setenv("DASHBOARD_CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg := Load()

	if cfg.Ingest.SyncBatchSize != 50 {
		t.Fatalf("expected 50, got %d", cfg.Ingest.SyncBatchSize)
	}
	if !cfg.Service.AuthEnabled {
		t.Fatal("expected auth enabled")
	}
	if len(cfg.Service.CORSOrigins) != 2 || cfg.Service.CORSOrigins[0] != "https://a.example.com" {
		t.Fatalf("unexpected cors origins: %#v", cfg.Service.CORSOrigins)
	}
}

func TestEnvInt_FallsBackOnInvalid(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "not-a-number")
	if got := envInt("TEST_ENV_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}
