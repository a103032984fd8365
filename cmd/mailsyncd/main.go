// Command mailsyncd is the sync/search service entrypoint: it bootstraps
// the Gmail transport, the sqlite store, the embedding/categorization/LLM
// layers, the sync orchestrator, and the HTTP surface, then serves until
// the process is signaled to stop.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nitinnat/gmail-parser/internal/config"
	"github.com/nitinnat/gmail-parser/internal/embedding"
	"github.com/nitinnat/gmail-parser/internal/gmailapi"
	"github.com/nitinnat/gmail-parser/internal/httpapi"
	"github.com/nitinnat/gmail-parser/internal/ingest"
	"github.com/nitinnat/gmail-parser/internal/jsonstore"
	"github.com/nitinnat/gmail-parser/internal/llmenrich"
	"github.com/nitinnat/gmail-parser/internal/orchestrator"
	"github.com/nitinnat/gmail-parser/internal/search"
	"github.com/nitinnat/gmail-parser/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg := config.Load()

	if err := os.MkdirAll(cfg.Ingest.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Ingest.DataDir).Msg("create data dir")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := gmailapi.NewTransport(ctx, cfg.Ingest.GoogleCredentials, cfg.Ingest.GoogleToken, cfg.Ingest.GoogleRefreshToken)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap gmail transport")
	}

	dbPath := filepath.Join(cfg.Ingest.DataDir, "mailsync.db")
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("open store")
	}

	embedder := embedding.NewModel(cfg.Ingest.EmbeddingDimension)
	jsonStore := jsonstore.New(cfg.Ingest.DataDir)

	var enricher *llmenrich.Enricher
	if cfg.Service.LLMBaseURL != "" || cfg.Service.LLMProvider == "local" {
		overrides, err := jsonStore.SenderCategories()
		if err != nil {
			log.Warn().Err(err).Msg("load sender overrides for enricher")
		}
		subjectOverrides, err := jsonStore.SubjectCategories()
		if err != nil {
			log.Warn().Err(err).Msg("load subject overrides for enricher")
		}
		client := llmenrich.NewClient(cfg.Service.LLMBaseURL)
		enricher = llmenrich.NewEnricher(client, overrides, subjectOverrides)
	}

	engine := ingest.New(transport, db, embedder, enricher, cfg.Ingest.SyncBatchSize)
	engine.Overrides = func() map[string]string {
		overrides, err := jsonStore.SenderCategories()
		if err != nil {
			log.Warn().Err(err).Msg("load sender overrides")
			return nil
		}
		return overrides
	}
	engine.SubjectOverrides = func() map[string]string {
		subjectOverrides, err := jsonStore.SubjectCategories()
		if err != nil {
			log.Warn().Err(err).Msg("load subject overrides")
			return nil
		}
		return subjectOverrides
	}
	searcher := search.New(db, embedder)
	cache := search.NewCache()
	analytics := search.NewAnalytics(db, cache)

	orch := orchestrator.New(engine, cache)
	go orch.Run(ctx)

	sessionSecret := cfg.Service.SessionSecret
	if sessionSecret == "" {
		sessionSecret, err = loadOrCreateSessionSecret(cfg.Ingest.DataDir)
		if err != nil {
			log.Fatal().Err(err).Msg("provision dashboard session secret")
		}
	}

	server := httpapi.New(httpapi.Config{
		Engine:       engine,
		Orchestrator: orch,
		Searcher:     searcher,
		Analytics:    analytics,
		JSONStore:    jsonStore,
		DB:           db,

		SessionSecret: sessionSecret,
		AuthEnabled:   cfg.Service.AuthEnabled,
		AllowedEmail:  cfg.Service.AllowedEmail,
	})

	httpServer := &http.Server{
		Addr:              cfg.Ingest.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Ingest.ListenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// loadOrCreateSessionSecret reads dashboard_session_secret.txt from dir,
// generating and persisting a fresh 48-byte URL-safe token on first run.
func loadOrCreateSessionSecret(dir string) (string, error) {
	path := filepath.Join(dir, "dashboard_session_secret.txt")
	if b, err := os.ReadFile(path); err == nil {
		return string(b), nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	raw := make([]byte, 48)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := base64.URLEncoding.EncodeToString(raw)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(secret), 0o600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return secret, nil
}
