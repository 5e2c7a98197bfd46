// Command server runs the knowledge-base HTTP API.
//
// Startup order:
//  1. Load .env (best effort) and the environment configuration
//  2. Configure logging (level, optional pretty console output)
//  3. Open SQLite and migrate the schema
//  4. Configure OpenTelemetry tracing (optional)
//  5. Build the embedder (local hashed, or remote when configured)
//  6. Mount routes and serve until SIGINT/SIGTERM, then drain and shut down
//
// @title           Knowledge Base API
// @version         1.0
// @description     Buckets, documents, chunk embeddings, and semantic search for marketing knowledge.
// @BasePath        /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/go-knowledge-backend/docs"
	"github.com/tbourn/go-knowledge-backend/internal/config"
	httpapi "github.com/tbourn/go-knowledge-backend/internal/http"
	"github.com/tbourn/go-knowledge-backend/internal/observability"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
	"github.com/tbourn/go-knowledge-backend/internal/search"
	"github.com/tbourn/go-knowledge-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Local development convenience; absence of .env is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	var emb search.Embedder
	if cfg.Embed.Endpoint != "" {
		emb = search.NewRemoteEmbedder(cfg.Embed.Endpoint, cfg.Embed.Token, cfg.Embed.Dim, cfg.Embed.Timeout)
		log.Info().Str("endpoint", cfg.Embed.Endpoint).Int("dim", cfg.Embed.Dim).Msg("using remote embedder")
	} else {
		emb = search.NewHashedEmbedder(search.WithDim(cfg.Embed.Dim))
		log.Info().Int("dim", cfg.Embed.Dim).Msg("using local hashed embedder")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	proc := httpapi.RegisterRoutes(r, db, emb, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Let outstanding async processing jobs finish before the process exits,
	// so no document is stranded at "processing".
	proc.Drain()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("stopped")
}
