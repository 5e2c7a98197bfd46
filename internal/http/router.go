// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/config"
	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/http/handlers"
	"github.com/tbourn/go-knowledge-backend/internal/http/middleware"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
	"github.com/tbourn/go-knowledge-backend/internal/search"
	"github.com/tbourn/go-knowledge-backend/internal/services"
)

// knowledgeRepoShim adapts the repository free functions to the
// services.KnowledgeRepo interface expected by the KnowledgeService. This
// keeps services decoupled from the concrete repo package while reusing
// existing functions.
type knowledgeRepoShim struct{}

func (knowledgeRepoShim) CreateBucket(ctx context.Context, db *gorm.DB, ownerID, name, bucketType, description string, campaignID *string) (*domain.Bucket, error) {
	return repo.CreateBucket(ctx, db, ownerID, name, bucketType, description, campaignID)
}

func (knowledgeRepoShim) ListBuckets(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Bucket, error) {
	return repo.ListBuckets(ctx, db, ownerID)
}

func (knowledgeRepoShim) CountBuckets(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	return repo.CountBuckets(ctx, db, ownerID)
}

func (knowledgeRepoShim) ListBucketsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Bucket, error) {
	return repo.ListBucketsPage(ctx, db, ownerID, offset, limit)
}

func (knowledgeRepoShim) GetBucket(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Bucket, error) {
	return repo.GetBucket(ctx, db, id, ownerID)
}

func (knowledgeRepoShim) DeleteBucket(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	return repo.DeleteBucket(ctx, db, id, ownerID)
}

func (knowledgeRepoShim) CreateDocument(ctx context.Context, db *gorm.DB, bucketID, title, content, fileName, fileType string, fileSize int64) (*domain.Document, error) {
	return repo.CreateDocument(ctx, db, bucketID, title, content, fileName, fileType, fileSize)
}

func (knowledgeRepoShim) GetDocument(ctx context.Context, db *gorm.DB, id string) (*domain.Document, error) {
	return repo.GetDocument(ctx, db, id)
}

func (knowledgeRepoShim) GetDocumentBucket(ctx context.Context, db *gorm.DB, documentID, ownerID string) (*domain.Bucket, error) {
	return repo.GetDocumentBucket(ctx, db, documentID, ownerID)
}

func (knowledgeRepoShim) ListDocumentsPage(ctx context.Context, db *gorm.DB, bucketID string, offset, limit int) ([]domain.Document, error) {
	return repo.ListDocumentsPage(ctx, db, bucketID, offset, limit)
}

func (knowledgeRepoShim) CountDocuments(ctx context.Context, db *gorm.DB, bucketID string) (int64, error) {
	return repo.CountDocuments(ctx, db, bucketID)
}

func (knowledgeRepoShim) UpdateDocument(ctx context.Context, db *gorm.DB, id string, title, content *string) (*domain.Document, error) {
	return repo.UpdateDocument(ctx, db, id, title, content)
}

func (knowledgeRepoShim) DeleteDocument(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteDocument(ctx, db, id)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression (search results and document lists compress well)
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
//
// The returned Processor handle lets the caller drain outstanding async jobs
// on shutdown.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, emb search.Embedder, cfg config.Config) *services.Processor {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(cfg.MaxUploadBytes))

	// 6) Compress responses; document exports keep their attachment headers.
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, ownerID, bucketID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetUploadReceipt(ctx, db, ownerID, bucketID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Content-Disposition"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (docs generated with swag init; off by default)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/embedder
	campSvc := services.NewCampaignService(db)
	proc := services.NewProcessor(db, emb, search.Chunker{
		MaxChunkRunes: cfg.ChunkMaxRunes,
		MinChunkRunes: cfg.ChunkMinRunes,
	}, cfg.ProcessAsync)
	proc.JobTimeout = cfg.ProcessTimeout

	knowSvc := services.NewKnowledgeService(db, knowledgeRepoShim{}, campSvc, proc)
	knowSvc.MaxContentRunes = cfg.MaxContentRunes

	searchSvc := services.NewSearchService(db, emb, cfg.SearchMinScore)

	h := handlers.New(knowSvc, searchSvc, campSvc)
	if cfg.UploadReceiptTTL > 0 {
		h.ReceiptTTL = cfg.UploadReceiptTTL
	}

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Buckets
		api.POST("/buckets", h.CreateBucket)
		api.GET("/buckets", h.ListBuckets)
		api.GET("/buckets/:id", h.GetBucket)
		api.DELETE("/buckets/:id", h.DeleteBucket)

		// Documents
		api.POST("/buckets/:id/documents", h.UploadDocument)
		api.GET("/buckets/:id/documents", h.ListDocuments)
		api.GET("/documents/:id", h.GetDocument)
		api.PUT("/documents/:id", h.UpdateDocument)
		api.DELETE("/documents/:id", h.DeleteDocument)
		api.POST("/documents/:id/reprocess", h.ReprocessDocument)
		api.GET("/documents/:id/export", h.ExportDocument)
		api.POST("/documents/extract", h.ExtractDocument)

		// Search
		api.GET("/search", h.Search)

		// Campaigns (read-only pick-list)
		api.GET("/campaigns", h.ListCampaigns)
	}

	return proc
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
