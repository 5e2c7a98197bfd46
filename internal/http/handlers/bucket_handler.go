// Bucket HTTP handlers.
//
// This file exposes REST endpoints for knowledge bucket resources:
//   - POST   /buckets          (create)
//   - GET    /buckets          (list, paginated, ETag support)
//   - GET    /buckets/{id}     (fetch with document count)
//   - DELETE /buckets/{id}     (cascade delete)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
	"github.com/tbourn/go-knowledge-backend/internal/services"
	"github.com/tbourn/go-knowledge-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// KnowledgeService defines bucket and document lifecycle operations consumed
// by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type KnowledgeService interface {
	// CreateBucket creates a bucket for the owner, validating the
	// campaign link for campaign buckets.
	CreateBucket(ctx context.Context, ownerID, name, bucketType, description string, campaignID *string) (*domain.Bucket, error)
	// ListBucketsPage returns a page of the owner's buckets and the total count.
	ListBucketsPage(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Bucket, int64, error)
	// GetBucket fetches one bucket with its live document count.
	GetBucket(ctx context.Context, ownerID, id string) (*domain.Bucket, error)
	// DeleteBucket removes a bucket and everything inside it.
	DeleteBucket(ctx context.Context, ownerID, id string) error

	// UploadDocument creates a document and starts chunk/embedding processing.
	UploadDocument(ctx context.Context, ownerID, bucketID, title, content string, meta services.FileMeta) (*domain.Document, error)
	// GetDocument fetches a document, enforcing bucket ownership.
	GetDocument(ctx context.Context, ownerID, id string) (*domain.Document, error)
	// ListDocumentsPage returns a page of a bucket's documents and the total count.
	ListDocumentsPage(ctx context.Context, ownerID, bucketID string, page, pageSize int) ([]domain.Document, int64, error)
	// UpdateDocument applies title/content changes; content changes reprocess.
	UpdateDocument(ctx context.Context, ownerID, id string, title, content *string) (*domain.Document, error)
	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, ownerID, id string) error
	// Reprocess re-runs chunking/embedding from current content.
	Reprocess(ctx context.Context, ownerID, id string) error
	// ExportDocument returns the downloadable representation of a document.
	ExportDocument(ctx context.Context, ownerID, id string) (filename, contentType string, data []byte, err error)
}

// SearchService defines semantic search over the owner's knowledge base.
type SearchService interface {
	// Search returns up to limit chunks ranked by similarity to query.
	Search(ctx context.Context, ownerID, query, bucketType, campaignID string, limit int) ([]services.SearchResult, error)
}

// CampaignService defines read-only access to campaign reference data.
type CampaignService interface {
	// List returns all campaigns for pick-lists.
	List(ctx context.Context) ([]domain.Campaign, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for buckets, documents, search, and
// campaigns. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	knowSvc   KnowledgeService
	searchSvc SearchService
	campSvc   CampaignService

	// ReceiptTTL bounds how long an upload receipt can be replayed.
	ReceiptTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(knowSvc KnowledgeService, searchSvc SearchService, campSvc CampaignService) *Handlers {
	return &Handlers{
		knowSvc:    knowSvc,
		searchSvc:  searchSvc,
		campSvc:    campSvc,
		ReceiptTTL: 24 * time.Hour,
	}
}

// ownerID extracts the authenticated account id from Gin context (set by
// upstream middleware). If absent, it falls back to the "X-User-ID" header
// (tests use it), and finally to "demo-user". It never touches c.Request if
// it's nil.
func ownerID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateBucketRequest is the JSON payload for creating a bucket.
type CreateBucketRequest struct {
	// Name is the bucket display name (1-120 chars).
	Name string `json:"name" binding:"required,min=1" example:"Product FAQs"`
	// BucketType is "general" or "campaign".
	BucketType string `json:"bucket_type" binding:"required" example:"general"`
	// Description optionally describes the bucket's purpose.
	Description string `json:"description" example:"Evergreen product knowledge"`
	// CampaignID links a campaign bucket to a campaign; required when
	// bucket_type is "campaign", forbidden otherwise.
	CampaignID *string `json:"campaign_id,omitempty" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListBucketsResponse wraps a page of buckets and pagination information.
type ListBucketsResponse struct {
	Buckets    []domain.Bucket `json:"buckets"`
	Pagination Pagination      `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginationFor computes the response metadata for one page.
func paginationFor(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// CreateBucket godoc
// @ID          createBucket
// @Summary     Create a knowledge bucket
// @Description Creates a bucket for the current user. Campaign buckets must reference an existing campaign.
// @Tags        Buckets
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateBucketRequest  true  "Create bucket payload"
//
// @Success     201  {object}  domain.Bucket
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /buckets [post]
func (h *Handlers) CreateBucket(c *gin.Context) {
	var req CreateBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	b, err := h.knowSvc.CreateBucket(c.Request.Context(), ownerID(c),
		req.Name, strings.ToLower(strings.TrimSpace(req.BucketType)), req.Description, req.CampaignID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyName),
			errors.Is(err, services.ErrInvalidBucketType),
			errors.Is(err, services.ErrMissingCampaign):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrCampaignNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, b)
}

// ListBuckets godoc
// @ID          listBuckets
// @Summary     List knowledge buckets (paginated)
// @Description Returns a page of the user's buckets with live document counts. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Buckets
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListBucketsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /buckets [get]
func (h *Handlers) ListBuckets(c *gin.Context) {
	ctx := c.Request.Context()
	uid := ownerID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.knowSvc.(*services.KnowledgeService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.BucketsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"buckets:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.knowSvc.ListBucketsPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListBucketsResponse{
		Buckets:    items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// GetBucket godoc
// @ID          getBucket
// @Summary     Fetch a bucket
// @Description Returns one bucket owned by the current user, including its live document count.
// @Tags        Buckets
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Bucket ID (UUID)"       format(uuid)
//
// @Success     200  {object} domain.Bucket
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Bucket not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /buckets/{id} [get]
func (h *Handlers) GetBucket(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bucket id must be a UUID")
		return
	}

	b, err := h.knowSvc.GetBucket(c.Request.Context(), ownerID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrBucketNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "bucket not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, b)
}

// DeleteBucket godoc
// @ID          deleteBucket
// @Summary     Delete a bucket
// @Description Removes a bucket and all documents and chunks inside it. Deleted content stops appearing in search immediately.
// @Tags        Buckets
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Bucket ID (UUID)"       format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Bucket not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /buckets/{id} [delete]
func (h *Handlers) DeleteBucket(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bucket id must be a UUID")
		return
	}

	if err := h.knowSvc.DeleteBucket(c.Request.Context(), ownerID(c), id); err != nil {
		if errors.Is(err, services.ErrBucketNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "bucket not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
