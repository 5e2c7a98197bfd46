// Document HTTP handlers.
//
// This file exposes REST endpoints for knowledge documents:
//   - POST   /buckets/{id}/documents   (upload/create, idempotent via header)
//   - GET    /buckets/{id}/documents   (list, paginated, ETag support)
//   - GET    /documents/{id}           (fetch, includes processing status)
//   - PUT    /documents/{id}           (update title/content)
//   - DELETE /documents/{id}           (cascade delete of chunks)
//   - POST   /documents/{id}/reprocess (re-run chunking/embedding)
//   - GET    /documents/{id}/export    (download content)
//   - POST   /documents/extract        (multipart file to title+content draft)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (line endings, length caps)
//   - delegate to application services (KnowledgeService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// upload exists for (owner, bucket, key), the handler returns the originally
// created document and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/http/middleware"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
	"github.com/tbourn/go-knowledge-backend/internal/services"
)

//
// DTOs
//

// UploadDocumentRequest is the JSON payload for creating a document. Content
// is normalized by the handler (line endings and excessive blank lines)
// before being passed to the service layer.
type UploadDocumentRequest struct {
	// Title names the document (1-255 chars).
	Title string `json:"title" binding:"required,min=1" example:"Summer launch brief"`
	// Content is the full text content. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"Our summer campaign targets..."`
	// FileName optionally records the original upload file name.
	FileName string `json:"file_name,omitempty" example:"launch-brief.md"`
	// FileType optionally records the original MIME type.
	FileType string `json:"file_type,omitempty" example:"text/markdown"`
	// FileSize optionally records the original file size in bytes.
	FileSize int64 `json:"file_size,omitempty" example:"18432"`
}

// UpdateDocumentRequest carries optional title/content changes. Omitted
// fields are left untouched; a content change triggers reprocessing.
type UpdateDocumentRequest struct {
	Title   *string `json:"title,omitempty" example:"Summer launch brief v2"`
	Content *string `json:"content,omitempty"`
}

// ListDocumentsResponse contains a page of documents and pagination metadata.
type ListDocumentsResponse struct {
	Documents  []domain.Document `json:"documents"`
	Pagination Pagination        `json:"pagination"`
}

// ExtractResponse is the draft returned by the extract endpoint: the text
// pulled out of the uploaded file plus a suggested title derived from the
// file name. Nothing is persisted.
type ExtractResponse struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes document text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxContentRunes inspects the concrete KnowledgeService for a
// configured content-length limit. If unavailable, it returns a conservative
// fallback.
func discoverMaxContentRunes(knowSvc KnowledgeService) int {
	const fallback = 500_000
	if ks, ok := knowSvc.(*services.KnowledgeService); ok {
		if ks.MaxContentRunes > 0 {
			return ks.MaxContentRunes
		}
	}
	return fallback
}

// idempotencyKeyFrom extracts an idempotency key, preferring the validated
// value stashed by the idempotency middleware. The fallback reads the
// "Idempotency-Key" header directly when no such middleware is mounted.
func idempotencyKeyFrom(c *gin.Context) (string, bool) {
	if key, ok := middleware.GetIdempotencyKey(c); ok {
		return key, true
	}
	if v := strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey)); v != "" {
		return v, true
	}
	return "", false
}

// failDocumentErr translates service-layer sentinels into HTTP responses for
// endpoints operating on a single document.
func failDocumentErr(c *gin.Context, err error) {
	switch err {
	case services.ErrDocumentNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "document not found")
	case services.ErrBucketNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "bucket not found")
	case services.ErrEmptyTitle, services.ErrEmptyContent:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case services.ErrTooLong:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case services.ErrReprocessInFlight:
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Handlers
//

// UploadDocument godoc
// @ID          uploadDocument
// @Summary     Create a document in a bucket
// @Description Creates a document and starts chunk/embedding processing. The document is returned in the "processing" state.
// @Description Supports idempotency via the Idempotency-Key header (same key in the same bucket returns the original document).
// @Tags        Documents
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true  "Bucket ID (UUID)"       format(uuid)
// @Param       body             body    handlers.UploadDocumentRequest  true  "Document payload"
//
// @Success     201  {object}  domain.Document
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Bucket not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /buckets/{id}/documents [post]
func (h *Handlers) UploadDocument(c *gin.Context) {
	ctx := c.Request.Context()
	bucketID := c.Param("id")

	if _, err := uuid.Parse(bucketID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bucket id must be a UUID")
		return
	}

	var req UploadDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and content required")
		return
	}

	content := sanitizeContent(req.Content)
	maxRunes := discoverMaxContentRunes(h.knowSvc)
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	currentUser := ownerID(c)

	// Idempotency (replay path): read validated key if present.
	idemKey, _ := idempotencyKeyFrom(c)
	if idemKey != "" {
		if svc, okSvc := h.knowSvc.(*services.KnowledgeService); okSvc && svc.DB != nil {
			if rec, err := repo.GetUploadReceipt(ctx, svc.DB, currentUser, bucketID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetDocument(ctx, svc.DB, rec.DocumentID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, prev)
					return
				}
			}
		}
	}

	doc, err := h.knowSvc.UploadDocument(ctx, currentUser, bucketID, req.Title, content, services.FileMeta{
		Name: req.FileName,
		Type: req.FileType,
		Size: req.FileSize,
	})
	if err != nil {
		failDocumentErr(c, err)
		return
	}

	// Idempotency (store path): best effort.
	if idemKey != "" {
		if svc, okSvc := h.knowSvc.(*services.KnowledgeService); okSvc && svc.DB != nil {
			ttl := h.ReceiptTTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			_, _ = repo.CreateUploadReceipt(ctx, svc.DB, currentUser, bucketID, idemKey, doc.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, doc)
}

// ListDocuments godoc
// @ID          listDocuments
// @Summary     List documents in a bucket
// @Description Returns a paginated list of documents for the given bucket. Supports weak ETag via If-None-Match; status flips bump the ETag.
// @Tags        Documents
// @Produce     json
//
// @Param       X-User-ID  header string  false "User ID (demo header)"  example(user123)
// @Param       id         path   string  true  "Bucket ID (UUID)"       format(uuid)
// @Param       page       query  int     false "Page number"            minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListDocumentsResponse
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Bucket not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /buckets/{id}/documents [get]
func (h *Handlers) ListDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	bucketID := c.Param("id")

	if _, err := uuid.Parse(bucketID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bucket id must be a UUID")
		return
	}

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.knowSvc.(*services.KnowledgeService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.DocumentsStats(ctx, db, bucketID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"documents:%s:%d:%d"`, bucketID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.knowSvc.ListDocumentsPage(ctx, ownerID(c), bucketID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrBucketNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "bucket not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ListDocumentsResponse{
		Documents:  items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// GetDocument godoc
// @ID          getDocument
// @Summary     Fetch a document
// @Description Returns one document, including its processing status. Clients poll this after upload to observe the ready/failed transition.
// @Tags        Documents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Document ID (UUID)"     format(uuid)
//
// @Success     200  {object} domain.Document
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/{id} [get]
func (h *Handlers) GetDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document id must be a UUID")
		return
	}

	doc, err := h.knowSvc.GetDocument(c.Request.Context(), ownerID(c), id)
	if err != nil {
		failDocumentErr(c, err)
		return
	}
	ok(c, http.StatusOK, doc)
}

// UpdateDocument godoc
// @ID          updateDocument
// @Summary     Update a document
// @Description Applies title and/or content changes. A content change supersedes the stored chunks: the document returns to "processing" and is re-embedded. Saving unchanged content is a lifecycle no-op.
// @Tags        Documents
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Document ID (UUID)"     format(uuid)
// @Param       body       body    handlers.UpdateDocumentRequest  true  "Fields to change"
//
// @Success     200  {object} domain.Document
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/{id} [put]
func (h *Handlers) UpdateDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document id must be a UUID")
		return
	}

	var req UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Title == nil && req.Content == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "nothing to update")
		return
	}
	if req.Content != nil {
		s := sanitizeContent(*req.Content)
		req.Content = &s
	}

	doc, err := h.knowSvc.UpdateDocument(c.Request.Context(), ownerID(c), id, req.Title, req.Content)
	if err != nil {
		failDocumentErr(c, err)
		return
	}
	ok(c, http.StatusOK, doc)
}

// DeleteDocument godoc
// @ID          deleteDocument
// @Summary     Delete a document
// @Description Removes a document and its chunks; deleted content stops appearing in search immediately. A repeated delete returns 404.
// @Tags        Documents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Document ID (UUID)"     format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/{id} [delete]
func (h *Handlers) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document id must be a UUID")
		return
	}

	if err := h.knowSvc.DeleteDocument(c.Request.Context(), ownerID(c), id); err != nil {
		failDocumentErr(c, err)
		return
	}
	noContent(c)
}

// ReprocessDocument godoc
// @ID          reprocessDocument
// @Summary     Reprocess a document
// @Description Re-runs chunking and embedding from the document's current content. Refused with 409 while a prior job is still outstanding.
// @Tags        Documents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Document ID (UUID)"     format(uuid)
//
// @Success     202  {object} gin.H "Accepted"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     409  {object} handlers.ErrorResponse "Already processing"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/{id}/reprocess [post]
func (h *Handlers) ReprocessDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document id must be a UUID")
		return
	}

	if err := h.knowSvc.Reprocess(c.Request.Context(), ownerID(c), id); err != nil {
		failDocumentErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, gin.H{"status": "processing"})
}

// ExportDocument godoc
// @ID          exportDocument
// @Summary     Download a document
// @Description Streams the document content as an attachment. JSON-sourced documents download as .json, everything else as .txt.
// @Tags        Documents
// @Produce     octet-stream
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Document ID (UUID)"     format(uuid)
//
// @Success     200  {file}   file
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/{id}/export [get]
func (h *Handlers) ExportDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document id must be a UUID")
		return
	}

	filename, contentType, data, err := h.knowSvc.ExportDocument(c.Request.Context(), ownerID(c), id)
	if err != nil {
		failDocumentErr(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}

// ExtractDocument godoc
// @ID          extractDocument
// @Summary     Extract text from an uploaded file
// @Description Parses a multipart file (.txt, .md, .json, .csv) into plain text and suggests a title from the file name. Nothing is persisted; the client reviews the draft before uploading it as a document.
// @Tags        Documents
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID  header    string  false "User ID (demo header)"  example(user123)
// @Param       file       formData  file    true  "File to extract"
//
// @Success     200  {object} handlers.ExtractResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     415  {object} handlers.ErrorResponse "Unsupported format"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/extract [post]
func (h *Handlers) ExtractDocument(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file")
		return
	}

	content, err := services.ExtractText(fh.Filename, data)
	if err != nil {
		if err == services.ErrUnsupportedFormat {
			fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedFormat, "unsupported file format")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if strings.TrimSpace(content) == "" {
		fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedFormat, "no extractable text")
		return
	}

	ok(c, http.StatusOK, ExtractResponse{
		Title:   services.SuggestTitle(fh.Filename),
		Content: content,
	})
}
