// Package services – KnowledgeService
//
// This file implements KnowledgeService, the application-level component that
// owns buckets and documents: creation with invariant enforcement (campaign
// buckets must reference a campaign), listing with pagination, content
// updates that supersede derived chunks, cascade deletes, and export.
//
// The campaign-id invariant is enforced at construction time here, so no
// downstream code needs to re-check it: a persisted campaign bucket always
// carries a resolvable campaign id and a general bucket never requires one.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// bucket/document identifiers where applicable.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// KnowledgeRepo defines the repository contract required by KnowledgeService.
// Implementations are responsible for persistence of bucket and document
// aggregates.
type KnowledgeRepo interface {
	// CreateBucket inserts a new bucket row for the given owner.
	CreateBucket(ctx context.Context, db *gorm.DB, ownerID, name, bucketType, description string, campaignID *string) (*domain.Bucket, error)

	// ListBuckets returns all buckets belonging to the owner (non-paginated).
	ListBuckets(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Bucket, error)

	// CountBuckets returns the total number of buckets for pagination.
	CountBuckets(ctx context.Context, db *gorm.DB, ownerID string) (int64, error)

	// ListBucketsPage returns a page of buckets belonging to the owner.
	ListBucketsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Bucket, error)

	// GetBucket fetches a bucket by ID ensuring it belongs to the owner.
	GetBucket(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Bucket, error)

	// DeleteBucket removes a bucket and cascades to documents and chunks.
	DeleteBucket(ctx context.Context, db *gorm.DB, id, ownerID string) error

	// CreateDocument inserts a new document row in the processing state.
	CreateDocument(ctx context.Context, db *gorm.DB, bucketID, title, content, fileName, fileType string, fileSize int64) (*domain.Document, error)

	// GetDocument fetches a document by ID.
	GetDocument(ctx context.Context, db *gorm.DB, id string) (*domain.Document, error)

	// GetDocumentBucket loads the owning bucket of a document, scoped to the owner.
	GetDocumentBucket(ctx context.Context, db *gorm.DB, documentID, ownerID string) (*domain.Bucket, error)

	// ListDocumentsPage returns a page of documents within a bucket.
	ListDocumentsPage(ctx context.Context, db *gorm.DB, bucketID string, offset, limit int) ([]domain.Document, error)

	// CountDocuments returns the total number of documents for pagination.
	CountDocuments(ctx context.Context, db *gorm.DB, bucketID string) (int64, error)

	// UpdateDocument applies non-nil title/content changes.
	UpdateDocument(ctx context.Context, db *gorm.DB, id string, title, content *string) (*domain.Document, error)

	// DeleteDocument removes a document and cascades to its chunks.
	DeleteDocument(ctx context.Context, db *gorm.DB, id string) error
}

// CampaignChecker is the narrow read-only contract KnowledgeService needs to
// validate campaign references at bucket creation.
type CampaignChecker interface {
	Resolve(ctx context.Context, id string) (*domain.Campaign, error)
}

// FileMeta carries optional upload metadata for documents sourced from files.
type FileMeta struct {
	Name string
	Type string
	Size int64
}

// KnowledgeService provides bucket and document lifecycle operations. It
// enforces naming and campaign invariants and delegates chunk/embedding work
// to the Processor.
type KnowledgeService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the knowledge repository used by this service.
	Repo KnowledgeRepo
	// Campaigns validates campaign references for campaign buckets.
	Campaigns CampaignChecker
	// Processor runs chunk/embedding jobs for documents.
	Processor *Processor

	// NameMaxLen caps stored bucket names by rune length.
	NameMaxLen int
	// TitleMaxLen caps stored document titles by rune length.
	TitleMaxLen int
	// MaxContentRunes caps document content length. Zero disables the guard.
	MaxContentRunes int
}

// NewKnowledgeService constructs a KnowledgeService with sane defaults.
func NewKnowledgeService(db *gorm.DB, r KnowledgeRepo, campaigns CampaignChecker, p *Processor) *KnowledgeService {
	return &KnowledgeService{
		DB:          db,
		Repo:        r,
		Campaigns:   campaigns,
		Processor:   p,
		NameMaxLen:  120,
		TitleMaxLen: 255,
	}
}

// CreateBucket inserts a new bucket owned by ownerID.
//
// Invariants enforced here, before anything is persisted:
//   - name must be non-empty after normalization
//   - bucketType must be "general" or "campaign"
//   - a campaign bucket must carry a campaign id that resolves against the
//     external campaign data; a general bucket never carries one
func (s *KnowledgeService) CreateBucket(ctx context.Context, ownerID, name, bucketType, description string, campaignID *string) (*domain.Bucket, error) {
	tr := otel.Tracer("services/KnowledgeService")
	ctx, span := tr.Start(ctx, "CreateBucket",
		trace.WithAttributes(
			attribute.String("owner.id", ownerID),
			attribute.String("bucket.type", bucketType),
		),
	)
	defer span.End()

	name = normalizeText(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	name = clipRunes(name, s.NameMaxLen)
	description = strings.TrimSpace(description)

	switch bucketType {
	case domain.BucketTypeGeneral:
		campaignID = nil
	case domain.BucketTypeCampaign:
		if campaignID == nil || strings.TrimSpace(*campaignID) == "" {
			return nil, ErrMissingCampaign
		}
		id := strings.TrimSpace(*campaignID)
		if s.Campaigns != nil {
			if _, err := s.Campaigns.Resolve(ctx, id); err != nil {
				return nil, err
			}
		}
		campaignID = &id
	default:
		return nil, ErrInvalidBucketType
	}

	return s.Repo.CreateBucket(ctx, s.DB, ownerID, name, bucketType, description, campaignID)
}

// ListBuckets returns all buckets for an owner (non-paginated), most recent
// first. Prefer ListBucketsPage for large datasets.
func (s *KnowledgeService) ListBuckets(ctx context.Context, ownerID string) ([]domain.Bucket, error) {
	return s.Repo.ListBuckets(ctx, s.DB, ownerID)
}

// ListBucketsPage returns a page of buckets and the total count. Invalid
// page/pageSize values fall back to defaults.
func (s *KnowledgeService) ListBucketsPage(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Bucket, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountBuckets(ctx, s.DB, ownerID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Bucket{}, 0, nil
	}

	items, err := s.Repo.ListBucketsPage(ctx, s.DB, ownerID, offset, pageSize)
	return items, total, err
}

// GetBucket fetches a bucket with its live document count.
func (s *KnowledgeService) GetBucket(ctx context.Context, ownerID, id string) (*domain.Bucket, error) {
	b, err := s.Repo.GetBucket(ctx, s.DB, id, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBucketNotFound
		}
		return nil, err
	}
	return b, nil
}

// DeleteBucket removes a bucket and all its documents and chunks. Deleting a
// bucket that does not exist (or was already deleted) returns
// ErrBucketNotFound rather than succeeding silently.
func (s *KnowledgeService) DeleteBucket(ctx context.Context, ownerID, id string) error {
	tr := otel.Tracer("services/KnowledgeService")
	ctx, span := tr.Start(ctx, "DeleteBucket",
		trace.WithAttributes(attribute.String("bucket.id", id)),
	)
	defer span.End()

	err := s.Repo.DeleteBucket(ctx, s.DB, id, ownerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrBucketNotFound
	}
	return err
}

// UploadDocument creates a document inside a bucket and enqueues the
// chunk/embedding job. The document is returned in the processing state;
// callers observe the ready/failed transition on subsequent reads.
func (s *KnowledgeService) UploadDocument(ctx context.Context, ownerID, bucketID, title, content string, meta FileMeta) (*domain.Document, error) {
	tr := otel.Tracer("services/KnowledgeService")
	ctx, span := tr.Start(ctx, "UploadDocument",
		trace.WithAttributes(
			attribute.String("bucket.id", bucketID),
			attribute.String("owner.id", ownerID),
		),
	)
	defer span.End()

	if _, err := s.Repo.GetBucket(ctx, s.DB, bucketID, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBucketNotFound
		}
		return nil, err
	}

	title = normalizeText(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	title = clipRunes(title, s.TitleMaxLen)

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, ErrTooLong
	}

	doc, err := s.Repo.CreateDocument(ctx, s.DB, bucketID, title, content, meta.Name, meta.Type, meta.Size)
	if err != nil {
		return nil, err
	}

	if s.Processor != nil {
		// A freshly created id cannot be in flight; an enqueue failure here
		// leaves the document in processing and is surfaced to the caller.
		if err := s.Processor.Enqueue(ctx, doc.ID); err != nil && !errors.Is(err, ErrReprocessInFlight) {
			return nil, err
		}
	}
	return doc, nil
}

// GetDocument fetches a document, enforcing bucket ownership.
func (s *KnowledgeService) GetDocument(ctx context.Context, ownerID, id string) (*domain.Document, error) {
	if _, err := s.Repo.GetDocumentBucket(ctx, s.DB, id, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	doc, err := s.Repo.GetDocument(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// ListDocumentsPage returns a page of documents within a bucket the owner
// controls, plus the total count.
func (s *KnowledgeService) ListDocumentsPage(ctx context.Context, ownerID, bucketID string, page, pageSize int) ([]domain.Document, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := s.Repo.GetBucket(ctx, s.DB, bucketID, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrBucketNotFound
		}
		return nil, 0, err
	}

	total, err := s.Repo.CountDocuments(ctx, s.DB, bucketID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Document{}, 0, nil
	}

	items, err := s.Repo.ListDocumentsPage(ctx, s.DB, bucketID, offset, pageSize)
	return items, total, err
}

// UpdateDocument applies title and/or content changes. A content change
// supersedes the document's chunks: status returns to processing and a new
// chunk/embedding job is enqueued. Submitting content identical to the
// stored content is treated as a no-op for the lifecycle (no reprocess, no
// status change), so a save-without-edit round trip is cheap.
func (s *KnowledgeService) UpdateDocument(ctx context.Context, ownerID, id string, title, content *string) (*domain.Document, error) {
	tr := otel.Tracer("services/KnowledgeService")
	ctx, span := tr.Start(ctx, "UpdateDocument",
		trace.WithAttributes(attribute.String("document.id", id)),
	)
	defer span.End()

	if _, err := s.Repo.GetDocumentBucket(ctx, s.DB, id, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	current, err := s.Repo.GetDocument(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	if title != nil {
		t := normalizeText(*title)
		if t == "" {
			return nil, ErrEmptyTitle
		}
		t = clipRunes(t, s.TitleMaxLen)
		title = &t
	}

	contentChanged := false
	if content != nil {
		c := strings.TrimSpace(*content)
		if c == "" {
			return nil, ErrEmptyContent
		}
		if s.MaxContentRunes > 0 && utf8.RuneCountInString(c) > s.MaxContentRunes {
			return nil, ErrTooLong
		}
		if c == current.Content {
			content = nil // unchanged content does not trigger reprocessing
		} else {
			content = &c
			contentChanged = true
		}
	}

	doc, err := s.Repo.UpdateDocument(ctx, s.DB, id, title, content)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	if contentChanged && s.Processor != nil {
		if err := s.Processor.Enqueue(ctx, id); err != nil && !errors.Is(err, ErrReprocessInFlight) {
			return nil, err
		}
		// The stored row reflects the job's progress: still processing in
		// async mode, already ready when the processor ran inline.
		if cur, err := s.Repo.GetDocument(ctx, s.DB, id); err == nil {
			return cur, nil
		}
		doc.Status = domain.StatusProcessing
	}
	return doc, nil
}

// DeleteDocument removes a document and its chunks. A repeated delete
// returns ErrDocumentNotFound. Deleting while a processing job is in flight
// is safe: the job re-checks existence before writing results.
func (s *KnowledgeService) DeleteDocument(ctx context.Context, ownerID, id string) error {
	tr := otel.Tracer("services/KnowledgeService")
	ctx, span := tr.Start(ctx, "DeleteDocument",
		trace.WithAttributes(attribute.String("document.id", id)),
	)
	defer span.End()

	if _, err := s.Repo.GetDocumentBucket(ctx, s.DB, id, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	err := s.Repo.DeleteDocument(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrDocumentNotFound
	}
	return err
}

// Reprocess re-runs chunk/embedding generation from the document's current
// content. It is refused while a prior job for the same document is still
// outstanding; that advisory per-document lock is the only concurrency
// control around processing.
func (s *KnowledgeService) Reprocess(ctx context.Context, ownerID, id string) error {
	tr := otel.Tracer("services/KnowledgeService")
	ctx, span := tr.Start(ctx, "Reprocess",
		trace.WithAttributes(attribute.String("document.id", id)),
	)
	defer span.End()

	if _, err := s.Repo.GetDocumentBucket(ctx, s.DB, id, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	if s.Processor == nil {
		return nil
	}
	// The advisory lock decides in-flight, not the persisted status: a row
	// left at "processing" by an interrupted job stays reprocessable.
	if s.Processor.Busy(id) {
		return ErrReprocessInFlight
	}
	return s.Processor.Enqueue(ctx, id)
}

// ExportDocument produces the downloadable blob for a document: the content
// bytes, a content type, and a filename derived from the original upload
// file name or the sanitized title. JSON-sourced documents keep a .json
// extension; everything else exports as .txt.
func (s *KnowledgeService) ExportDocument(ctx context.Context, ownerID, id string) (filename, contentType string, data []byte, err error) {
	doc, err := s.GetDocument(ctx, ownerID, id)
	if err != nil {
		return "", "", nil, err
	}

	base := strings.TrimSpace(doc.FileName)
	if base != "" {
		if i := strings.LastIndex(base, "."); i > 0 {
			base = base[:i]
		}
	} else {
		base = doc.Title
	}
	base = sanitizeFilename(base)
	if base == "" {
		base = "document"
	}

	if isJSONSource(doc) {
		return base + ".json", "application/json", []byte(doc.Content), nil
	}
	return base + ".txt", "text/plain; charset=utf-8", []byte(doc.Content), nil
}

// SuggestTitle derives a human-friendly document title from an uploaded file
// name, e.g. "q4_campaign-brief.txt" becomes "Q4 Campaign Brief". Used to
// prefill the upload form next to extracted content.
func SuggestTitle(fileName string) string {
	base := strings.TrimSpace(fileName)
	if base == "" {
		return ""
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	base = fileSepRE.ReplaceAllString(base, " ")
	base = normalizeText(base)
	if base == "" {
		return ""
	}
	return cases.Title(language.English).String(base)
}

// --- helpers ---

func isJSONSource(doc *domain.Document) bool {
	if strings.Contains(strings.ToLower(doc.FileType), "json") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(doc.FileName), ".json")
}

// clipRunes truncates s to max runes; max <= 0 disables clipping.
func clipRunes(s string, max int) string {
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}

// normalizeText trims whitespace and collapses internal runs to one space.
func normalizeText(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// sanitizeFilename keeps letters, digits, dot, dash, underscore, and space;
// everything else becomes an underscore. Leading/trailing dots are stripped
// so the name cannot masquerade as a hidden file.
func sanitizeFilename(s string) string {
	s = filenameBadRE.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "._ ")
}

var (
	whitespaceRE  = regexp.MustCompile(`\s+`)
	fileSepRE     = regexp.MustCompile(`[-_.]+`)
	filenameBadRE = regexp.MustCompile(`[^\p{L}\p{N}. _-]+`)
)
