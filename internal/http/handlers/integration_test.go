package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
	"github.com/tbourn/go-knowledge-backend/internal/search"
	"github.com/tbourn/go-knowledge-backend/internal/services"
)

// repoShim adapts the repository free functions to services.KnowledgeRepo.
type repoShim struct{}

func (repoShim) CreateBucket(ctx context.Context, db *gorm.DB, ownerID, name, bucketType, description string, campaignID *string) (*domain.Bucket, error) {
	return repo.CreateBucket(ctx, db, ownerID, name, bucketType, description, campaignID)
}
func (repoShim) ListBuckets(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Bucket, error) {
	return repo.ListBuckets(ctx, db, ownerID)
}
func (repoShim) CountBuckets(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	return repo.CountBuckets(ctx, db, ownerID)
}
func (repoShim) ListBucketsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Bucket, error) {
	return repo.ListBucketsPage(ctx, db, ownerID, offset, limit)
}
func (repoShim) GetBucket(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Bucket, error) {
	return repo.GetBucket(ctx, db, id, ownerID)
}
func (repoShim) DeleteBucket(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	return repo.DeleteBucket(ctx, db, id, ownerID)
}
func (repoShim) CreateDocument(ctx context.Context, db *gorm.DB, bucketID, title, content, fileName, fileType string, fileSize int64) (*domain.Document, error) {
	return repo.CreateDocument(ctx, db, bucketID, title, content, fileName, fileType, fileSize)
}
func (repoShim) GetDocument(ctx context.Context, db *gorm.DB, id string) (*domain.Document, error) {
	return repo.GetDocument(ctx, db, id)
}
func (repoShim) GetDocumentBucket(ctx context.Context, db *gorm.DB, documentID, ownerID string) (*domain.Bucket, error) {
	return repo.GetDocumentBucket(ctx, db, documentID, ownerID)
}
func (repoShim) ListDocumentsPage(ctx context.Context, db *gorm.DB, bucketID string, offset, limit int) ([]domain.Document, error) {
	return repo.ListDocumentsPage(ctx, db, bucketID, offset, limit)
}
func (repoShim) CountDocuments(ctx context.Context, db *gorm.DB, bucketID string) (int64, error) {
	return repo.CountDocuments(ctx, db, bucketID)
}
func (repoShim) UpdateDocument(ctx context.Context, db *gorm.DB, id string, title, content *string) (*domain.Document, error) {
	return repo.UpdateDocument(ctx, db, id, title, content)
}
func (repoShim) DeleteDocument(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteDocument(ctx, db, id)
}

// newIntegrationHandlers wires real services over a throwaway sqlite file.
func newIntegrationHandlers(t *testing.T) *Handlers {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers-%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	emb := search.NewHashedEmbedder()
	proc := services.NewProcessor(db, emb, search.Chunker{}, false)
	campSvc := services.NewCampaignService(db)
	knowSvc := services.NewKnowledgeService(db, repoShim{}, campSvc, proc)
	searchSvc := services.NewSearchService(db, emb, 0)
	return New(knowSvc, searchSvc, campSvc)
}

func createBucketViaAPI(t *testing.T, r http.Handler, owner, name string) domain.Bucket {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/buckets",
		fmt.Sprintf(`{"name":%q,"bucket_type":"general"}`, name),
		map[string]string{"X-User-ID": owner})
	if w.Code != http.StatusCreated {
		t.Fatalf("create bucket: %d: %s", w.Code, w.Body.String())
	}
	var b domain.Bucket
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode bucket: %v", err)
	}
	return b
}

func TestListBuckets_ETagRoundTrip(t *testing.T) {
	h := newIntegrationHandlers(t)
	r := newTestRouter(h)

	createBucketViaAPI(t, r, "u1", "faqs")

	w := doJSON(t, r, http.MethodGet, "/buckets", "", map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("no ETag on list response")
	}

	w = doJSON(t, r, http.MethodGet, "/buckets", "", map[string]string{
		"X-User-ID": "u1", "If-None-Match": etag,
	})
	if w.Code != http.StatusNotModified {
		t.Fatalf("status = %d; want 304", w.Code)
	}

	// A new bucket changes the collection, so the stale tag must miss.
	createBucketViaAPI(t, r, "u1", "briefs")
	w = doJSON(t, r, http.MethodGet, "/buckets", "", map[string]string{
		"X-User-ID": "u1", "If-None-Match": etag,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 after change", w.Code)
	}
	if w.Header().Get("ETag") == etag {
		t.Fatalf("ETag did not change after a new bucket")
	}
}

func TestListDocuments_ETagBumpsOnStatusFlip(t *testing.T) {
	h := newIntegrationHandlers(t)
	r := newTestRouter(h)

	b := createBucketViaAPI(t, r, "u1", "faqs")

	w := doJSON(t, r, http.MethodGet, "/buckets/"+b.ID+"/documents", "", map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	empty := w.Header().Get("ETag")

	w = doJSON(t, r, http.MethodPost, "/buckets/"+b.ID+"/documents",
		`{"title":"t","content":"alpha beta gamma"}`, map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/buckets/"+b.ID+"/documents", "", map[string]string{
		"X-User-ID": "u1", "If-None-Match": empty,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 after upload", w.Code)
	}
	var resp ListDocumentsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Documents) != 1 || resp.Documents[0].Status != domain.StatusReady {
		t.Fatalf("documents = %+v", resp.Documents)
	}
}

func TestUploadDocument_IdempotencyReplay(t *testing.T) {
	h := newIntegrationHandlers(t)
	r := newTestRouter(h)

	b := createBucketViaAPI(t, r, "u1", "faqs")
	hdr := map[string]string{"X-User-ID": "u1", "Idempotency-Key": "retry-abc"}

	w := doJSON(t, r, http.MethodPost, "/buckets/"+b.ID+"/documents",
		`{"title":"t","content":"alpha beta"}`, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("first upload: %d: %s", w.Code, w.Body.String())
	}
	var first domain.Document
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, r, http.MethodPost, "/buckets/"+b.ID+"/documents",
		`{"title":"t","content":"alpha beta"}`, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay upload: %d", w.Code)
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay not flagged: %v", w.Header())
	}
	var second domain.Document
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay created a new document: %s vs %s", second.ID, first.ID)
	}

	// A different key creates a fresh document.
	w = doJSON(t, r, http.MethodPost, "/buckets/"+b.ID+"/documents",
		`{"title":"t","content":"alpha beta"}`,
		map[string]string{"X-User-ID": "u1", "Idempotency-Key": "retry-def"})
	if w.Code != http.StatusCreated {
		t.Fatalf("fresh upload: %d", w.Code)
	}
	var third domain.Document
	if err := json.Unmarshal(w.Body.Bytes(), &third); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if third.ID == first.ID {
		t.Fatalf("distinct key replayed the original document")
	}
}

func TestUploadDocument_ReceiptTTLBoundsReplay(t *testing.T) {
	h := newIntegrationHandlers(t)
	h.ReceiptTTL = time.Millisecond
	r := newTestRouter(h)

	b := createBucketViaAPI(t, r, "u1", "faqs")
	hdr := map[string]string{"X-User-ID": "u1", "Idempotency-Key": "short-lived"}

	w := doJSON(t, r, http.MethodPost, "/buckets/"+b.ID+"/documents",
		`{"title":"t","content":"alpha"}`, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("first upload: %d: %s", w.Code, w.Body.String())
	}
	var first domain.Document
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	// The receipt has expired, so the retry is a fresh upload.
	w = doJSON(t, r, http.MethodPost, "/buckets/"+b.ID+"/documents",
		`{"title":"t","content":"alpha"}`, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("retry upload: %d", w.Code)
	}
	if w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("expired receipt was replayed")
	}
	var second domain.Document
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expired receipt returned the original document")
	}
}

func TestSearch_EndToEndOverHTTP(t *testing.T) {
	h := newIntegrationHandlers(t)
	r := newTestRouter(h)

	b := createBucketViaAPI(t, r, "u1", "briefs")
	w := doJSON(t, r, http.MethodPost, "/buckets/"+b.ID+"/documents",
		`{"title":"Budget","content":"quarterly marketing budget allocation for paid social"}`,
		map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/search?q=marketing+budget", "", map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d: %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if resp.Results[0].BucketName != "briefs" || resp.Results[0].DocumentTitle != "Budget" {
		t.Fatalf("top result = %+v", resp.Results[0])
	}
}
