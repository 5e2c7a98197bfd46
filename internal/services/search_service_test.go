package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
	"github.com/tbourn/go-knowledge-backend/internal/search"
)

// seedReadyDoc creates a ready document whose single chunk embeds content.
func seedReadyDoc(t *testing.T, db *gorm.DB, emb search.Embedder, bucketID, title, content string) {
	t.Helper()
	ctx := context.Background()
	d, err := repo.CreateDocument(ctx, db, bucketID, title, content, "", "", 0)
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
	vec, err := emb.Embed(ctx, content)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if err := repo.ReplaceChunks(ctx, db, d.ID, []string{content}, [][]float32{vec}); err != nil {
		t.Fatalf("seed chunks: %v", err)
	}
	if err := repo.SetDocumentStatus(ctx, db, d.ID, domain.StatusReady); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
}

func TestSearch_Validation(t *testing.T) {
	s := NewSearchService(nil, search.NewHashedEmbedder(), 0)
	ctx := context.Background()

	if _, err := s.Search(ctx, "u1", "   ", "", "", 0); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := s.Search(ctx, "u1", "q", "archive", "", 0); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope for bad type, got %v", err)
	}
	if _, err := s.Search(ctx, "u1", "q", domain.BucketTypeGeneral, "c1", 0); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("campaign filter without campaign scope should fail, got %v", err)
	}
	if _, err := s.Search(ctx, "u1", "q", "", "c1", 0); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("campaign filter with empty scope should fail, got %v", err)
	}
	if _, err := s.Search(ctx, "u1", "q", "", "", -1); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestSearch_BackendUnavailable(t *testing.T) {
	db := newServiceDB(t)
	s := NewSearchService(db, failEmbedder{err: fmt.Errorf("%w: dial", search.ErrBackendUnavailable)}, 0)

	_, err := s.Search(context.Background(), "u1", "query", "", "", 0)
	if !errors.Is(err, ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestSearch_RanksByDescendingSimilarity(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	emb := search.NewHashedEmbedder(search.WithDim(128))

	b, err := repo.CreateBucket(ctx, db, "u1", "kb", domain.BucketTypeGeneral, "", nil)
	if err != nil {
		t.Fatalf("seed bucket: %v", err)
	}
	seedReadyDoc(t, db, emb, b.ID, "unrelated", "quarterly accounting ledger depreciation")
	seedReadyDoc(t, db, emb, b.ID, "on-topic", "email subject line testing and open rates")

	s := NewSearchService(db, emb, 0)
	results, err := s.Search(ctx, "u1", "email open rates", "", "", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].DocumentTitle != "on-topic" {
		t.Fatalf("ranking wrong: %+v", results)
	}
	if results[0].SimilarityScore < results[1].SimilarityScore {
		t.Fatalf("scores not descending: %v then %v",
			results[0].SimilarityScore, results[1].SimilarityScore)
	}
	if results[0].BucketID != b.ID || results[0].BucketName != "kb" {
		t.Fatalf("bucket metadata missing: %+v", results[0])
	}
}

func TestSearch_LimitCapsResults(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	emb := search.NewHashedEmbedder(search.WithDim(64))

	b, _ := repo.CreateBucket(ctx, db, "u1", "kb", domain.BucketTypeGeneral, "", nil)
	for i := 0; i < 5; i++ {
		seedReadyDoc(t, db, emb, b.ID, fmt.Sprintf("doc-%d", i), fmt.Sprintf("marketing note number %d", i))
	}

	s := NewSearchService(db, emb, 0)
	results, err := s.Search(ctx, "u1", "marketing note", "", "", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("limit not applied: got %d", len(results))
	}
}

func TestSearch_DefaultLimit(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	emb := search.NewHashedEmbedder(search.WithDim(64))

	b, _ := repo.CreateBucket(ctx, db, "u1", "kb", domain.BucketTypeGeneral, "", nil)
	for i := 0; i < 12; i++ {
		seedReadyDoc(t, db, emb, b.ID, fmt.Sprintf("doc-%d", i), fmt.Sprintf("note %d", i))
	}

	s := NewSearchService(db, emb, 0) // DefaultLimit 10
	results, err := s.Search(ctx, "u1", "note", "", "", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("default limit = %d results; want 10", len(results))
	}
}

func TestSearch_MinScoreFilters(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	emb := search.NewHashedEmbedder(search.WithDim(128))

	b, _ := repo.CreateBucket(ctx, db, "u1", "kb", domain.BucketTypeGeneral, "", nil)
	seedReadyDoc(t, db, emb, b.ID, "far", "totally unrelated accounting text")

	// Orthogonal vectors normalize to 0.5; a threshold above that drops them.
	s := NewSearchService(db, emb, 0.95)
	results, err := s.Search(ctx, "u1", "social engagement", "", "", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("low-score result not filtered: %+v", results)
	}
}

func TestSearch_CampaignScope(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	emb := search.NewHashedEmbedder(search.WithDim(64))

	campA := "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	campB := "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	gen, _ := repo.CreateBucket(ctx, db, "u1", "gen", domain.BucketTypeGeneral, "", nil)
	ba, _ := repo.CreateBucket(ctx, db, "u1", "camp-a", domain.BucketTypeCampaign, "", &campA)
	bb, _ := repo.CreateBucket(ctx, db, "u1", "camp-b", domain.BucketTypeCampaign, "", &campB)
	seedReadyDoc(t, db, emb, gen.ID, "g", "shared marketing phrase")
	seedReadyDoc(t, db, emb, ba.ID, "a", "shared marketing phrase")
	seedReadyDoc(t, db, emb, bb.ID, "b", "shared marketing phrase")

	s := NewSearchService(db, emb, 0)

	all, err := s.Search(ctx, "u1", "marketing phrase", "", "", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("unscoped = %d, %v; want 3", len(all), err)
	}

	campaign, err := s.Search(ctx, "u1", "marketing phrase", domain.BucketTypeCampaign, "", 0)
	if err != nil || len(campaign) != 2 {
		t.Fatalf("campaign scope = %d, %v; want 2", len(campaign), err)
	}

	onlyA, err := s.Search(ctx, "u1", "marketing phrase", domain.BucketTypeCampaign, campA, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(onlyA) != 1 || onlyA[0].BucketName != "camp-a" {
		t.Fatalf("campaign-id scope wrong: %+v", onlyA)
	}
}

func TestSearch_OwnerIsolation(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	emb := search.NewHashedEmbedder(search.WithDim(64))

	theirs, _ := repo.CreateBucket(ctx, db, "u2", "other", domain.BucketTypeGeneral, "", nil)
	seedReadyDoc(t, db, emb, theirs.ID, "secret", "confidential launch plan")

	s := NewSearchService(db, emb, 0)
	results, err := s.Search(ctx, "u1", "confidential launch plan", "", "", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("another owner's content leaked: %+v", results)
	}
}

func TestSearch_EmptyIndexReturnsEmptySlice(t *testing.T) {
	db := newServiceDB(t)
	s := NewSearchService(db, search.NewHashedEmbedder(), 0)

	results, err := s.Search(context.Background(), "u1", "anything", "", "", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", results)
	}
}
