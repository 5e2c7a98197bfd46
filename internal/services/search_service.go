package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
	"github.com/tbourn/go-knowledge-backend/internal/search"
)

// SearchResult is one semantic search hit, carrying enough document and
// bucket metadata for a result list without further lookups.
type SearchResult struct {
	ChunkID         string  `json:"chunk_id"`
	ChunkContent    string  `json:"chunk_content"`
	DocumentID      string  `json:"document_id"`
	DocumentTitle   string  `json:"document_title"`
	BucketID        string  `json:"bucket_id"`
	BucketName      string  `json:"bucket_name"`
	SimilarityScore float64 `json:"similarity_score"`
}

// SearchService ranks chunks of ready documents against a query embedding.
// Only chunks belonging to the requesting owner are ever considered; the
// owner scope is applied at the candidate query, not post-filtered.
type SearchService struct {
	DB       *gorm.DB
	Embedder search.Embedder

	// MinScore drops results scoring below it when > 0. Scores are
	// normalized cosine similarity in [0, 1].
	MinScore float64

	// DefaultLimit caps the result count when the caller passes 0.
	DefaultLimit int
}

// NewSearchService constructs a SearchService with a default limit of 10.
func NewSearchService(db *gorm.DB, emb search.Embedder, minScore float64) *SearchService {
	return &SearchService{DB: db, Embedder: emb, MinScore: minScore, DefaultLimit: 10}
}

// Search embeds the query and returns up to limit chunks ordered by
// descending similarity. bucketType may be empty (search everything),
// "general", or "campaign"; campaignID narrows a campaign-scoped search to
// one campaign and is invalid with any other scope.
//
// An unreachable embedding backend surfaces as ErrSearchUnavailable, which
// is distinct from an empty result set.
func (s *SearchService) Search(ctx context.Context, ownerID, query, bucketType, campaignID string, limit int) ([]SearchResult, error) {
	tr := otel.Tracer("services/SearchService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("owner.id", ownerID),
			attribute.String("scope.bucket_type", bucketType),
		),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	switch bucketType {
	case "", domain.BucketTypeGeneral, domain.BucketTypeCampaign:
	default:
		return nil, ErrInvalidScope
	}
	if campaignID != "" && bucketType != domain.BucketTypeCampaign {
		return nil, ErrInvalidScope
	}
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	if limit == 0 {
		limit = s.DefaultLimit
		if limit <= 0 {
			limit = 10
		}
	}

	qvec, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, search.ErrBackendUnavailable) {
			return nil, ErrSearchUnavailable
		}
		return nil, err
	}

	candidates, err := repo.SearchCandidates(ctx, s.DB, ownerID, bucketType, campaignID)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		score := search.NormalizeScore(search.Cosine(qvec, c.Embedding))
		if s.MinScore > 0 && score < s.MinScore {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:         c.ChunkID,
			ChunkContent:    c.Content,
			DocumentID:      c.DocumentID,
			DocumentTitle:   c.DocumentTitle,
			BucketID:        c.BucketID,
			BucketName:      c.BucketName,
			SimilarityScore: score,
		})
	}

	// Stable sort keeps candidate order (creation, then position) as the
	// tiebreak for equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})

	if len(results) > limit {
		results = results[:limit]
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return results, nil
}
