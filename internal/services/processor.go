// Package services – Processor
//
// This file implements the document lifecycle processor: the component that
// turns a document's authoritative content into derived chunk/embedding rows.
// Every ingestion or reprocess attempt follows the same monotonic path:
//
//	processing -> ready   (success)
//	processing -> failed  (failure)
//
// A per-document advisory lock (mutex-guarded set keyed by document id)
// refuses a second concurrent job for the same document. There is no
// cross-document ordering guarantee: concurrently enqueued documents
// complete in whatever order their jobs finish.
//
// Old chunks are superseded atomically: ReplaceChunks deletes the previous
// set and inserts the new one in a single transaction, so search never
// observes a mix of stale and fresh chunks. The same transaction re-checks
// document existence, which makes a job that completes after a cascade
// delete a clean no-op.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
	"github.com/tbourn/go-knowledge-backend/internal/search"
)

// Processor runs chunk/embedding jobs for documents. The zero value is not
// usable; construct with NewProcessor.
type Processor struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Embedder converts chunk text into vectors. It must be the same
	// embedder the search service uses for queries.
	Embedder search.Embedder
	// Chunker splits document content into retrieval-sized spans.
	Chunker search.Chunker

	// Async runs jobs on their own goroutine when true. Synchronous mode is
	// used by tests and keeps the ready/failed transition observable on
	// return.
	Async bool
	// JobTimeout bounds a single processing job. Zero defaults to 2 minutes.
	JobTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	// wg tracks async jobs so a shutdown can drain them.
	wg sync.WaitGroup
}

// NewProcessor constructs a Processor with the given dependencies.
func NewProcessor(db *gorm.DB, emb search.Embedder, ch search.Chunker, async bool) *Processor {
	return &Processor{
		DB:       db,
		Embedder: emb,
		Chunker:  ch,
		Async:    async,
		inflight: make(map[string]struct{}),
	}
}

// Busy reports whether a job for the document is currently outstanding.
func (p *Processor) Busy(documentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[documentID]
	return ok
}

// Enqueue starts a chunk/embedding job for the document. It returns
// ErrReprocessInFlight when a job for the same document is already
// outstanding; otherwise the document is marked processing and the job runs
// (inline, or on its own goroutine in async mode).
func (p *Processor) Enqueue(ctx context.Context, documentID string) error {
	p.mu.Lock()
	if _, ok := p.inflight[documentID]; ok {
		p.mu.Unlock()
		return ErrReprocessInFlight
	}
	p.inflight[documentID] = struct{}{}
	p.mu.Unlock()

	if err := repo.SetDocumentStatus(ctx, p.DB, documentID, domain.StatusProcessing); err != nil {
		p.release(documentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}

	if !p.Async {
		defer p.release(documentID)
		p.process(ctx, documentID)
		return nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(documentID)
		// The request context dies with the HTTP response; jobs get their
		// own deadline instead.
		timeout := p.JobTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		jobCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		p.process(jobCtx, documentID)
	}()
	return nil
}

// Drain blocks until all outstanding async jobs finish. Called on shutdown.
func (p *Processor) Drain() { p.wg.Wait() }

func (p *Processor) release(documentID string) {
	p.mu.Lock()
	delete(p.inflight, documentID)
	p.mu.Unlock()
}

// process executes one job: load, chunk, embed, replace, mark ready. Any
// failure marks the document failed; it is never silently reverted to ready.
// A document deleted mid-flight short-circuits without writing anything.
func (p *Processor) process(ctx context.Context, documentID string) {
	tr := otel.Tracer("services/Processor")
	ctx, span := tr.Start(ctx, "process",
		trace.WithAttributes(attribute.String("document.id", documentID)),
	)
	defer span.End()

	doc, err := repo.GetDocument(ctx, p.DB, documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return // deleted before the job started
		}
		p.fail(ctx, documentID, err)
		return
	}

	chunks := p.Chunker.Split(doc.Content)
	embeddings := make([][]float32, len(chunks))
	for i, text := range chunks {
		vec, err := p.Embedder.Embed(ctx, text)
		if err != nil {
			p.fail(ctx, documentID, err)
			return
		}
		embeddings[i] = vec
	}

	if err := repo.ReplaceChunks(ctx, p.DB, documentID, chunks, embeddings); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return // deleted while embedding; nothing written
		}
		p.fail(ctx, documentID, err)
		return
	}

	if err := repo.SetDocumentStatus(ctx, p.DB, documentID, domain.StatusReady); err != nil &&
		!errors.Is(err, gorm.ErrRecordNotFound) {
		log.Error().Err(err).Str("document_id", documentID).Msg("mark ready failed")
	}
}

// fail transitions the document to failed, tolerating a concurrent delete.
func (p *Processor) fail(ctx context.Context, documentID string, cause error) {
	log.Warn().Err(cause).Str("document_id", documentID).Msg("document processing failed")
	if err := repo.SetDocumentStatus(ctx, p.DB, documentID, domain.StatusFailed); err != nil &&
		!errors.Is(err, gorm.ErrRecordNotFound) {
		log.Error().Err(err).Str("document_id", documentID).Msg("mark failed failed")
	}
}
