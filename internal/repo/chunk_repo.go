// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the derived
// Chunk model: bulk replacement after a processing pass and candidate
// selection for semantic search.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
)

// ReplaceChunks supersedes all chunks of a document with a fresh set inside
// one transaction: old rows are deleted before the new rows become visible,
// so search never sees stale and fresh chunks for the same document at once.
//
// The document row is re-checked inside the transaction; if it was deleted
// while the processing job was in flight, ReplaceChunks returns ErrNotFound
// and writes nothing.
func ReplaceChunks(ctx context.Context, db *gorm.DB, documentID string, contents []string, embeddings [][]float32) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&domain.Document{}).
			Where("id = ?", documentID).
			Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Where("document_id = ?", documentID).Delete(&domain.Chunk{}).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for i, content := range contents {
			c := &domain.Chunk{
				ID:         uuid.NewString(),
				DocumentID: documentID,
				Position:   i,
				Content:    content,
				Embedding:  embeddings[i],
				CreatedAt:  now,
			}
			if err := tx.Create(c).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CountChunks returns the number of live chunks for a document.
func CountChunks(ctx context.Context, db *gorm.DB, documentID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Chunk{}).
		Where("document_id = ?", documentID).
		Count(&total).Error
	return total, err
}

// ChunkCandidate is a chunk joined with its parent document and bucket
// metadata, as needed to build search results without further queries.
type ChunkCandidate struct {
	ChunkID       string
	Position      int
	Content       string
	Embedding     []float32 `gorm:"type:text;serializer:json"`
	DocumentID    string
	DocumentTitle string
	BucketID      string
	BucketName    string
}

// SearchCandidates returns all chunks of ready documents owned by ownerID,
// optionally restricted to a bucket type and (for campaign scope) a single
// campaign. Rows are ordered deterministically by chunk creation and
// position, which fixes the insertion-order tiebreak for equal scores.
func SearchCandidates(ctx context.Context, db *gorm.DB, ownerID, bucketType, campaignID string) ([]ChunkCandidate, error) {
	q := db.WithContext(ctx).
		Model(&domain.Chunk{}).
		Select(`chunks.id AS chunk_id, chunks.position, chunks.content, chunks.embedding,
			documents.id AS document_id, documents.title AS document_title,
			buckets.id AS bucket_id, buckets.name AS bucket_name`).
		Joins("JOIN documents ON documents.id = chunks.document_id AND documents.deleted_at IS NULL").
		Joins("JOIN buckets ON buckets.id = documents.bucket_id AND buckets.deleted_at IS NULL").
		Where("buckets.owner_id = ?", ownerID).
		Where("documents.status = ?", domain.StatusReady)

	if bucketType != "" {
		q = q.Where("buckets.bucket_type = ?", bucketType)
	}
	if campaignID != "" {
		q = q.Where("buckets.campaign_id = ?", campaignID)
	}

	var out []ChunkCandidate
	err := q.Order("chunks.created_at ASC, chunks.document_id ASC, chunks.position ASC").
		Scan(&out).Error
	return out, err
}
