// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Bucket model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a bucket is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Document counts are never stored on the bucket row; they are recomputed on
// read so the visible count can never exceed the number of live documents.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateBucket inserts a new Bucket row owned by ownerID. The bucket ID is a
// randomly generated UUID and CreatedAt is set to UTC. campaignID may be nil
// for general buckets; the service layer enforces the type/campaign invariant.
func CreateBucket(ctx context.Context, db *gorm.DB, ownerID, name, bucketType, description string, campaignID *string) (*domain.Bucket, error) {
	b := &domain.Bucket{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		BucketType:  bucketType,
		Description: description,
		CampaignID:  campaignID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

// ListBuckets returns all buckets belonging to ownerID, ordered by creation
// time descending with the ID as a deterministic tiebreak. Each row carries
// its live document count.
func ListBuckets(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Bucket, error) {
	var out []domain.Bucket
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at desc, id desc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if err := fillDocumentCounts(ctx, db, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountBuckets returns the total number of buckets owned by ownerID.
func CountBuckets(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Bucket{}).
		Where("owner_id = ?", ownerID).
		Count(&total).Error
	return total, err
}

// ListBucketsPage returns a paginated slice of buckets for ownerID, ordered by
// creation time descending. Use CountBuckets to obtain the total for
// pagination metadata.
func ListBucketsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Bucket, error) {
	var out []domain.Bucket
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if err := fillDocumentCounts(ctx, db, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBucket fetches a single bucket by its ID and owner. If the record does
// not exist, it returns ErrNotFound. The returned bucket carries its live
// document count.
func GetBucket(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Bucket, error) {
	var b domain.Bucket
	err := db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).
		Model(&domain.Document{}).
		Where("bucket_id = ?", b.ID).
		Count(&b.DocumentCount).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBucket soft-deletes a bucket and cascades to its documents and their
// chunks inside one transaction. If no bucket row is affected (missing or not
// owned by ownerID), it returns ErrNotFound, which makes a repeated delete a
// clean not-found rather than a silent success.
func DeleteBucket(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&domain.Bucket{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var docIDs []string
		if err := tx.Model(&domain.Document{}).
			Where("bucket_id = ?", id).
			Pluck("id", &docIDs).Error; err != nil {
			return err
		}
		if len(docIDs) == 0 {
			return nil
		}
		if err := tx.Where("document_id IN ?", docIDs).Delete(&domain.Chunk{}).Error; err != nil {
			return err
		}
		return tx.Where("bucket_id = ?", id).Delete(&domain.Document{}).Error
	})
}

// fillDocumentCounts annotates each bucket with the number of live documents
// it contains using one grouped COUNT query.
func fillDocumentCounts(ctx context.Context, db *gorm.DB, buckets []domain.Bucket) error {
	if len(buckets) == 0 {
		return nil
	}
	ids := make([]string, 0, len(buckets))
	for _, b := range buckets {
		ids = append(ids, b.ID)
	}

	var rows []struct {
		BucketID string
		N        int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Document{}).
		Select("bucket_id, COUNT(*) AS n").
		Where("bucket_id IN ?", ids).
		Group("bucket_id").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.BucketID] = r.N
	}
	for i := range buckets {
		buckets[i].DocumentCount = counts[buckets[i].ID]
	}
	return nil
}
