// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Document
// model and its lifecycle status transitions.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
)

// CreateDocument inserts a new document row in the processing state.
// File metadata fields may be zero when the document was entered manually.
func CreateDocument(ctx context.Context, db *gorm.DB, bucketID, title, content, fileName, fileType string, fileSize int64) (*domain.Document, error) {
	d := &domain.Document{
		ID:        uuid.NewString(),
		BucketID:  bucketID,
		Title:     title,
		Content:   content,
		FileName:  fileName,
		FileType:  fileType,
		FileSize:  fileSize,
		Status:    domain.StatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// GetDocument fetches a document by ID, or ErrNotFound.
func GetDocument(ctx context.Context, db *gorm.DB, id string) (*domain.Document, error) {
	var d domain.Document
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDocumentsPage returns a paginated slice of documents in a bucket,
// ordered by creation time descending with ID as the tiebreak.
func ListDocumentsPage(ctx context.Context, db *gorm.DB, bucketID string, offset, limit int) ([]domain.Document, error) {
	var out []domain.Document
	err := db.WithContext(ctx).
		Where("bucket_id = ?", bucketID).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountDocuments uses a raw COUNT so a missing table surfaces as an error.
func CountDocuments(ctx context.Context, db *gorm.DB, bucketID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM documents WHERE bucket_id = ? AND deleted_at IS NULL", bucketID).
		Scan(&total).Error
	return total, err
}

// UpdateDocument applies non-nil title/content changes to a document. It
// returns the updated row, or ErrNotFound when the document does not exist.
// Status handling is the caller's responsibility (see services.Processor).
func UpdateDocument(ctx context.Context, db *gorm.DB, id string, title, content *string) (*domain.Document, error) {
	updates := map[string]any{}
	if title != nil {
		updates["title"] = *title
	}
	if content != nil {
		updates["content"] = *content
	}
	if len(updates) > 0 {
		res := db.WithContext(ctx).
			Model(&domain.Document{}).
			Where("id = ?", id).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, gorm.ErrRecordNotFound
		}
	}
	return GetDocument(ctx, db, id)
}

// SetDocumentStatus transitions a document's lifecycle status. It returns
// ErrNotFound when the document no longer exists, which lets a late
// processing job detect a concurrent delete and back off.
func SetDocumentStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Document{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteDocument soft-deletes a document and cascades to its chunks inside
// one transaction. A repeated delete returns ErrNotFound.
func DeleteDocument(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&domain.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("document_id = ?", id).Delete(&domain.Chunk{}).Error
	})
}

// GetDocumentBucket loads the bucket owning a document, scoped to ownerID.
// Used by handlers to enforce ownership before acting on a document.
func GetDocumentBucket(ctx context.Context, db *gorm.DB, documentID, ownerID string) (*domain.Bucket, error) {
	var d domain.Document
	if err := db.WithContext(ctx).Where("id = ?", documentID).First(&d).Error; err != nil {
		return nil, err
	}
	var b domain.Bucket
	if err := db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", d.BucketID, ownerID).
		First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}
