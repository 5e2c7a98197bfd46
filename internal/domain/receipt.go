// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// UploadReceipt records the result of a previously processed document upload,
// keyed by (owner_id, bucket_id, key). It enables safe retries of the upload
// endpoint: a retried request carrying the same Idempotency-Key is answered
// with the originally created document instead of creating a duplicate.
type UploadReceipt struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	OwnerID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_bucket_key,priority:1"`
	BucketID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_bucket_key,priority:2"`
	Key        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_bucket_key,priority:3"`
	DocumentID string    `gorm:"type:TEXT NOT NULL"`
	Status     int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt  time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (UploadReceipt) TableName() string { return "upload_receipts" }
