// Package domain defines the persistence models for knowledge buckets,
// documents, and their derived chunks. These types are mapped with GORM and
// form the core data layer of the knowledge-base service.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Bucket types. A bucket is either general-purpose or tied to exactly one
// marketing campaign; the type is fixed at creation time.
const (
	BucketTypeGeneral  = "general"
	BucketTypeCampaign = "campaign"
)

// Document processing states. Every ingestion or reprocess attempt starts in
// StatusProcessing and ends in StatusReady or StatusFailed.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Bucket represents a named container scoping a set of knowledge documents.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - OwnerID: identifier of the account that owns the bucket; indexed.
//   - Name: human-readable bucket name (non-empty, enforced by the service).
//   - BucketType: "general" or "campaign" (enforced by DB constraint).
//   - Description: optional free-text description.
//   - CampaignID: set only for campaign buckets; references external campaign data.
//   - DocumentCount: derived on read via a COUNT subquery; never persisted.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Bucket struct {
	ID            string         `json:"id"          gorm:"type:char(36);primaryKey"`
	OwnerID       string         `json:"owner_id"    gorm:"type:varchar(64);not null;index:idx_owner_buckets"`
	Name          string         `json:"name"        gorm:"type:varchar(255);not null"`
	BucketType    string         `json:"bucket_type" gorm:"type:varchar(16);not null;check:bucket_type IN ('general','campaign')"`
	Description   string         `json:"description,omitempty" gorm:"type:text"`
	CampaignID    *string        `json:"campaign_id,omitempty" gorm:"type:char(36);index"`
	DocumentCount int64          `json:"document_count" gorm:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for Bucket.
func (Bucket) TableName() string { return "buckets" }

// IsCampaign reports whether the bucket is scoped to a campaign.
func (b Bucket) IsCampaign() bool { return b.BucketType == BucketTypeCampaign }

// Document represents a titled piece of text content owned by a bucket. The
// Content column is authoritative; chunk rows are derived from it and must be
// regenerated whenever it changes.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - BucketID: foreign key to the owning bucket (indexed, cascade delete).
//   - Title: non-empty document title.
//   - Content: full text content (possibly large), mutable via update.
//   - FileName / FileType / FileSize: present when sourced from a file upload.
//   - Status: chunk/embedding lifecycle state (enforced by DB constraint).
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
//   - Bucket: FK association, ensures cascade delete/update.
type Document struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	BucketID  string         `json:"bucket_id"  gorm:"type:char(36);not null;index:idx_bucket_docs,priority:1"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null"`
	Content   string         `json:"content"    gorm:"type:text;not null"`
	FileName  string         `json:"file_name,omitempty" gorm:"type:varchar(255)"`
	FileType  string         `json:"file_type,omitempty" gorm:"type:varchar(128)"`
	FileSize  int64          `json:"file_size,omitempty"`
	Status    string         `json:"status"     gorm:"type:varchar(16);not null;default:'processing';check:status IN ('processing','ready','failed')"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_bucket_docs,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	// Bucket is the owning container. Documents are cascade-deleted if their
	// bucket is removed.
	Bucket Bucket `json:"-" gorm:"foreignKey:BucketID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }

// Chunk is a retrieval-sized span of a document's text paired with its vector
// embedding. Chunks are derived data: they are rebuilt on every successful
// processing pass and never exposed for direct mutation.
type Chunk struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	DocumentID string         `json:"document_id" gorm:"type:char(36);not null;index:idx_doc_chunks,priority:1"`
	Position   int            `json:"position"    gorm:"not null;index:idx_doc_chunks,priority:2"`
	Content    string         `json:"content"     gorm:"type:text;not null"`
	Embedding  []float32      `json:"-"           gorm:"type:text;serializer:json"`
	CreatedAt  time.Time      `json:"created_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`

	// Document is the parent. Chunks are cascade-deleted if their document
	// is removed.
	Document Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chunk.
func (Chunk) TableName() string { return "chunks" }

// Campaign is a read-only projection of a campaign record owned by the
// external campaign collaborator. This service only reads id and name to
// resolve bucket-campaign links and to scope searches; it never writes here.
type Campaign struct {
	ID        string    `json:"id"   gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Campaign.
func (Campaign) TableName() string { return "campaigns" }
