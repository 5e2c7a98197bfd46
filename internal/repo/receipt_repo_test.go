package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateUploadReceipt_AndLookup(t *testing.T) {
	db := newKnowledgeDB(t)
	ctx := context.Background()

	rec, err := CreateUploadReceipt(ctx, db, "u1", "b1", "key-1", "doc-1", 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateUploadReceipt: %v", err)
	}
	if rec.ID == "" || rec.DocumentID != "doc-1" || rec.Status != 201 {
		t.Fatalf("unexpected receipt: %+v", rec)
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("ExpiresAt not in the future: %+v", rec)
	}

	got, err := GetUploadReceipt(ctx, db, "u1", "b1", "key-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetUploadReceipt: %v", err)
	}
	if got.DocumentID != "doc-1" {
		t.Fatalf("lookup mismatch: %+v", got)
	}
}

func TestGetUploadReceipt_MissAndScoping(t *testing.T) {
	db := newKnowledgeDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := CreateUploadReceipt(ctx, db, "u1", "b1", "key-1", "doc-1", 201, time.Hour); err != nil {
		t.Fatalf("CreateUploadReceipt: %v", err)
	}

	if _, err := GetUploadReceipt(ctx, db, "u1", "b1", "other-key", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown key should be ErrNotFound, got %v", err)
	}
	if _, err := GetUploadReceipt(ctx, db, "u2", "b1", "key-1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other owner should be ErrNotFound, got %v", err)
	}
	if _, err := GetUploadReceipt(ctx, db, "u1", "b2", "key-1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other bucket should be ErrNotFound, got %v", err)
	}
	if _, err := GetUploadReceipt(ctx, db, "u1", "", "key-1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank bucket should be ErrNotFound, got %v", err)
	}
}

func TestGetUploadReceipt_ExpiredIsNotFound(t *testing.T) {
	db := newKnowledgeDB(t)
	ctx := context.Background()

	if _, err := CreateUploadReceipt(ctx, db, "u1", "b1", "key-1", "doc-1", 201, time.Minute); err != nil {
		t.Fatalf("CreateUploadReceipt: %v", err)
	}

	// Query "now" past the TTL.
	later := time.Now().UTC().Add(2 * time.Minute)
	if _, err := GetUploadReceipt(ctx, db, "u1", "b1", "key-1", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired receipt should be ErrNotFound, got %v", err)
	}
}

func TestCreateUploadReceipt_DuplicateKey(t *testing.T) {
	db := newKnowledgeDB(t)
	ctx := context.Background()

	if _, err := CreateUploadReceipt(ctx, db, "u1", "b1", "key-1", "doc-1", 201, time.Hour); err != nil {
		t.Fatalf("first CreateUploadReceipt: %v", err)
	}
	_, err := CreateUploadReceipt(ctx, db, "u1", "b1", "key-1", "doc-2", 201, time.Hour)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same key in a different bucket is a distinct tuple.
	if _, err := CreateUploadReceipt(ctx, db, "u1", "b2", "key-1", "doc-3", 201, time.Hour); err != nil {
		t.Fatalf("different bucket should insert: %v", err)
	}
}
