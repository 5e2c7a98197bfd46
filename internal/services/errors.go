// Package services defines the business logic for knowledge buckets,
// documents, processing, and semantic search. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer. They group into the classes the API documents: validation errors
// (recoverable by correcting input), not-found errors, format errors,
// conflicts, and backend availability errors.
package services

import "errors"

// Validation errors.
var (
	// ErrEmptyName is returned when a bucket is created with a blank name.
	ErrEmptyName = errors.New("bucket name is empty")

	// ErrInvalidBucketType is returned when the bucket type is neither
	// "general" nor "campaign".
	ErrInvalidBucketType = errors.New("bucket type must be general or campaign")

	// ErrMissingCampaign is returned when a campaign bucket is created
	// without a campaign id.
	ErrMissingCampaign = errors.New("campaign bucket requires a campaign id")

	// ErrEmptyTitle is returned when a document is created or updated with a
	// blank title.
	ErrEmptyTitle = errors.New("document title is empty")

	// ErrEmptyContent is returned when a document is created or updated with
	// blank content.
	ErrEmptyContent = errors.New("document content is empty")

	// ErrTooLong is returned when document content exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("document content too long")

	// ErrEmptyQuery is returned when a search is requested with a blank query.
	ErrEmptyQuery = errors.New("search query is empty")

	// ErrInvalidScope is returned when a campaign filter is supplied without
	// the campaign bucket type.
	ErrInvalidScope = errors.New("campaign filter requires bucket type campaign")

	// ErrInvalidLimit is returned when a search limit is not a positive integer.
	ErrInvalidLimit = errors.New("search limit must be positive")
)

// Not-found errors.
var (
	// ErrBucketNotFound indicates that the requested bucket does not exist or
	// is not accessible to the current user.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrDocumentNotFound indicates that the requested document does not
	// exist or is not accessible to the current user.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrCampaignNotFound indicates that the referenced campaign does not
	// exist in the external campaign data.
	ErrCampaignNotFound = errors.New("campaign not found")
)

// Format, conflict, and availability errors.
var (
	// ErrUnsupportedFormat is returned when file content cannot be extracted
	// as text. The caller can recover by entering content manually.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrReprocessInFlight is returned when a reprocess is requested while a
	// chunk/embedding job for the same document is still outstanding.
	ErrReprocessInFlight = errors.New("document is already being processed")

	// ErrSearchUnavailable indicates that the embedding/search backend could
	// not be reached. It is distinct from an empty result set and safe to
	// retry.
	ErrSearchUnavailable = errors.New("search backend unavailable")
)
