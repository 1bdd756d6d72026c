// Package store persists batches, per-record results, the enrichment
// cache, and the litigator list.
package store

import (
	"context"

	"github.com/propflow/skiptrace-cli/internal/model"
)

// BatchFilter specifies criteria for listing batches.
type BatchFilter struct {
	Status model.BatchStatus `json:"status,omitempty"`
	Owner  string            `json:"owner,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// Store defines the persistence interface for the upload pipeline.
type Store interface {
	// Batches
	CreateBatch(ctx context.Context, batch *model.UploadBatch) error
	GetBatch(ctx context.Context, batchID string) (*model.UploadBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.UploadBatch, error)
	// ConfirmMapping persists the confirmed mapping, refresh policy, and
	// tags, and moves the batch from mapping to processing.
	ConfirmMapping(ctx context.Context, batchID string, mapping model.ColumnMapping, policy model.RefreshPolicy, tags []string, totalRows int) error
	UpdateBatchStatus(ctx context.Context, batchID string, status model.BatchStatus, errMsg string) error
	UpdateBatchCounts(ctx context.Context, batchID string, counts model.BatchCounts) error

	// Record results. SaveResult is an upsert on (batch_id, row_number):
	// re-running a stage for an already-terminal record is a no-op at the
	// caller, but a repeated save must not duplicate.
	SaveResult(ctx context.Context, result model.RecordResult) error
	GetResults(ctx context.Context, batchID string) ([]model.RecordResult, error)
	// CompletedRows returns the row numbers that already hold a terminal
	// result, for resuming a partially processed batch.
	CompletedRows(ctx context.Context, batchID string) (map[int]model.ResultStatus, error)

	// Enrichment cache, keyed by address fingerprint. Last write wins.
	GetEnrichment(ctx context.Context, fingerprint string) (*model.EnrichmentEntry, error)
	PutEnrichment(ctx context.Context, entry model.EnrichmentEntry) error

	// Litigator list. Replace swaps the whole list; Upsert merges new
	// entries over existing ones by fingerprint.
	ReplaceLitigators(ctx context.Context, records []model.LitigatorRecord) (int, error)
	UpsertLitigators(ctx context.Context, records []model.LitigatorRecord) (int, error)
	GetLitigator(ctx context.Context, fingerprint string) (*model.LitigatorRecord, error)
	CountLitigators(ctx context.Context) (int, error)

	// Record tags, applied once per (batch, row, tag).
	TagRecord(ctx context.Context, batchID string, rowNumber int, tags []string) error
	RecordTags(ctx context.Context, batchID string, rowNumber int) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
