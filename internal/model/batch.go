// Package model defines the core types shared across the upload pipeline.
package model

import "time"

// BatchStatus represents the lifecycle state of an upload batch.
type BatchStatus string

const (
	BatchStatusMapping       BatchStatus = "mapping"
	BatchStatusProcessing    BatchStatus = "processing"
	BatchStatusCompleted     BatchStatus = "completed"
	BatchStatusFailedPartial BatchStatus = "failed_partial"
)

// RefreshPolicy controls whether cached enrichment results may be reused.
type RefreshPolicy string

const (
	// RefreshPreferCache reuses a cached enrichment entry when one exists,
	// paying for a fresh lookup only on a cache miss.
	RefreshPreferCache RefreshPolicy = "prefer_cache"
	// RefreshForce always pays for a fresh lookup and overwrites the cache.
	RefreshForce RefreshPolicy = "force_refresh"
)

// UploadBatch tracks one submitted spreadsheet through the pipeline.
type UploadBatch struct {
	ID            string        `json:"id"`
	Owner         string        `json:"owner"`
	SourcePath    string        `json:"source_path"`
	Filename      string        `json:"filename"`
	HasHeaderRow  bool          `json:"has_header_row"`
	Mapping       ColumnMapping `json:"mapping"`
	RefreshPolicy RefreshPolicy `json:"refresh_policy"`
	Tags          []string      `json:"tags,omitempty"`
	Status        BatchStatus   `json:"status"`
	TotalRows     int           `json:"total_rows"`
	Counts        BatchCounts   `json:"counts"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// BatchCounts aggregates per-record outcomes for progress reporting and
// cost accounting. CacheHits plus FreshHits is the number of enriched
// records; only FreshHits incurred external spend.
type BatchCounts struct {
	Processed  int `json:"processed"`
	CacheHits  int `json:"cache_hits"`
	FreshHits  int `json:"fresh_hits"`
	Litigators int `json:"litigators"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Phones     int `json:"phones"`
	Emails     int `json:"emails"`
	Addresses  int `json:"addresses"`
}

// Progress is the status surface exposed to callers polling a batch.
type Progress struct {
	BatchID        string      `json:"batch_id"`
	Status         BatchStatus `json:"status"`
	ProcessedCount int         `json:"processed_count"`
	TotalCount     int         `json:"total_count"`
	FailedCount    int         `json:"failed_count"`
	Counts         BatchCounts `json:"counts"`
}

// Terminal reports whether the batch has finished processing, successfully
// or otherwise.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailedPartial
}
