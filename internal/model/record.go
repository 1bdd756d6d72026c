package model

import "time"

// Address holds the parts of a postal address after normalization.
type Address struct {
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
}

// Empty reports whether no part of the address is set.
func (a Address) Empty() bool {
	return a.Street == "" && a.City == "" && a.State == "" && a.Zip == ""
}

// CanonicalRecord is one spreadsheet row after mapping and normalization.
type CanonicalRecord struct {
	BatchID   string   `json:"batch_id"`
	RowNumber int      `json:"row_number"` // 1-based position in the source file
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	FullName  string   `json:"full_name,omitempty"`
	Property  Address  `json:"property"`
	Mailing   Address  `json:"mailing"`
	Phones    []string `json:"phones,omitempty"` // up to MaxPhoneColumns, cleaned to 10 digits
	Email     string   `json:"email,omitempty"`
	Custom    []string `json:"custom,omitempty"` // up to 3 pass-through values
	// Duplicate marks a row whose property-address fingerprint repeats
	// earlier in the same batch.
	Duplicate bool `json:"duplicate,omitempty"`
}

// ResultStatus is the terminal outcome for one record in one batch run.
type ResultStatus string

const (
	ResultEnrichedFromCache ResultStatus = "enriched_from_cache"
	ResultEnrichedFresh     ResultStatus = "enriched_fresh"
	ResultMatchedLitigator  ResultStatus = "matched_litigator"
	ResultSkippedInvalid    ResultStatus = "skipped_invalid"
	ResultFailedExternal    ResultStatus = "failed_external"
)

// Stage names one phase of the per-record pipeline.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageEnrich    Stage = "enrich"
	StageMatch     Stage = "match"
	StageTag       Stage = "tag"
)

// RecordResult is produced exactly once per record per batch run.
type RecordResult struct {
	BatchID     string       `json:"batch_id"`
	RowNumber   int          `json:"row_number"`
	Status      ResultStatus `json:"status"`
	Stage       Stage        `json:"stage,omitempty"`  // stage that produced the result
	Reason      string       `json:"reason,omitempty"` // failure or skip detail
	Fingerprint string       `json:"fingerprint,omitempty"`
	LitigatorID string       `json:"litigator_id,omitempty"`
	Enrichment  *ContactData `json:"enrichment,omitempty"`
	Tagged      bool         `json:"tagged"`
	// Duplicate marks a row whose fingerprint repeated earlier in the
	// batch; its enrichment reuses the first row's fetch.
	Duplicate   bool      `json:"duplicate,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Enriched reports whether the record finished with contact data attached
// and is therefore eligible for tagging.
func (r RecordResult) Enriched() bool {
	return r.Status == ResultEnrichedFromCache || r.Status == ResultEnrichedFresh
}
