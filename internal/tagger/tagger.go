// Package tagger applies the batch's requested tags to records that
// finished with contact data attached.
package tagger

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/propflow/skiptrace-cli/internal/model"
)

// TagSink receives (record, tag set) pairs for persistence. It must be
// idempotent: re-applying the same tags is a no-op. store.Store
// satisfies it.
type TagSink interface {
	TagRecord(ctx context.Context, batchID string, rowNumber int, tags []string) error
}

// Applier attaches one batch's tag set to eligible records.
type Applier struct {
	sink TagSink
	tags []string
}

// NewApplier creates an Applier for the batch's requested tags.
func NewApplier(sink TagSink, tags []string) *Applier {
	return &Applier{sink: sink, tags: tags}
}

// Apply tags the record when its terminal result carries enrichment
// data. Litigator matches, skipped, and failed records are never
// tagged. Returns whether tags were applied.
func (a *Applier) Apply(ctx context.Context, result model.RecordResult) (bool, error) {
	if len(a.tags) == 0 || !result.Enriched() {
		return false, nil
	}
	if err := a.sink.TagRecord(ctx, result.BatchID, result.RowNumber, a.tags); err != nil {
		return false, eris.Wrapf(err, "tagger: tag %s/%d", result.BatchID, result.RowNumber)
	}
	return true, nil
}
