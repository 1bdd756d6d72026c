// Package enrich decides, per record, whether to reuse a cached
// enrichment result or pay for a fresh lookup from the skip-trace
// provider.
package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/propflow/skiptrace-cli/internal/model"
)

// ErrNotFound is returned by a Client when the provider has no contact
// data for the address. It is a valid outcome, not a failure: callers
// record the row as skipped rather than retrying.
var ErrNotFound = eris.New("enrich: address not found")

// Client performs one external skip-trace lookup. Implementations must
// return ErrNotFound (possibly wrapped) for an address the provider
// does not know, and a resilience.TransientError for retryable
// failures such as timeouts or rate limits.
type Client interface {
	Lookup(ctx context.Context, addr model.Address) (*model.ContactData, error)
}

// Cache is the durable, fingerprint-keyed enrichment cache shared
// across batches and owners. store.Store satisfies it.
type Cache interface {
	GetEnrichment(ctx context.Context, fingerprint string) (*model.EnrichmentEntry, error)
	PutEnrichment(ctx context.Context, entry model.EnrichmentEntry) error
}

// Outcome records which path a lookup decision took, for cost
// accounting downstream.
type Outcome string

const (
	// OutcomeFromCache means the record reused an existing entry and
	// incurred no external spend.
	OutcomeFromCache Outcome = "from_cache"
	// OutcomeFresh means the record paid for an external lookup.
	OutcomeFresh Outcome = "fresh"
	// OutcomeNotFound means the provider had no data for the address.
	OutcomeNotFound Outcome = "not_found"
)

// Result is the engine's answer for one fingerprint.
type Result struct {
	Outcome Outcome
	Entry   *model.EnrichmentEntry // nil when Outcome is OutcomeNotFound
}
