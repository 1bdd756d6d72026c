package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/propflow/skiptrace-cli/internal/model"
)

// Engine applies the refresh policy for one processing run. Construct
// one per run: the per-run memo makes repeated fingerprints within the
// run reuse the first result, so force_refresh pays at most once per
// distinct address.
//
// Concurrent resolves for the same fingerprint are coalesced through
// singleflight so a burst of records sharing an address pays for
// exactly one fetch. Runs that may execute concurrently in one process
// must share the flight group (WithFlightGroup) so the guarantee holds
// across batches, not just within one.
type Engine struct {
	client Client
	cache  Cache

	// maxAge bounds how old a cache hit may be under prefer_cache.
	// Zero means any hit is valid indefinitely.
	maxAge time.Duration

	group *singleflight.Group
	now   func() time.Time

	mu      sync.Mutex
	session map[string]Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAge sets a staleness bound for cache hits under prefer_cache.
func WithMaxAge(d time.Duration) Option {
	return func(e *Engine) { e.maxAge = d }
}

// WithFlightGroup shares a fetch-coalescing group between engines, so
// at most one fresh fetch per fingerprint is in flight process-wide.
func WithFlightGroup(g *singleflight.Group) Option {
	return func(e *Engine) { e.group = g }
}

// NewEngine creates an Engine for one processing run.
func NewEngine(client Client, cache Cache, opts ...Option) *Engine {
	e := &Engine{
		client:  client,
		cache:   cache,
		group:   new(singleflight.Group),
		now:     time.Now,
		session: make(map[string]Result),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve returns enrichment data for the fingerprint, reusing the
// cache when the policy allows. Errors are returned unmemoized so a
// transient provider failure can be retried on resume.
func (e *Engine) Resolve(ctx context.Context, batchID, fingerprint string, addr model.Address, policy model.RefreshPolicy) (Result, error) {
	if fingerprint == "" {
		return Result{}, eris.New("enrich: empty fingerprint")
	}

	e.mu.Lock()
	if res, ok := e.session[fingerprint]; ok {
		e.mu.Unlock()
		return demote(res), nil
	}
	e.mu.Unlock()

	v, err, _ := e.group.Do(fingerprint, func() (any, error) {
		return e.resolveOnce(ctx, batchID, fingerprint, addr, policy)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)

	// First resolver of the fingerprint keeps its outcome; every later
	// or coalesced resolver counts as a cache reuse.
	e.mu.Lock()
	if _, dup := e.session[fingerprint]; dup {
		e.mu.Unlock()
		return demote(res), nil
	}
	e.session[fingerprint] = res
	e.mu.Unlock()
	return res, nil
}

func (e *Engine) resolveOnce(ctx context.Context, batchID, fingerprint string, addr model.Address, policy model.RefreshPolicy) (Result, error) {
	if policy != model.RefreshForce {
		entry, err := e.cache.GetEnrichment(ctx, fingerprint)
		if err != nil {
			return Result{}, eris.Wrap(err, "enrich: cache read")
		}
		if entry != nil && (e.maxAge == 0 || e.now().Sub(entry.FetchedAt) <= e.maxAge) {
			return Result{Outcome: OutcomeFromCache, Entry: entry}, nil
		}
	}

	contact, err := e.client.Lookup(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Not cached: the provider may learn the address later.
			return Result{Outcome: OutcomeNotFound}, nil
		}
		return Result{}, eris.Wrap(err, "enrich: lookup")
	}

	entry := model.EnrichmentEntry{
		Fingerprint:   fingerprint,
		Contact:       *contact,
		FetchedAt:     e.now().UTC(),
		SourceBatchID: batchID,
	}
	if err := e.cache.PutEnrichment(ctx, entry); err != nil {
		// The lookup was paid for; surface the data even if the cache
		// write failed.
		zap.L().Warn("enrichment cache write failed",
			zap.String("fingerprint", fingerprint), zap.Error(err))
	}
	return Result{Outcome: OutcomeFresh, Entry: &entry}, nil
}

func demote(res Result) Result {
	if res.Outcome == OutcomeFresh {
		res.Outcome = OutcomeFromCache
	}
	return res
}
