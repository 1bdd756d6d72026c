// Package pipeline drives a batch through the per-record stages:
// normalize, enrich, litigator match, tag.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/propflow/skiptrace-cli/internal/enrich"
	"github.com/propflow/skiptrace-cli/internal/ingest"
	"github.com/propflow/skiptrace-cli/internal/litigator"
	"github.com/propflow/skiptrace-cli/internal/model"
	"github.com/propflow/skiptrace-cli/internal/normalize"
	"github.com/propflow/skiptrace-cli/internal/resilience"
	"github.com/propflow/skiptrace-cli/internal/schema"
	"github.com/propflow/skiptrace-cli/internal/store"
	"github.com/propflow/skiptrace-cli/internal/tagger"
)

// Config tunes batch processing.
type Config struct {
	// Workers bounds intra-batch parallelism. Default: 8.
	Workers int `yaml:"workers" mapstructure:"workers"`

	// CacheMaxAge bounds how old a cache hit may be under prefer_cache.
	// Zero means any hit is valid.
	CacheMaxAge time.Duration `yaml:"cache_max_age" mapstructure:"cache_max_age"`

	// Breaker guards the provider against sustained outages.
	Breaker resilience.BreakerConfig `yaml:"-" mapstructure:"-"`
}

// Orchestrator runs and resumes batch processing. It is safe to invoke
// Run repeatedly for the same batch: records already carrying a
// terminal result are skipped, not redone.
type Orchestrator struct {
	store   store.Store
	client  enrich.Client
	breaker *resilience.Breaker
	workers int
	maxAge  time.Duration

	// flights is shared by every Run so concurrent batches coalesce
	// fetches for the same fingerprint instead of each paying.
	flights singleflight.Group
}

// New creates an Orchestrator.
func New(st store.Store, client enrich.Client, cfg Config) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	return &Orchestrator{
		store:   st,
		client:  client,
		breaker: resilience.NewBreaker(cfg.Breaker),
		workers: workers,
		maxAge:  cfg.CacheMaxAge,
	}
}

// guardedClient routes lookups through the circuit breaker so a
// sustained provider outage stops the run instead of burning retries
// on every remaining row.
type guardedClient struct {
	inner   enrich.Client
	breaker *resilience.Breaker
}

func (g guardedClient) Lookup(ctx context.Context, addr model.Address) (*model.ContactData, error) {
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*model.ContactData, error) {
		return g.inner.Lookup(ctx, addr)
	})
}

// Run processes or resumes the batch and returns its final progress.
// The batch must have a confirmed mapping. On a provider outage or
// cancellation the batch is left failed_partial with completed records
// retained, and the returned error says why.
func (o *Orchestrator) Run(ctx context.Context, batchID string) (*model.Progress, error) {
	log := zap.L().With(zap.String("batch", batchID))

	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load batch")
	}

	switch batch.Status {
	case model.BatchStatusMapping:
		return nil, eris.Errorf("pipeline: batch %s has no confirmed mapping", batchID)
	case model.BatchStatusCompleted:
		return progressFrom(batch, batch.Counts), nil
	case model.BatchStatusFailedPartial:
		if err := o.store.UpdateBatchStatus(ctx, batchID, model.BatchStatusProcessing, ""); err != nil {
			return nil, eris.Wrap(err, "pipeline: resume batch")
		}
		batch.Status = model.BatchStatusProcessing
	}

	done, err := o.store.CompletedRows(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load completed rows")
	}
	log.Info("processing batch",
		zap.Int("total_rows", batch.TotalRows),
		zap.Int("already_done", len(done)),
		zap.String("policy", string(batch.RefreshPolicy)),
		zap.Int("workers", o.workers),
	)

	run := &batchRun{
		batch:      batch,
		normalizer: normalize.NewNormalizer(batch.Mapping),
		engine: enrich.NewEngine(
			guardedClient{inner: o.client, breaker: o.breaker},
			o.store,
			enrich.WithMaxAge(o.maxAge),
			enrich.WithFlightGroup(&o.flights),
		),
		matcher: litigator.NewMatcher(o.store),
		applier: tagger.NewApplier(o.store, batch.Tags),
		store:   o.store,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	rowCh, errCh := ingest.Stream(gctx, batch.SourcePath, ingest.Options{
		HasHeaderRow: batch.HasHeaderRow,
	})
	for row := range rowCh {
		// Cooperative cancellation: drain without scheduling new work.
		if gctx.Err() != nil {
			continue
		}
		if _, ok := done[row.Number]; ok {
			continue
		}
		row := row
		g.Go(func() error {
			return run.processRow(gctx, row)
		})
	}
	streamErr := <-errCh
	runErr := g.Wait()
	if runErr == nil && streamErr != nil {
		runErr = streamErr
	}
	if runErr == nil {
		runErr = ctx.Err()
	}

	return o.finalize(ctx, batch, runErr, log)
}

// finalize recomputes counts from the durable results and settles the
// batch status. It runs even after cancellation so a killed run still
// records where it stopped.
func (o *Orchestrator) finalize(ctx context.Context, batch *model.UploadBatch, runErr error, log *zap.Logger) (*model.Progress, error) {
	ctx = context.WithoutCancel(ctx)

	results, err := o.store.GetResults(ctx, batch.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load results")
	}
	counts := buildCounts(results)
	if err := o.store.UpdateBatchCounts(ctx, batch.ID, counts); err != nil {
		log.Warn("failed to persist batch counts", zap.Error(err))
	}

	status := model.BatchStatusCompleted
	errMsg := ""
	if runErr != nil {
		status = model.BatchStatusFailedPartial
		errMsg = runErr.Error()
	} else if batch.TotalRows > 0 && counts.Processed < batch.TotalRows {
		status = model.BatchStatusFailedPartial
		errMsg = "not all rows reached a terminal result"
	}
	if err := o.store.UpdateBatchStatus(ctx, batch.ID, status, errMsg); err != nil {
		log.Warn("failed to persist batch status", zap.Error(err))
	}
	batch.Status = status

	log.Info("batch finished",
		zap.String("status", string(status)),
		zap.Int("processed", counts.Processed),
		zap.Int("cache_hits", counts.CacheHits),
		zap.Int("fresh_hits", counts.FreshHits),
		zap.Int("litigators", counts.Litigators),
		zap.Int("skipped", counts.Skipped),
		zap.Int("failed", counts.Failed),
	)

	if runErr != nil {
		return progressFrom(batch, counts), eris.Wrap(runErr, "pipeline: processing stopped")
	}
	return progressFrom(batch, counts), nil
}

// Progress reports the stored state of a batch without processing it.
func (o *Orchestrator) Progress(ctx context.Context, batchID string) (*model.Progress, error) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load batch")
	}
	return progressFrom(batch, batch.Counts), nil
}

// batchRun carries the per-run collaborators for one Run invocation.
type batchRun struct {
	batch      *model.UploadBatch
	normalizer *normalize.Normalizer
	engine     *enrich.Engine
	matcher    *litigator.Matcher
	applier    *tagger.Applier
	store      store.Store

	// seen maps address fingerprints to the first row that carried them,
	// for flagging in-file duplicates.
	seen sync.Map
}

func (r *batchRun) processRow(ctx context.Context, row ingest.Row) error {
	rec, err := r.normalizer.Record(r.batch.ID, row.Number, row.Cells)
	if err != nil {
		var vErr *normalize.ValidationError
		var sErr *schema.SchemaError
		if errors.As(err, &vErr) || errors.As(err, &sErr) {
			return r.save(ctx, model.RecordResult{
				BatchID:   r.batch.ID,
				RowNumber: row.Number,
				Status:    model.ResultSkippedInvalid,
				Stage:     model.StageNormalize,
				Reason:    err.Error(),
			})
		}
		return eris.Wrapf(err, "pipeline: normalize row %d", row.Number)
	}

	if reason := normalize.Validate(rec); reason != "" {
		return r.save(ctx, model.RecordResult{
			BatchID:   r.batch.ID,
			RowNumber: row.Number,
			Status:    model.ResultSkippedInvalid,
			Stage:     model.StageNormalize,
			Reason:    reason,
		})
	}

	fp := normalize.AddressFingerprint(rec.Property)
	if prev, loaded := r.seen.LoadOrStore(fp, row.Number); loaded && prev.(int) != row.Number {
		rec.Duplicate = true
	}

	res, enrichErr := r.engine.Resolve(ctx, r.batch.ID, fp, rec.Property, r.batch.RefreshPolicy)

	// The blocklist decides the outcome regardless of enrichment:
	// downstream must never contact a listed litigator.
	hit, err := r.matcher.Match(ctx, rec)
	if err != nil {
		return err
	}
	if hit != nil {
		return r.save(ctx, model.RecordResult{
			BatchID:     r.batch.ID,
			RowNumber:   row.Number,
			Status:      model.ResultMatchedLitigator,
			Stage:       model.StageMatch,
			Fingerprint: fp,
			LitigatorID: hit.ID,
			Duplicate:   rec.Duplicate,
		})
	}

	if enrichErr != nil {
		if errors.Is(enrichErr, resilience.ErrCircuitOpen) || resilience.IsTransient(enrichErr) {
			// Provider outage. Leave the row without a terminal result
			// so a resume can retry it, and stop scheduling new work.
			return eris.Wrapf(enrichErr, "pipeline: provider outage at row %d", row.Number)
		}
		return r.save(ctx, model.RecordResult{
			BatchID:     r.batch.ID,
			RowNumber:   row.Number,
			Status:      model.ResultFailedExternal,
			Stage:       model.StageEnrich,
			Fingerprint: fp,
			Reason:      enrichErr.Error(),
			Duplicate:   rec.Duplicate,
		})
	}

	if res.Outcome == enrich.OutcomeNotFound {
		return r.save(ctx, model.RecordResult{
			BatchID:     r.batch.ID,
			RowNumber:   row.Number,
			Status:      model.ResultSkippedInvalid,
			Stage:       model.StageEnrich,
			Fingerprint: fp,
			Reason:      "address not found",
			Duplicate:   rec.Duplicate,
		})
	}

	status := model.ResultEnrichedFresh
	if res.Outcome == enrich.OutcomeFromCache {
		status = model.ResultEnrichedFromCache
	}
	result := model.RecordResult{
		BatchID:     r.batch.ID,
		RowNumber:   row.Number,
		Status:      status,
		Stage:       model.StageTag,
		Fingerprint: fp,
		Enrichment:  &res.Entry.Contact,
		Duplicate:   rec.Duplicate,
	}
	tagged, err := r.applier.Apply(ctx, result)
	if err != nil {
		return err
	}
	result.Tagged = tagged
	return r.save(ctx, result)
}

func (r *batchRun) save(ctx context.Context, result model.RecordResult) error {
	result.CompletedAt = time.Now().UTC()
	if err := r.store.SaveResult(ctx, result); err != nil {
		return eris.Wrapf(err, "pipeline: save result row %d", result.RowNumber)
	}
	return nil
}

func buildCounts(results []model.RecordResult) model.BatchCounts {
	var counts model.BatchCounts
	for _, r := range results {
		counts.Processed++
		switch r.Status {
		case model.ResultEnrichedFromCache:
			counts.CacheHits++
		case model.ResultEnrichedFresh:
			counts.FreshHits++
		case model.ResultMatchedLitigator:
			counts.Litigators++
		case model.ResultSkippedInvalid:
			counts.Skipped++
		case model.ResultFailedExternal:
			counts.Failed++
		}
		if r.Enrichment != nil {
			counts.Phones += len(r.Enrichment.Phones)
			counts.Emails += len(r.Enrichment.Emails)
			counts.Addresses += len(r.Enrichment.Addresses)
		}
	}
	return counts
}

func progressFrom(batch *model.UploadBatch, counts model.BatchCounts) *model.Progress {
	return &model.Progress{
		BatchID:        batch.ID,
		Status:         batch.Status,
		ProcessedCount: counts.Processed,
		TotalCount:     batch.TotalRows,
		FailedCount:    counts.Failed,
		Counts:         counts,
	}
}
