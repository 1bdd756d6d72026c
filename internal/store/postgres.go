package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/propflow/skiptrace-cli/internal/db"
	"github.com/propflow/skiptrace-cli/internal/model"
)

// PostgresStore implements Store using pgxpool, for deployments where the
// enrichment cache and litigator list are shared across operators.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries to prepare on each new
// connection: per-record operations run once per row of every batch.
var preparedStatements = map[string]string{
	"save_result": `INSERT INTO record_results (batch_id, row_number, status, stage, reason, fingerprint, litigator_id, enrichment, tagged, duplicate, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (batch_id, row_number) DO UPDATE SET
		   status = EXCLUDED.status, stage = EXCLUDED.stage, reason = EXCLUDED.reason,
		   fingerprint = EXCLUDED.fingerprint, litigator_id = EXCLUDED.litigator_id,
		   enrichment = EXCLUDED.enrichment, tagged = EXCLUDED.tagged,
		   duplicate = EXCLUDED.duplicate, completed_at = EXCLUDED.completed_at`,
	"get_enrichment": `SELECT fingerprint, contact, fetched_at, source_batch_id FROM enrichment_cache WHERE fingerprint = $1`,
	"put_enrichment": `INSERT INTO enrichment_cache (fingerprint, contact, fetched_at, source_batch_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   contact = EXCLUDED.contact, fetched_at = EXCLUDED.fetched_at, source_batch_id = EXCLUDED.source_batch_id`,
	"get_litigator": `SELECT id, fingerprint, full_name, street, city, state, zip, added_at FROM litigators WHERE fingerprint = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner          TEXT NOT NULL DEFAULT '',
	source_path    TEXT NOT NULL,
	filename       TEXT NOT NULL,
	has_header_row BOOLEAN NOT NULL DEFAULT true,
	mapping        JSONB,
	refresh_policy TEXT NOT NULL DEFAULT 'prefer_cache',
	tags           JSONB,
	status         TEXT NOT NULL DEFAULT 'mapping',
	total_rows     INTEGER NOT NULL DEFAULT 0,
	counts         JSONB,
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS record_results (
	batch_id     TEXT NOT NULL REFERENCES batches(id),
	row_number   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	stage        TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	fingerprint  TEXT NOT NULL DEFAULT '',
	litigator_id TEXT NOT NULL DEFAULT '',
	enrichment   JSONB,
	tagged       BOOLEAN NOT NULL DEFAULT false,
	duplicate    BOOLEAN NOT NULL DEFAULT false,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (batch_id, row_number)
);

CREATE TABLE IF NOT EXISTS enrichment_cache (
	fingerprint     TEXT PRIMARY KEY,
	contact         JSONB NOT NULL,
	fetched_at      TIMESTAMPTZ NOT NULL,
	source_batch_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS litigators (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL UNIQUE,
	full_name   TEXT NOT NULL,
	street      TEXT NOT NULL DEFAULT '',
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	zip         TEXT NOT NULL DEFAULT '',
	added_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS record_tags (
	batch_id   TEXT NOT NULL,
	row_number INTEGER NOT NULL,
	tag        TEXT NOT NULL,
	PRIMARY KEY (batch_id, row_number, tag)
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_batches_owner ON batches(owner);
CREATE INDEX IF NOT EXISTS idx_results_batch ON record_results(batch_id);
CREATE INDEX IF NOT EXISTS idx_results_status ON record_results(batch_id, status);
CREATE INDEX IF NOT EXISTS idx_enrichment_fetched ON enrichment_cache(fetched_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying pool for subsystems needing direct access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) CreateBatch(ctx context.Context, batch *model.UploadBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = model.BatchStatusMapping
	}
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now

	mappingJSON, err := json.Marshal(batch.Mapping)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal mapping")
	}
	tagsJSON, err := json.Marshal(batch.Tags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tags")
	}
	countsJSON, err := json.Marshal(batch.Counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batches (id, owner, source_path, filename, has_header_row, mapping, refresh_policy, tags, status, total_rows, counts, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		batch.ID, batch.Owner, batch.SourcePath, batch.Filename, batch.HasHeaderRow,
		mappingJSON, string(batch.RefreshPolicy), tagsJSON, string(batch.Status),
		batch.TotalRows, countsJSON, batch.Error, now, now,
	)
	return eris.Wrap(err, "postgres: insert batch")
}

const batchColumns = `id, owner, source_path, filename, has_header_row, mapping, refresh_policy, tags, status, total_rows, counts, error, created_at, updated_at`

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1`,
		batchID,
	)
	b, err := scanPgBatch(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.UploadBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Owner != "" {
		query += fmt.Sprintf(` AND owner = $%d`, argIdx)
		args = append(args, filter.Owner)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.UploadBatch
	for rows.Next() {
		b, err := scanPgBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func (s *PostgresStore) ConfirmMapping(ctx context.Context, batchID string, mapping model.ColumnMapping, policy model.RefreshPolicy, tags []string, totalRows int) error {
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal mapping")
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tags")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET mapping = $1, refresh_policy = $2, tags = $3, total_rows = $4, status = $5, updated_at = $6
		 WHERE id = $7 AND status = $8`,
		mappingJSON, string(policy), tagsJSON, totalRows,
		string(model.BatchStatusProcessing), time.Now().UTC(),
		batchID, string(model.BatchStatusMapping),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: confirm mapping %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch in mapping state not found: %s", batchID)
	}
	return nil
}

func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, batchID string, status model.BatchStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update batch status %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %s", batchID)
	}
	return nil
}

func (s *PostgresStore) UpdateBatchCounts(ctx context.Context, batchID string, counts model.BatchCounts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET counts = $1, updated_at = $2 WHERE id = $3`,
		countsJSON, time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update batch counts %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %s", batchID)
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, result model.RecordResult) error {
	var enrichmentJSON []byte
	if result.Enrichment != nil {
		var err error
		enrichmentJSON, err = json.Marshal(result.Enrichment)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal enrichment")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO record_results (batch_id, row_number, status, stage, reason, fingerprint, litigator_id, enrichment, tagged, duplicate, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (batch_id, row_number) DO UPDATE SET
		   status = EXCLUDED.status, stage = EXCLUDED.stage, reason = EXCLUDED.reason,
		   fingerprint = EXCLUDED.fingerprint, litigator_id = EXCLUDED.litigator_id,
		   enrichment = EXCLUDED.enrichment, tagged = EXCLUDED.tagged,
		   duplicate = EXCLUDED.duplicate, completed_at = EXCLUDED.completed_at`,
		result.BatchID, result.RowNumber, string(result.Status), string(result.Stage),
		result.Reason, result.Fingerprint, result.LitigatorID, enrichmentJSON,
		result.Tagged, result.Duplicate, result.CompletedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save result %s/%d", result.BatchID, result.RowNumber)
}

func (s *PostgresStore) GetResults(ctx context.Context, batchID string) ([]model.RecordResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT batch_id, row_number, status, stage, reason, fingerprint, litigator_id, enrichment, tagged, duplicate, completed_at
		 FROM record_results WHERE batch_id = $1 ORDER BY row_number`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get results")
	}
	defer rows.Close()

	var results []model.RecordResult
	for rows.Next() {
		var r model.RecordResult
		var enrichmentJSON []byte
		if err := rows.Scan(&r.BatchID, &r.RowNumber, &r.Status, &r.Stage, &r.Reason,
			&r.Fingerprint, &r.LitigatorID, &enrichmentJSON, &r.Tagged, &r.Duplicate, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		if len(enrichmentJSON) > 0 {
			r.Enrichment = &model.ContactData{}
			if err := json.Unmarshal(enrichmentJSON, r.Enrichment); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal enrichment")
			}
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: get results iterate")
}

func (s *PostgresStore) CompletedRows(ctx context.Context, batchID string) (map[int]model.ResultStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT row_number, status FROM record_results WHERE batch_id = $1`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: completed rows")
	}
	defer rows.Close()

	done := make(map[int]model.ResultStatus)
	for rows.Next() {
		var rowNum int
		var status model.ResultStatus
		if err := rows.Scan(&rowNum, &status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan completed row")
		}
		done[rowNum] = status
	}
	return done, eris.Wrap(rows.Err(), "postgres: completed rows iterate")
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, fingerprint string) (*model.EnrichmentEntry, error) {
	var e model.EnrichmentEntry
	var contactJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint, contact, fetched_at, source_batch_id FROM enrichment_cache WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&e.Fingerprint, &contactJSON, &e.FetchedAt, &e.SourceBatchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get enrichment")
	}
	if err := json.Unmarshal(contactJSON, &e.Contact); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal contact")
	}
	return &e, nil
}

func (s *PostgresStore) PutEnrichment(ctx context.Context, entry model.EnrichmentEntry) error {
	contactJSON, err := json.Marshal(entry.Contact)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contact")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment_cache (fingerprint, contact, fetched_at, source_batch_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   contact = EXCLUDED.contact, fetched_at = EXCLUDED.fetched_at, source_batch_id = EXCLUDED.source_batch_id`,
		entry.Fingerprint, contactJSON, entry.FetchedAt.UTC(), entry.SourceBatchID,
	)
	return eris.Wrap(err, "postgres: put enrichment")
}

var litigatorColumns = []string{"id", "fingerprint", "full_name", "street", "city", "state", "zip", "added_at"}

func litigatorRows(records []model.LitigatorRecord) [][]any {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.AddedAt.IsZero() {
			rec.AddedAt = time.Now().UTC()
		}
		rows = append(rows, []any{rec.ID, rec.Fingerprint, rec.FullName,
			rec.Street, rec.City, rec.State, rec.Zip, rec.AddedAt.UTC()})
	}
	return rows
}

func (s *PostgresStore) ReplaceLitigators(ctx context.Context, records []model.LitigatorRecord) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin replace litigators")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM litigators`); err != nil {
		return 0, eris.Wrap(err, "postgres: clear litigators")
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"litigators"}, litigatorColumns,
		pgx.CopyFromRows(litigatorRows(records)))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: copy litigators")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit replace litigators")
	}
	return int(n), nil
}

func (s *PostgresStore) UpsertLitigators(ctx context.Context, records []model.LitigatorRecord) (int, error) {
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "litigators",
		Columns:      litigatorColumns,
		ConflictKeys: []string{"fingerprint"},
		UpdateCols:   []string{"full_name", "street", "city", "state", "zip", "added_at"},
	}, litigatorRows(records))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert litigators")
	}
	return int(n), nil
}

func (s *PostgresStore) GetLitigator(ctx context.Context, fingerprint string) (*model.LitigatorRecord, error) {
	var l model.LitigatorRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, fingerprint, full_name, street, city, state, zip, added_at FROM litigators WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&l.ID, &l.Fingerprint, &l.FullName, &l.Street, &l.City, &l.State, &l.Zip, &l.AddedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get litigator")
	}
	return &l, nil
}

func (s *PostgresStore) CountLitigators(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM litigators`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count litigators")
}

func (s *PostgresStore) TagRecord(ctx context.Context, batchID string, rowNumber int, tags []string) error {
	for _, tag := range tags {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO record_tags (batch_id, row_number, tag) VALUES ($1, $2, $3)
			 ON CONFLICT (batch_id, row_number, tag) DO NOTHING`,
			batchID, rowNumber, tag,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: tag record %s/%d", batchID, rowNumber)
		}
	}
	return nil
}

func (s *PostgresStore) RecordTags(ctx context.Context, batchID string, rowNumber int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tag FROM record_tags WHERE batch_id = $1 AND row_number = $2 ORDER BY tag`,
		batchID, rowNumber,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: record tags")
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tag")
		}
		tags = append(tags, tag)
	}
	return tags, eris.Wrap(rows.Err(), "postgres: record tags iterate")
}

func scanPgBatch(row pgx.Row) (*model.UploadBatch, error) {
	var b model.UploadBatch
	var mappingJSON, tagsJSON, countsJSON []byte

	err := row.Scan(&b.ID, &b.Owner, &b.SourcePath, &b.Filename, &b.HasHeaderRow,
		&mappingJSON, &b.RefreshPolicy, &tagsJSON, &b.Status, &b.TotalRows,
		&countsJSON, &b.Error, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &b.Mapping); err != nil {
			return nil, eris.Wrap(err, "unmarshal mapping")
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &b.Tags); err != nil {
			return nil, eris.Wrap(err, "unmarshal tags")
		}
	}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &b.Counts); err != nil {
			return nil, eris.Wrap(err, "unmarshal counts")
		}
	}
	return &b, nil
}
