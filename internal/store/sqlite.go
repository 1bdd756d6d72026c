package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/propflow/skiptrace-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// default store for single-operator use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id             TEXT PRIMARY KEY,
	owner          TEXT NOT NULL DEFAULT '',
	source_path    TEXT NOT NULL,
	filename       TEXT NOT NULL,
	has_header_row INTEGER NOT NULL DEFAULT 1,
	mapping        TEXT,
	refresh_policy TEXT NOT NULL DEFAULT 'prefer_cache',
	tags           TEXT,
	status         TEXT NOT NULL DEFAULT 'mapping',
	total_rows     INTEGER NOT NULL DEFAULT 0,
	counts         TEXT,
	error          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS record_results (
	batch_id     TEXT NOT NULL REFERENCES batches(id),
	row_number   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	stage        TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	fingerprint  TEXT NOT NULL DEFAULT '',
	litigator_id TEXT NOT NULL DEFAULT '',
	enrichment   TEXT,
	tagged       INTEGER NOT NULL DEFAULT 0,
	duplicate    INTEGER NOT NULL DEFAULT 0,
	completed_at DATETIME NOT NULL,
	PRIMARY KEY (batch_id, row_number)
);

CREATE TABLE IF NOT EXISTS enrichment_cache (
	fingerprint     TEXT PRIMARY KEY,
	contact         TEXT NOT NULL,
	fetched_at      DATETIME NOT NULL,
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
	added_at    DATETIME NOT NULL
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
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, batch *model.UploadBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = model.BatchStatusMapping
	}
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now

	mappingJSON, tagsJSON, countsJSON, err := marshalBatchFields(batch)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (id, owner, source_path, filename, has_header_row, mapping, refresh_policy, tags, status, total_rows, counts, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.Owner, batch.SourcePath, batch.Filename, boolToInt(batch.HasHeaderRow),
		mappingJSON, string(batch.RefreshPolicy), tagsJSON, string(batch.Status),
		batch.TotalRows, countsJSON, batch.Error, now, now,
	)
	return eris.Wrap(err, "sqlite: insert batch")
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, source_path, filename, has_header_row, mapping, refresh_policy, tags, status, total_rows, counts, error, created_at, updated_at
		 FROM batches WHERE id = ?`,
		batchID,
	)
	return scanBatch(row)
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.UploadBatch, error) {
	query := `SELECT id, owner, source_path, filename, has_header_row, mapping, refresh_policy, tags, status, total_rows, counts, error, created_at, updated_at
	          FROM batches WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Owner != "" {
		query += ` AND owner = ?`
		args = append(args, filter.Owner)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var batches []model.UploadBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) ConfirmMapping(ctx context.Context, batchID string, mapping model.ColumnMapping, policy model.RefreshPolicy, tags []string, totalRows int) error {
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal mapping")
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tags")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET mapping = ?, refresh_policy = ?, tags = ?, total_rows = ?, status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(mappingJSON), string(policy), string(tagsJSON), totalRows,
		string(model.BatchStatusProcessing), time.Now().UTC(),
		batchID, string(model.BatchStatusMapping),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: confirm mapping %s", batchID)
	}
	return checkRowsAffected(res, "batch in mapping state", batchID)
}

func (s *SQLiteStore) UpdateBatchStatus(ctx context.Context, batchID string, status model.BatchStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update batch status %s", batchID)
	}
	return checkRowsAffected(res, "batch", batchID)
}

func (s *SQLiteStore) UpdateBatchCounts(ctx context.Context, batchID string, counts model.BatchCounts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET counts = ?, updated_at = ? WHERE id = ?`,
		string(countsJSON), time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update batch counts %s", batchID)
	}
	return checkRowsAffected(res, "batch", batchID)
}

func (s *SQLiteStore) SaveResult(ctx context.Context, result model.RecordResult) error {
	var enrichmentJSON any
	if result.Enrichment != nil {
		data, err := json.Marshal(result.Enrichment)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal enrichment")
		}
		enrichmentJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO record_results (batch_id, row_number, status, stage, reason, fingerprint, litigator_id, enrichment, tagged, duplicate, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (batch_id, row_number) DO UPDATE SET
		   status = excluded.status, stage = excluded.stage, reason = excluded.reason,
		   fingerprint = excluded.fingerprint, litigator_id = excluded.litigator_id,
		   enrichment = excluded.enrichment, tagged = excluded.tagged,
		   duplicate = excluded.duplicate, completed_at = excluded.completed_at`,
		result.BatchID, result.RowNumber, string(result.Status), string(result.Stage),
		result.Reason, result.Fingerprint, result.LitigatorID, enrichmentJSON,
		boolToInt(result.Tagged), boolToInt(result.Duplicate), result.CompletedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save result %s/%d", result.BatchID, result.RowNumber)
}

func (s *SQLiteStore) GetResults(ctx context.Context, batchID string) ([]model.RecordResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, row_number, status, stage, reason, fingerprint, litigator_id, enrichment, tagged, duplicate, completed_at
		 FROM record_results WHERE batch_id = ? ORDER BY row_number`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get results")
	}
	defer rows.Close()

	var results []model.RecordResult
	for rows.Next() {
		var r model.RecordResult
		var enrichmentJSON sql.NullString
		var tagged, duplicate int
		if err := rows.Scan(&r.BatchID, &r.RowNumber, &r.Status, &r.Stage, &r.Reason,
			&r.Fingerprint, &r.LitigatorID, &enrichmentJSON, &tagged, &duplicate, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r.Tagged = tagged != 0
		r.Duplicate = duplicate != 0
		if enrichmentJSON.Valid {
			r.Enrichment = &model.ContactData{}
			if err := json.Unmarshal([]byte(enrichmentJSON.String), r.Enrichment); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal enrichment")
			}
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: get results iterate")
}

func (s *SQLiteStore) CompletedRows(ctx context.Context, batchID string) (map[int]model.ResultStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_number, status FROM record_results WHERE batch_id = ?`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: completed rows")
	}
	defer rows.Close()

	done := make(map[int]model.ResultStatus)
	for rows.Next() {
		var rowNum int
		var status model.ResultStatus
		if err := rows.Scan(&rowNum, &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan completed row")
		}
		done[rowNum] = status
	}
	return done, eris.Wrap(rows.Err(), "sqlite: completed rows iterate")
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, fingerprint string) (*model.EnrichmentEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, contact, fetched_at, source_batch_id FROM enrichment_cache WHERE fingerprint = ?`,
		fingerprint,
	)

	var e model.EnrichmentEntry
	var contactJSON string
	err := row.Scan(&e.Fingerprint, &contactJSON, &e.FetchedAt, &e.SourceBatchID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get enrichment")
	}
	if err := json.Unmarshal([]byte(contactJSON), &e.Contact); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal contact")
	}
	return &e, nil
}

func (s *SQLiteStore) PutEnrichment(ctx context.Context, entry model.EnrichmentEntry) error {
	contactJSON, err := json.Marshal(entry.Contact)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contact")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment_cache (fingerprint, contact, fetched_at, source_batch_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   contact = excluded.contact, fetched_at = excluded.fetched_at, source_batch_id = excluded.source_batch_id`,
		entry.Fingerprint, string(contactJSON), entry.FetchedAt.UTC(), entry.SourceBatchID,
	)
	return eris.Wrap(err, "sqlite: put enrichment")
}

func (s *SQLiteStore) ReplaceLitigators(ctx context.Context, records []model.LitigatorRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin replace litigators")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM litigators`); err != nil {
		return 0, eris.Wrap(err, "sqlite: clear litigators")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO litigators (id, fingerprint, full_name, street, city, state, zip, added_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO NOTHING`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare litigator insert")
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.AddedAt.IsZero() {
			rec.AddedAt = time.Now().UTC()
		}
		res, err := stmt.ExecContext(ctx, rec.ID, rec.Fingerprint, rec.FullName,
			rec.Street, rec.City, rec.State, rec.Zip, rec.AddedAt.UTC())
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert litigator %s", rec.Fingerprint)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit replace litigators")
	}
	return inserted, nil
}

func (s *SQLiteStore) UpsertLitigators(ctx context.Context, records []model.LitigatorRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert litigators")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO litigators (id, fingerprint, full_name, street, city, state, zip, added_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   full_name = excluded.full_name, street = excluded.street, city = excluded.city,
		   state = excluded.state, zip = excluded.zip, added_at = excluded.added_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare litigator upsert")
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.AddedAt.IsZero() {
			rec.AddedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Fingerprint, rec.FullName,
			rec.Street, rec.City, rec.State, rec.Zip, rec.AddedAt.UTC()); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert litigator %s", rec.Fingerprint)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert litigators")
	}
	return len(records), nil
}

func (s *SQLiteStore) GetLitigator(ctx context.Context, fingerprint string) (*model.LitigatorRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, full_name, street, city, state, zip, added_at FROM litigators WHERE fingerprint = ?`,
		fingerprint,
	)

	var l model.LitigatorRecord
	err := row.Scan(&l.ID, &l.Fingerprint, &l.FullName, &l.Street, &l.City, &l.State, &l.Zip, &l.AddedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get litigator")
	}
	return &l, nil
}

func (s *SQLiteStore) CountLitigators(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM litigators`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count litigators")
}

func (s *SQLiteStore) TagRecord(ctx context.Context, batchID string, rowNumber int, tags []string) error {
	for _, tag := range tags {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO record_tags (batch_id, row_number, tag) VALUES (?, ?, ?)
			 ON CONFLICT (batch_id, row_number, tag) DO NOTHING`,
			batchID, rowNumber, tag,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: tag record %s/%d", batchID, rowNumber)
		}
	}
	return nil
}

func (s *SQLiteStore) RecordTags(ctx context.Context, batchID string, rowNumber int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM record_tags WHERE batch_id = ? AND row_number = ? ORDER BY tag`,
		batchID, rowNumber,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: record tags")
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tag")
		}
		tags = append(tags, tag)
	}
	return tags, eris.Wrap(rows.Err(), "sqlite: record tags iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*model.UploadBatch, error) {
	var b model.UploadBatch
	var hasHeader int
	var mappingJSON, tagsJSON, countsJSON sql.NullString

	err := row.Scan(&b.ID, &b.Owner, &b.SourcePath, &b.Filename, &hasHeader,
		&mappingJSON, &b.RefreshPolicy, &tagsJSON, &b.Status, &b.TotalRows,
		&countsJSON, &b.Error, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("batch not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan batch")
	}

	b.HasHeaderRow = hasHeader != 0
	if mappingJSON.Valid && mappingJSON.String != "" {
		if err := json.Unmarshal([]byte(mappingJSON.String), &b.Mapping); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal mapping")
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &b.Tags); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal tags")
		}
	}
	if countsJSON.Valid && countsJSON.String != "" {
		if err := json.Unmarshal([]byte(countsJSON.String), &b.Counts); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal counts")
		}
	}
	return &b, nil
}

func marshalBatchFields(batch *model.UploadBatch) (mappingJSON, tagsJSON, countsJSON string, err error) {
	m, err := json.Marshal(batch.Mapping)
	if err != nil {
		return "", "", "", eris.Wrap(err, "sqlite: marshal mapping")
	}
	t, err := json.Marshal(batch.Tags)
	if err != nil {
		return "", "", "", eris.Wrap(err, "sqlite: marshal tags")
	}
	c, err := json.Marshal(batch.Counts)
	if err != nil {
		return "", "", "", eris.Wrap(err, "sqlite: marshal counts")
	}
	return string(m), string(t), string(c), nil
}
