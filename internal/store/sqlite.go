package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/synthesis-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	sector     TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	ticker     TEXT NOT NULL DEFAULT '',
	metadata   TEXT,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	subject_org_id     TEXT NOT NULL,
	comparison_org_id  TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'queued',
	reused_from_run_id TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analysis_modules (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	code           TEXT NOT NULL,
	status         TEXT NOT NULL,
	payload        TEXT,
	citation_urls  TEXT,
	failure_reason TEXT NOT NULL DEFAULT '',
	input_tokens   INTEGER NOT NULL DEFAULT 0,
	output_tokens  INTEGER NOT NULL DEFAULT 0,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, code)
);

CREATE TABLE IF NOT EXISTS synthesis_bundles (
	run_id       TEXT PRIMARY KEY,
	bundle       TEXT NOT NULL,
	generated_at DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	phase      TEXT NOT NULL,
	payload    BLOB,
	persistent INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS phase_logs (
	run_id      TEXT NOT NULL,
	phase       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	record      TEXT,
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, phase)
);

CREATE TABLE IF NOT EXISTS run_metrics (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       REAL NOT NULL,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS diversity_metrics (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS diagnostics_reports (
	run_id       TEXT PRIMARY KEY,
	health       TEXT NOT NULL,
	report       TEXT NOT NULL,
	generated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_metrics_run_id ON run_metrics(run_id);
CREATE INDEX IF NOT EXISTS idx_diversity_metrics_created_at ON diversity_metrics(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Runs and modules ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusQueued
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, subject_org_id, comparison_org_id, status, reused_from_run_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SubjectOrgID, run.ComparisonOrgID, string(run.Status), run.ReusedFromRunID, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject_org_id, comparison_org_id, status, reused_from_run_id, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, subject_org_id, comparison_org_id, status, reused_from_run_id, created_at, updated_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
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
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs scan")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) SaveModule(ctx context.Context, m model.AnalysisModule) error {
	urls, err := json.Marshal(m.CitationURLs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal citation urls")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_modules (run_id, code, status, payload, citation_urls, failure_reason, input_tokens, output_tokens, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, code) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			citation_urls = excluded.citation_urls,
			failure_reason = excluded.failure_reason,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			duration_ms = excluded.duration_ms`,
		m.RunID, m.Code, string(m.Status), nullableText(m.Payload), string(urls),
		m.FailureReason, m.InputTokens, m.OutputTokens, m.DurationMs,
	)
	return eris.Wrapf(err, "sqlite: save module %s/%s", m.RunID, m.Code)
}

func (s *SQLiteStore) ListModules(ctx context.Context, runID string) ([]model.AnalysisModule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, code, status, payload, citation_urls, failure_reason, input_tokens, output_tokens, duration_ms
		 FROM analysis_modules WHERE run_id = ? ORDER BY code`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list modules %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AnalysisModule
	for rows.Next() {
		var m model.AnalysisModule
		var payload, urls sql.NullString
		if err := rows.Scan(&m.RunID, &m.Code, &m.Status, &payload, &urls,
			&m.FailureReason, &m.InputTokens, &m.OutputTokens, &m.DurationMs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan module")
		}
		if payload.Valid {
			m.Payload = []byte(payload.String)
		}
		if urls.Valid && urls.String != "" {
			if err := json.Unmarshal([]byte(urls.String), &m.CitationURLs); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal citation urls")
			}
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list modules iterate")
}

// --- Organizations ---

func (s *SQLiteStore) SaveOrganization(ctx context.Context, org model.Organization) error {
	meta, err := json.Marshal(org.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal organization metadata")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, sector, website, ticker, metadata, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sector = excluded.sector,
			website = excluded.website,
			ticker = excluded.ticker,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		org.ID, org.Name, org.Sector, org.Website, org.Ticker, string(meta), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save organization %s", org.ID)
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	var meta sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, sector, website, ticker, metadata FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &org.Sector, &org.Website, &org.Ticker, &meta)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: organization %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get organization %s", id)
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &org.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal organization metadata")
		}
	}
	return &org, nil
}

// --- Bundle cache ---

func (s *SQLiteStore) GetBundle(ctx context.Context, runID string) (*model.SynthesisBundle, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT bundle FROM synthesis_bundles WHERE run_id = ?`, runID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get bundle %s", runID)
	}
	var b model.SynthesisBundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal bundle")
	}
	return &b, nil
}

func (s *SQLiteStore) SaveBundle(ctx context.Context, bundle *model.SynthesisBundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal bundle")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO synthesis_bundles (run_id, bundle, generated_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			bundle = excluded.bundle,
			generated_at = excluded.generated_at,
			updated_at = excluded.updated_at`,
		bundle.RunID, string(raw), bundle.GeneratedAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save bundle %s", bundle.RunID)
}

// --- Artifacts ---

func (s *SQLiteStore) SaveArtifact(ctx context.Context, runID, phase, name string, payload []byte, persistent bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, name, phase, payload, persistent, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, name) DO UPDATE SET
			phase = excluded.phase,
			payload = excluded.payload,
			persistent = excluded.persistent,
			created_at = excluded.created_at`,
		runID, name, phase, payload, persistent, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save artifact %s/%s", runID, name)
}

func (s *SQLiteStore) LoadArtifact(ctx context.Context, runID, name string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM artifacts WHERE run_id = ? AND name = ?`, runID, name,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return payload, eris.Wrapf(err, "sqlite: load artifact %s/%s", runID, name)
}

// --- Telemetry ---

func (s *SQLiteStore) ResetPhases(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM phase_logs WHERE run_id = ?`, runID)
	return eris.Wrapf(err, "sqlite: reset phases %s", runID)
}

func (s *SQLiteStore) LogPhaseStart(ctx context.Context, runID, phase string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phase_logs (run_id, phase, status, record, started_at, duration_ms) VALUES (?, ?, 'running', NULL, ?, 0)
		 ON CONFLICT(run_id, phase) DO UPDATE SET
			status = 'running',
			record = NULL,
			started_at = excluded.started_at,
			duration_ms = 0`,
		runID, phase, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: log phase start %s/%s", runID, phase)
}

func (s *SQLiteStore) LogPhaseEnd(ctx context.Context, runID string, rec model.PhaseRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO phase_logs (run_id, phase, status, record, started_at, duration_ms) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, phase) DO UPDATE SET
			status = excluded.status,
			record = excluded.record,
			duration_ms = excluded.duration_ms`,
		runID, rec.Name, string(rec.Status), string(raw), rec.StartedAt.UTC(), rec.DurationMs,
	)
	return eris.Wrapf(err, "sqlite: log phase end %s/%s", runID, rec.Name)
}

func (s *SQLiteStore) ListPhaseRecords(ctx context.Context, runID string) ([]model.PhaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, status, record, started_at, duration_ms FROM phase_logs
		 WHERE run_id = ? ORDER BY started_at, phase`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phases %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PhaseRecord
	for rows.Next() {
		var rec model.PhaseRecord
		var status string
		var raw sql.NullString
		var startedAt time.Time
		var durationMs int64
		if err := rows.Scan(&rec.Name, &status, &raw, &startedAt, &durationMs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		rec, err = decodePhaseRecord(rec.Name, status, raw.String, startedAt, durationMs)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal phase record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

func (s *SQLiteStore) LogMetric(ctx context.Context, runID, key string, value float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_metrics (run_id, key, value, recorded_at) VALUES (?, ?, ?, ?)`,
		runID, key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: log metric %s", key)
}

func (s *SQLiteStore) ListMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM run_metrics WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list metrics %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]float64)
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		out[key] = value
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list metrics iterate")
}

// --- Diversity metrics ---

func (s *SQLiteStore) SaveDiversityRecord(ctx context.Context, rec model.DiversityRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal diversity record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO diversity_metrics (run_id, record, created_at) VALUES (?, ?, ?)`,
		rec.RunID, string(raw), rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save diversity record %s", rec.RunID)
}

func (s *SQLiteStore) RecentDiversityRecords(ctx context.Context, limit int) ([]model.DiversityRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM diversity_metrics ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent diversity records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DiversityRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan diversity record")
		}
		var rec model.DiversityRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal diversity record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: recent diversity records iterate")
}

// --- Diagnostics ---

func (s *SQLiteStore) SaveDiagnostics(ctx context.Context, report *model.DiagnosticsReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal diagnostics")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO diagnostics_reports (run_id, health, report, generated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			health = excluded.health,
			report = excluded.report,
			generated_at = excluded.generated_at`,
		report.RunID, string(report.Health), string(raw), report.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save diagnostics %s", report.RunID)
}

func (s *SQLiteStore) GetDiagnostics(ctx context.Context, runID string) (*model.DiagnosticsReport, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM diagnostics_reports WHERE run_id = ?`, runID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get diagnostics %s", runID)
	}
	var report model.DiagnosticsReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal diagnostics")
	}
	return &report, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.SubjectOrgID, &r.ComparisonOrgID, &r.Status, &r.ReusedFromRunID, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// decodePhaseRecord rebuilds a phase record from a telemetry row. Rows still
// marked running have no stored record.
func decodePhaseRecord(name, status, raw string, startedAt time.Time, durationMs int64) (model.PhaseRecord, error) {
	if raw == "" {
		return model.PhaseRecord{
			Name:       name,
			Status:     model.PhaseStatus(status),
			StartedAt:  startedAt,
			DurationMs: durationMs,
		}, nil
	}
	var rec model.PhaseRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, err
	}
	return rec, nil
}
