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

	"github.com/sells-group/synthesis-cli/internal/db"
	"github.com/sells-group/synthesis-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_run":           `SELECT id, subject_org_id, comparison_org_id, status, reused_from_run_id, created_at, updated_at FROM runs WHERE id = $1`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"list_modules":      `SELECT run_id, code, status, payload, citation_urls, failure_reason, input_tokens, output_tokens, duration_ms FROM analysis_modules WHERE run_id = $1 ORDER BY code`,
	"get_bundle":        `SELECT bundle FROM synthesis_bundles WHERE run_id = $1`,
	"log_metric":        `INSERT INTO run_metrics (run_id, key, value, recorded_at) VALUES ($1, $2, $3, $4)`,
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	sector     TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	ticker     TEXT NOT NULL DEFAULT '',
	metadata   JSONB,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	subject_org_id     TEXT NOT NULL,
	comparison_org_id  TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'queued',
	reused_from_run_id TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_modules (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	code           TEXT NOT NULL,
	status         TEXT NOT NULL,
	payload        TEXT,
	citation_urls  JSONB,
	failure_reason TEXT NOT NULL DEFAULT '',
	input_tokens   INTEGER NOT NULL DEFAULT 0,
	output_tokens  INTEGER NOT NULL DEFAULT 0,
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, code)
);

CREATE TABLE IF NOT EXISTS synthesis_bundles (
	run_id       TEXT PRIMARY KEY,
	bundle       JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	phase      TEXT NOT NULL,
	payload    BYTEA,
	persistent BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS phase_logs (
	run_id      TEXT NOT NULL,
	phase       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	record      JSONB,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, phase)
);

CREATE TABLE IF NOT EXISTS run_metrics (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS diversity_metrics (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS diagnostics_reports (
	run_id       TEXT PRIMARY KEY,
	health       TEXT NOT NULL,
	report       JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_metrics_run_id ON run_metrics(run_id);
CREATE INDEX IF NOT EXISTS idx_diversity_metrics_created_at ON diversity_metrics(created_at DESC);
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

// --- Runs and modules ---

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusQueued
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, subject_org_id, comparison_org_id, status, reused_from_run_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.SubjectOrgID, run.ComparisonOrgID, string(run.Status), run.ReusedFromRunID, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_org_id, comparison_org_id, status, reused_from_run_id, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.SubjectOrgID, &r.ComparisonOrgID, &r.Status, &r.ReusedFromRunID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, subject_org_id, comparison_org_id, status, reused_from_run_id, created_at, updated_at FROM runs WHERE true`
	var args []any
	argN := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argN)
		args = append(args, string(filter.Status))
		argN++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argN)
	args = append(args, limit)
	argN++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.SubjectOrgID, &r.ComparisonOrgID, &r.Status, &r.ReusedFromRunID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) SaveModule(ctx context.Context, m model.AnalysisModule) error {
	urls, err := json.Marshal(m.CitationURLs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal citation urls")
	}
	var payload *string
	if m.Payload != nil {
		p := string(m.Payload)
		payload = &p
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_modules (run_id, code, status, payload, citation_urls, failure_reason, input_tokens, output_tokens, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (run_id, code) DO UPDATE SET
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			citation_urls = EXCLUDED.citation_urls,
			failure_reason = EXCLUDED.failure_reason,
			input_tokens = EXCLUDED.input_tokens,
			output_tokens = EXCLUDED.output_tokens,
			duration_ms = EXCLUDED.duration_ms`,
		m.RunID, m.Code, string(m.Status), payload, urls,
		m.FailureReason, m.InputTokens, m.OutputTokens, m.DurationMs,
	)
	return eris.Wrapf(err, "postgres: save module %s/%s", m.RunID, m.Code)
}

func (s *PostgresStore) ListModules(ctx context.Context, runID string) ([]model.AnalysisModule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, code, status, payload, citation_urls, failure_reason, input_tokens, output_tokens, duration_ms FROM analysis_modules WHERE run_id = $1 ORDER BY code`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list modules %s", runID)
	}
	defer rows.Close()

	var out []model.AnalysisModule
	for rows.Next() {
		var m model.AnalysisModule
		var payload *string
		var urls []byte
		if err := rows.Scan(&m.RunID, &m.Code, &m.Status, &payload, &urls,
			&m.FailureReason, &m.InputTokens, &m.OutputTokens, &m.DurationMs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan module")
		}
		if payload != nil {
			m.Payload = []byte(*payload)
		}
		if len(urls) > 0 {
			if err := json.Unmarshal(urls, &m.CitationURLs); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal citation urls")
			}
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list modules iterate")
}

// --- Organizations ---

func (s *PostgresStore) SaveOrganization(ctx context.Context, org model.Organization) error {
	meta, err := json.Marshal(org.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal organization metadata")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, sector, website, ticker, metadata, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			sector = EXCLUDED.sector,
			website = EXCLUDED.website,
			ticker = EXCLUDED.ticker,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		org.ID, org.Name, org.Sector, org.Website, org.Ticker, meta, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save organization %s", org.ID)
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	var meta []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, sector, website, ticker, metadata FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.Sector, &org.Website, &org.Ticker, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: organization %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get organization %s", id)
	}
	if len(meta) > 0 && string(meta) != "null" {
		if err := json.Unmarshal(meta, &org.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal organization metadata")
		}
	}
	return &org, nil
}

// --- Bundle cache ---

func (s *PostgresStore) GetBundle(ctx context.Context, runID string) (*model.SynthesisBundle, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT bundle FROM synthesis_bundles WHERE run_id = $1`, runID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get bundle %s", runID)
	}
	var b model.SynthesisBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal bundle")
	}
	return &b, nil
}

func (s *PostgresStore) SaveBundle(ctx context.Context, bundle *model.SynthesisBundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal bundle")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO synthesis_bundles (run_id, bundle, generated_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id) DO UPDATE SET
			bundle = EXCLUDED.bundle,
			generated_at = EXCLUDED.generated_at,
			updated_at = EXCLUDED.updated_at`,
		bundle.RunID, raw, bundle.GeneratedAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save bundle %s", bundle.RunID)
}

// --- Artifacts ---

func (s *PostgresStore) SaveArtifact(ctx context.Context, runID, phase, name string, payload []byte, persistent bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (run_id, name, phase, payload, persistent, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id, name) DO UPDATE SET
			phase = EXCLUDED.phase,
			payload = EXCLUDED.payload,
			persistent = EXCLUDED.persistent,
			created_at = EXCLUDED.created_at`,
		runID, name, phase, payload, persistent, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save artifact %s/%s", runID, name)
}

func (s *PostgresStore) LoadArtifact(ctx context.Context, runID, name string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM artifacts WHERE run_id = $1 AND name = $2`, runID, name,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return payload, eris.Wrapf(err, "postgres: load artifact %s/%s", runID, name)
}

// --- Telemetry ---

func (s *PostgresStore) ResetPhases(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM phase_logs WHERE run_id = $1`, runID)
	return eris.Wrapf(err, "postgres: reset phases %s", runID)
}

func (s *PostgresStore) LogPhaseStart(ctx context.Context, runID, phase string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO phase_logs (run_id, phase, status, record, started_at, duration_ms) VALUES ($1, $2, 'running', NULL, $3, 0)
		 ON CONFLICT (run_id, phase) DO UPDATE SET
			status = 'running',
			record = NULL,
			started_at = EXCLUDED.started_at,
			duration_ms = 0`,
		runID, phase, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: log phase start %s/%s", runID, phase)
}

func (s *PostgresStore) LogPhaseEnd(ctx context.Context, runID string, rec model.PhaseRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO phase_logs (run_id, phase, status, record, started_at, duration_ms) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id, phase) DO UPDATE SET
			status = EXCLUDED.status,
			record = EXCLUDED.record,
			duration_ms = EXCLUDED.duration_ms`,
		runID, rec.Name, string(rec.Status), raw, rec.StartedAt.UTC(), rec.DurationMs,
	)
	return eris.Wrapf(err, "postgres: log phase end %s/%s", runID, rec.Name)
}

func (s *PostgresStore) ListPhaseRecords(ctx context.Context, runID string) ([]model.PhaseRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT phase, status, record, started_at, duration_ms FROM phase_logs WHERE run_id = $1 ORDER BY started_at, phase`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list phases %s", runID)
	}
	defer rows.Close()

	var out []model.PhaseRecord
	for rows.Next() {
		var name, status string
		var raw []byte
		var startedAt time.Time
		var durationMs int64
		if err := rows.Scan(&name, &status, &raw, &startedAt, &durationMs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan phase")
		}
		rec, err := decodePhaseRecord(name, status, string(raw), startedAt, durationMs)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal phase record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list phases iterate")
}

func (s *PostgresStore) LogMetric(ctx context.Context, runID, key string, value float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_metrics (run_id, key, value, recorded_at) VALUES ($1, $2, $3, $4)`,
		runID, key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: log metric %s", key)
}

func (s *PostgresStore) ListMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM run_metrics WHERE run_id = $1 ORDER BY id`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list metrics %s", runID)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		out[key] = value
	}
	return out, eris.Wrap(rows.Err(), "postgres: list metrics iterate")
}

// --- Diversity metrics ---

func (s *PostgresStore) SaveDiversityRecord(ctx context.Context, rec model.DiversityRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal diversity record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO diversity_metrics (run_id, record, created_at) VALUES ($1, $2, $3)`,
		rec.RunID, raw, rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save diversity record %s", rec.RunID)
}

func (s *PostgresStore) RecentDiversityRecords(ctx context.Context, limit int) ([]model.DiversityRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM diversity_metrics ORDER BY created_at DESC, id DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent diversity records")
	}
	defer rows.Close()

	var out []model.DiversityRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan diversity record")
		}
		var rec model.DiversityRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal diversity record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: recent diversity records iterate")
}

// --- Diagnostics ---

func (s *PostgresStore) SaveDiagnostics(ctx context.Context, report *model.DiagnosticsReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal diagnostics")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO diagnostics_reports (run_id, health, report, generated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id) DO UPDATE SET
			health = EXCLUDED.health,
			report = EXCLUDED.report,
			generated_at = EXCLUDED.generated_at`,
		report.RunID, string(report.Health), raw, report.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save diagnostics %s", report.RunID)
}

func (s *PostgresStore) GetDiagnostics(ctx context.Context, runID string) (*model.DiagnosticsReport, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM diagnostics_reports WHERE run_id = $1`, runID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get diagnostics %s", runID)
	}
	var report model.DiagnosticsReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal diagnostics")
	}
	return &report, nil
}
