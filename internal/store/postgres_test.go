package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/synthesis-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, subject_org_id, comparison_org_id, status, reused_from_run_id, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("complete", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "run-1", model.RunStatusComplete)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBundle_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT bundle FROM synthesis_bundles`).
		WithArgs("run-1").
		WillReturnError(pgx.ErrNoRows)

	b, err := s.GetBundle(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBundle_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	raw, err := json.Marshal(model.SynthesisBundle{RunID: "run-1", Documents: map[string]string{"markdown": "# Report"}})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT bundle FROM synthesis_bundles`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"bundle"}).AddRow(raw))

	b, err := s.GetBundle(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "# Report", b.Documents["markdown"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveBundle(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO synthesis_bundles`).
		WithArgs("run-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveBundle(context.Background(), &model.SynthesisBundle{RunID: "run-1", GeneratedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveModule_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO analysis_modules`).
		WillReturnError(eris.New("connection refused"))

	err := s.SaveModule(context.Background(), model.AnalysisModule{RunID: "r", Code: "NB1", Status: model.ModuleStatusCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: save module r/NB1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LogMetric(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_metrics`).
		WithArgs("run-1", "diversity.rebalance_rejected", 1.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.LogMetric(context.Background(), "run-1", "diversity.rebalance_rejected", 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetPhases(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM phase_logs`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, s.ResetPhases(context.Background(), "run-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMetrics(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT key, value FROM run_metrics`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"key", "value"}).
			AddRow("citations.total", 4.0).
			AddRow("citations.total", 9.0))

	m, err := s.ListMetrics(context.Background(), "run-1")
	require.NoError(t, err)
	assert.InDelta(t, 9.0, m["citations.total"], 0.0001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDiagnostics_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT report FROM diagnostics_reports`).
		WithArgs("run-1").
		WillReturnError(pgx.ErrNoRows)

	r, err := s.GetDiagnostics(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecentDiversityRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	raw, err := json.Marshal(model.DiversityRecord{RunID: "run-9", Triggered: true})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT record FROM diversity_metrics ORDER BY created_at DESC`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(raw))

	recs, err := s.RecentDiversityRecords(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Triggered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS organizations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
