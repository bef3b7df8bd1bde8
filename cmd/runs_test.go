package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/synthesis-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:              "abc12345-6789-0000-0000-000000000000",
			SubjectOrgID:    "acme",
			ComparisonOrgID: "beacon",
			Status:          model.RunStatusComplete,
			CreatedAt:       now,
			UpdatedAt:       now.Add(2 * time.Minute),
		},
		{
			ID:           "def12345",
			SubjectOrgID: "delta",
			Status:       model.RunStatusDrafting,
			CreatedAt:    now.Add(-1 * time.Hour),
			UpdatedAt:    now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "SUBJECT")
	assert.Contains(t, output, "COMPARISON")
	assert.Contains(t, output, "acme")
	assert.Contains(t, output, "beacon")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "drafting")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "2m0s")
}

func TestFormatPhases(t *testing.T) {
	var buf bytes.Buffer
	formatPhases(&buf, []model.PhaseRecord{
		{Name: "normalization", Status: model.PhaseStatusSuccess, DurationMs: 4},
		{Name: "drafting", Status: model.PhaseStatusWarning, DurationMs: 31, Anomalies: []model.Anomaly{{Code: "low_section_yield"}}},
		{Name: "render", Status: model.PhaseStatusError, Error: "render: no sections"},
	})

	out := buf.String()
	assert.Contains(t, out, "PHASE")
	assert.Contains(t, out, "normalization")
	assert.Contains(t, out, "warning")
	assert.Contains(t, out, "render: no sections")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
