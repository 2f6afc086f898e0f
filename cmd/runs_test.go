package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/monitoring"
)

func TestFormatRunsList(t *testing.T) {
	runs := []model.PipelineRun{
		{
			RunID:         "abc12345-6789-0000-0000-000000000000",
			Status:        model.RunStatusSuccess,
			StartedAt:     "2026-08-30T10:30:00Z",
			DurationMS:    95000,
			TotalJobs:     42,
			ATier:         7,
			BTier:         20,
			CTier:         15,
			LLMCacheHits:  30,
			LLMScoredLive: 12,
		},
		{
			RunID:        "def12345-6789-0000-0000-000000000000",
			Status:       model.RunStatusFailed,
			StartedAt:    "2026-08-29T06:00:00Z",
			SourceErrors: 2,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "success")
	assert.Contains(t, output, "2026-08-30 10:30")
	assert.Contains(t, output, "7/20/15")
	assert.Contains(t, output, "1m35s")
	assert.Contains(t, output, "def12345")
	assert.Contains(t, output, "failed")
}

func TestFormatRunEvents(t *testing.T) {
	events := []model.SourceFetchEvent{
		{
			SourceName:  "remote-ok",
			SourceKind:  "rss",
			Success:     true,
			Attempts:    1,
			JobsFetched: 18,
			DurationMS:  420,
		},
		{
			SourceName:   "broken-board",
			SourceKind:   "greenhouse",
			Success:      false,
			Attempts:     3,
			ErrorMessage: "fetch broken-board: HTTP 502 (after 3 attempts)",
		},
	}

	var buf bytes.Buffer
	formatRunEvents(&buf, events)

	output := buf.String()
	assert.Contains(t, output, "remote-ok")
	assert.Contains(t, output, "yes")
	assert.Contains(t, output, "broken-board")
	assert.Contains(t, output, "no")
	assert.Contains(t, output, "HTTP 502")
}

func TestFormatRunStats(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		RunsTotal:    10,
		RunsSuccess:  8,
		RunsFailed:   2,
		FailRate:     0.2,
		TotalJobs:    340,
		CacheHits:    290,
		ScoredLive:   50,
		LookbackRuns: 20,
	}

	var buf bytes.Buffer
	formatRunStats(&buf, snap)

	output := buf.String()
	assert.Contains(t, output, "Runs (last 20):")
	assert.Contains(t, output, "20.0%")
	assert.Contains(t, output, "340")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
