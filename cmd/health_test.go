package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/benediktbwimmer/job-search/internal/model"
)

func TestFormatSourceHealth(t *testing.T) {
	healths := []model.SourceHealth{
		{
			SourceName:  "remote-ok",
			SuccessRate: 1.0,
			TotalEvents: 12,
			HealthScore: 100,
		},
		{
			SourceName:   "flaky-feed",
			SuccessRate:  0.25,
			Stale:        true,
			TotalEvents:  8,
			FailedEvents: 6,
			HealthScore:  19,
		},
	}

	var buf bytes.Buffer
	formatSourceHealth(&buf, healths, 25)

	output := buf.String()
	assert.Contains(t, output, "remote-ok")
	assert.Contains(t, output, "100%")
	assert.Contains(t, output, "ok")
	assert.Contains(t, output, "flaky-feed")
	assert.Contains(t, output, "degraded")
	assert.Contains(t, output, "yes")
}
