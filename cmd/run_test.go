package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benediktbwimmer/job-search/internal/config"
)

func TestRunRejectsMissingAnthropicKey(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	runCmd.SetContext(context.Background())

	cfg = &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "jobsearch.db"
	cfg.LLM.Enabled = true
	cfg.LLM.Model = "claude-sonnet-4-5"

	err := runCmd.RunE(runCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
}

func TestRunRejectsUnknownStoreDriver(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	runCmd.SetContext(context.Background())

	cfg = &config.Config{}
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = "jobsearch.db"

	err := runCmd.RunE(runCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}
