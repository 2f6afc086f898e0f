package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/benediktbwimmer/job-search/internal/eval"
	"github.com/benediktbwimmer/job-search/internal/monitoring"
	"github.com/benediktbwimmer/job-search/internal/pipeline"
	"github.com/benediktbwimmer/job-search/internal/source"
	anthropicpkg "github.com/benediktbwimmer/job-search/pkg/anthropic"
)

var (
	runSourcesPath string
	runNoLLM       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full ingestion and ranking pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runNoLLM {
			cfg.LLM.Enabled = false
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		sourcesPath := cfg.Sources.Path
		if runSourcesPath != "" {
			sourcesPath = runSourcesPath
		}
		sources, err := source.LoadSources(sourcesPath)
		if err != nil {
			return eris.Wrap(err, "load sources")
		}

		client := source.NewClient(source.ClientOptions{
			UserAgent: cfg.Sources.UserAgent,
			Timeout:   time.Duration(cfg.Sources.TimeoutSecs) * time.Second,
			HostRate:  rate.Limit(cfg.Sources.HostRate),
			HostBurst: cfg.Sources.HostBurst,
		})
		fetcher := source.NewFetcher(client)
		enricher := source.NewEnricher(client, source.EnrichOptions{
			Concurrency: cfg.Enrich.Concurrency,
			JitterMin:   time.Duration(cfg.Enrich.JitterMinMS) * time.Millisecond,
			JitterMax:   time.Duration(cfg.Enrich.JitterMaxMS) * time.Millisecond,
		})

		var evaluator eval.Evaluator
		if cfg.LLM.Enabled {
			anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key, cfg.Anthropic.MaxRetries)
			evaluator = eval.NewLLMEvaluator(anthropicClient, eval.EvaluatorOptions{
				Model:                    cfg.LLM.Model,
				PromptVersion:            cfg.LLM.PromptVersion,
				MaxTokens:                int64(cfg.LLM.MaxTokens),
				DescriptionMaxChars:      cfg.LLM.DescriptionMaxChars,
				InputDescriptionMaxChars: cfg.LLM.InputDescriptionMaxChars,
				CallsPerSecond:           cfg.LLM.CallsPerSecond,
			}, cfg.Profile, cfg.Constraints)
		} else {
			zap.L().Info("llm evaluation disabled, scoring by rules only")
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)

		p := pipeline.New(cfg, st, fetcher, enricher, evaluator, alerter)
		summary, err := p.Run(ctx, sources)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runSourcesPath, "sources", "", "path to the sources YAML (overrides config)")
	runCmd.Flags().BoolVar(&runNoLLM, "no-llm", false, "skip LLM evaluation and score by rules only")
	rootCmd.AddCommand(runCmd)
}
