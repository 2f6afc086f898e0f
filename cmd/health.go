package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benediktbwimmer/job-search/internal/health"
	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/monitoring"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show source health derived from recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		window, _ := cmd.Flags().GetInt("window")
		if window <= 0 {
			window = cfg.Health.WindowRuns
		}

		stats, err := st.GetSourceStats(ctx, window)
		if err != nil {
			return eris.Wrap(err, "source stats")
		}

		if len(stats) == 0 {
			fmt.Fprintln(os.Stderr, "No fetch events recorded yet.")
			return nil
		}

		staleAfter := time.Duration(cfg.Health.StaleAfterHours) * time.Hour
		now := time.Now().UTC()
		healths := make([]model.SourceHealth, 0, len(stats))
		for _, s := range stats {
			healths = append(healths, health.Compute(s, staleAfter, now))
		}

		formatSourceHealth(os.Stdout, healths, cfg.Health.DegradedThreshold)

		if notify, _ := cmd.Flags().GetBool("notify"); notify {
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			alerts := alerter.SourceAlerts(healths)

			snap, err := monitoring.NewCollector(st).Collect(ctx, cfg.Monitoring.LookbackRuns)
			if err != nil {
				zap.L().Warn("run metrics unavailable", zap.Error(err))
			} else {
				alerts = append(alerts, alerter.Evaluate(snap)...)
			}

			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(os.Stderr, "%d alert(s), %d delivered\n", len(alerts), sent)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().Int("window", 0, "run window for health scoring (defaults to config)")
	healthCmd.Flags().Bool("notify", false, "send webhook alerts for degraded or stale sources")
	rootCmd.AddCommand(healthCmd)
}

// formatSourceHealth writes a per-source health table to w.
func formatSourceHealth(out io.Writer, healths []model.SourceHealth, degradedThreshold int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSCORE\tSUCCESS\tEVENTS\tFAILED\tSTALE\tSTATE")
	_, _ = fmt.Fprintln(w, "------\t-----\t-------\t------\t------\t-----\t-----")

	for _, h := range healths {
		stale := ""
		if h.Stale {
			stale = "yes"
		}
		state := "ok"
		if h.HealthScore <= degradedThreshold {
			state = "degraded"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%d\t%d\t%s\t%s\n",
			h.SourceName,
			h.HealthScore,
			h.SuccessRate*100,
			h.TotalEvents,
			h.FailedEvents,
			stale,
			state,
		)
	}
	_ = w.Flush()
}
