package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/monitoring"
	"github.com/benediktbwimmer/job-search/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run history",
	Long:  "Commands for listing, viewing, and summarizing pipeline runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline runs",
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

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: status,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		// The stored summary blob is the richer record when present.
		if run.SummaryJSON != "" {
			var summary model.RunSummary
			if err := json.Unmarshal([]byte(run.SummaryJSON), &summary); err == nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs events --

var runsEventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Show per-source fetch events for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		events, err := st.ListRunEvents(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs events")
		}

		if len(events) == 0 {
			fmt.Fprintln(os.Stderr, "No events found.")
			return nil
		}

		formatRunEvents(os.Stdout, events)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
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

		lookback, _ := cmd.Flags().GetInt("lookback")
		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, success, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsStatsCmd.Flags().Int("lookback", 20, "number of recent runs to aggregate")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsEventsCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.PipelineRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tJOBS\tA/B/C\tCACHE\tLIVE\tSRC_ERR")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t--------\t----\t-----\t-----\t----\t-------")

	for _, r := range runs {
		started := r.StartedAt
		if t, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
			started = t.Format("2006-01-02 15:04")
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d/%d/%d\t%d\t%d\t%d\n",
			truncateID(r.RunID),
			r.Status,
			started,
			(time.Duration(r.DurationMS) * time.Millisecond).Round(time.Second),
			r.TotalJobs,
			r.ATier, r.BTier, r.CTier,
			r.LLMCacheHits,
			r.LLMScoredLive,
			r.SourceErrors,
		)
	}
	_ = w.Flush()
}

// formatRunEvents writes a tabular list of fetch events to w.
func formatRunEvents(out io.Writer, events []model.SourceFetchEvent) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tKIND\tOK\tATTEMPTS\tJOBS\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "------\t----\t--\t--------\t----\t--------\t-----")

	for _, e := range events {
		ok := "yes"
		if !e.Success {
			ok = "no"
		}
		errMsg := e.ErrorMessage
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			e.SourceName,
			e.SourceKind,
			ok,
			e.Attempts,
			e.JobsFetched,
			(time.Duration(e.DurationMS) * time.Millisecond).Round(time.Millisecond),
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes an aggregate snapshot to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs (last %d):\t%d\n", s.LookbackRuns, s.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Success:\t%d\n", s.RunsSuccess)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "  Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Jobs ranked:\t%d\n", s.TotalJobs)
	_, _ = fmt.Fprintf(w, "Cache hits:\t%d\n", s.CacheHits)
	_, _ = fmt.Fprintf(w, "Scored live:\t%d\n", s.ScoredLive)
	_, _ = fmt.Fprintf(w, "LLM failures:\t%d\n", s.LLMFailed)
	_, _ = fmt.Fprintf(w, "Source errors:\t%d\n", s.SourceErrors)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
