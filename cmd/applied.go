package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/benediktbwimmer/job-search/internal/model"
)

var appliedCmd = &cobra.Command{
	Use:   "applied",
	Short: "Manage the applications ledger",
	Long:  "Jobs recorded here are excluded from future ranking runs by URL.",
}

var appliedAddCmd = &cobra.Command{
	Use:   "add <job-url>",
	Short: "Record an application",
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

		title, _ := cmd.Flags().GetString("title")
		company, _ := cmd.Flags().GetString("company")
		status, _ := cmd.Flags().GetString("status")
		notes, _ := cmd.Flags().GetString("notes")

		app := model.Application{
			JobURL:    args[0],
			Title:     title,
			Company:   company,
			Status:    status,
			Notes:     notes,
			AppliedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := st.UpsertApplication(ctx, app); err != nil {
			return eris.Wrap(err, "record application")
		}

		fmt.Fprintln(os.Stderr, "Recorded.")
		return nil
	},
}

var appliedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List applied-to job URLs",
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

		urls, err := st.ListAppliedURLs(ctx)
		if err != nil {
			return eris.Wrap(err, "list applications")
		}

		if len(urls) == 0 {
			fmt.Fprintln(os.Stderr, "No applications recorded.")
			return nil
		}
		for _, u := range urls {
			fmt.Println(u)
		}
		return nil
	},
}

func init() {
	appliedAddCmd.Flags().String("title", "", "job title")
	appliedAddCmd.Flags().String("company", "", "company name")
	appliedAddCmd.Flags().String("status", "applied", "application status")
	appliedAddCmd.Flags().String("notes", "", "free-form notes")

	appliedCmd.AddCommand(appliedAddCmd)
	appliedCmd.AddCommand(appliedListCmd)
	rootCmd.AddCommand(appliedCmd)
}
