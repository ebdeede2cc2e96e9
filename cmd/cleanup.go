package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	cleanupDays   int
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete albums older than a number of days",
	RunE: func(cmd *cobra.Command, args []string) error {
		days := cleanupDays
		if !cmd.Flags().Changed("days") {
			days = cfg.RetentionDays
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.retention.Sweep(cmd.Context(), days, cleanupDryRun)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(report.Entries) == 0 {
			fmt.Fprintf(out, "No album older than %d days.\n", days)
			return nil
		}
		for _, e := range report.Entries {
			state := "deleted"
			switch {
			case report.DryRun:
				state = "would delete"
			case e.Error != "":
				state = e.Error
			}
			fmt.Fprintf(out, "%-14s #%d %q created %s (%d days, %s, %s)\n",
				state, e.AlbumID, e.Name, humanize.Time(e.Created), e.AgeDays, humanize.Bytes(uint64(e.SizeBytes)), e.Status)
		}
		fmt.Fprintln(out, report.Summary())
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 14, "delete albums created more than this many days ago (defaults to RETENTION_DAYS)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "only list what would be deleted")
	rootCmd.AddCommand(cleanupCmd)
}
