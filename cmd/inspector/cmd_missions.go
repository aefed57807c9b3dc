package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/missionlog"
)

var missionsFlags struct {
	db string
}

var missionsCmd = &cobra.Command{
	Use:   "missions",
	Short: "List recorded mission runs",
	Long: `Missions lists every run recorded in the mission database, most recent
first, with its outcome and photo count. Runs without an end time were
interrupted before the record could be closed.`,
	Args: cobra.NoArgs,
	RunE: runMissions,
}

func init() {
	missionsCmd.Flags().StringVar(&missionsFlags.db, "db", "", "SQLite mission record path")
}

func runMissions(cmd *cobra.Command, args []string) error {
	if missionsFlags.db == "" {
		return fmt.Errorf("--db is required")
	}
	db, err := missionlog.Open(missionsFlags.db)
	if err != nil {
		return err
	}
	defer db.Close()

	sums, err := db.Summaries()
	if err != nil {
		return err
	}
	if len(sums) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSTATUS\tREASON\tPHOTOS")
	for _, s := range sums {
		dur := "-"
		if !s.EndedAt.IsZero() {
			dur = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		status := s.Status
		if status == "" {
			status = "interrupted"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), dur, status, s.Reason, s.Artifacts)
	}
	return tw.Flush()
}
