package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"coaching_framework/internal/batch"
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show batch job progress, or list all jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			var snap batch.Snapshot
			if err := apiCall("GET", "/ops/batches/"+args[0], nil, &snap); err != nil {
				return err
			}
			printSnapshot(cmd, snap)
			return nil
		}

		var jobs []batch.Snapshot
		if err := apiCall("GET", "/ops/batches", nil, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			cmd.Println("no jobs")
			return nil
		}
		for _, snap := range jobs {
			cmd.Printf("%s  %-22s %3.0f%%  %d/%d sessions\n",
				snap.JobID, snap.Status, snap.CompletionPercent,
				snap.CompletedSessions+snap.FailedSessions, snap.TotalSessions)
		}
		return nil
	},
}

func printSnapshot(cmd *cobra.Command, snap batch.Snapshot) {
	cmd.Printf("Job:        %s\n", snap.JobID)
	cmd.Printf("Status:     %s\n", snap.Status)
	cmd.Printf("Progress:   %.0f%% (%d completed, %d failed of %d)\n",
		snap.CompletionPercent, snap.CompletedSessions, snap.FailedSessions, snap.TotalSessions)
	if len(snap.ActiveSessions) > 0 {
		cmd.Printf("Active:     %s\n", strings.Join(snap.ActiveSessions, ", "))
	}
	cmd.Printf("Started:    %s\n", snap.StartedAt.Format("2006-01-02 15:04:05"))
	if snap.CompletedAt != nil {
		cmd.Printf("Finished:   %s\n", snap.CompletedAt.Format("2006-01-02 15:04:05"))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
