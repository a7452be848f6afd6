package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"coaching_framework/internal/batch"
)

var (
	runName string
	runWait bool
)

var runCmd = &cobra.Command{
	Use:   "run <file.json> [file.json...]",
	Short: "Start a batch analysis job over recording files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs := make([]batch.SessionInput, 0, len(args))
		for _, arg := range args {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			inputs = append(inputs, batch.SessionInput{Path: abs})
		}
		body, err := json.Marshal(map[string]any{"name": runName, "inputs": inputs})
		if err != nil {
			return err
		}

		var snap batch.Snapshot
		if err := apiCall("POST", "/ops/batches", bytes.NewReader(body), &snap); err != nil {
			return err
		}
		cmd.Printf("started job %s with %d sessions\n", snap.JobID, snap.TotalSessions)

		if !runWait {
			return nil
		}
		for {
			time.Sleep(2 * time.Second)
			if err := apiCall("GET", "/ops/batches/"+snap.JobID, nil, &snap); err != nil {
				return err
			}
			cmd.Printf("%s: %.0f%% (%d completed, %d failed)\n",
				snap.Status, snap.CompletionPercent, snap.CompletedSessions, snap.FailedSessions)
			if snap.CompletedAt != nil {
				break
			}
		}
		if snap.Status != batch.JobCompleted {
			return fmt.Errorf("job finished %s", snap.Status)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "batch name prefixed to session names")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "poll until the job finishes")
	rootCmd.AddCommand(runCmd)
}
