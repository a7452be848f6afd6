package cli

import (
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running batch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiCall("POST", "/ops/batches/"+args[0]+"/cancel", nil, nil); err != nil {
			return err
		}
		cmd.Printf("cancellation requested for %s\n", args[0])
		cmd.Println("in-flight windows finish; running sessions land in paused")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
