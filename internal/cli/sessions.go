package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"coaching_framework/internal/store"
)

var (
	sessionsStatus string
	sessionsLimit  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List analysis sessions, or show one session's detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showSession(cmd, args[0])
		}

		query := url.Values{}
		if sessionsStatus != "" {
			query.Set("status", sessionsStatus)
		}
		if sessionsLimit > 0 {
			query.Set("limit", fmt.Sprint(sessionsLimit))
		}
		path := "/api/sessions"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		var sessions []store.Session
		if err := apiCall("GET", path, nil, &sessions); err != nil {
			return err
		}
		if len(sessions) == 0 {
			cmd.Println("no sessions")
			return nil
		}
		for _, sess := range sessions {
			cmd.Printf("%s  %-10s %3d/%3d windows  %s\n",
				sess.ID, sess.Status, sess.CompletedWindows, sess.TotalWindows, sess.Name)
		}
		return nil
	},
}

func showSession(cmd *cobra.Command, id string) error {
	var sess store.Session
	if err := apiCall("GET", "/api/sessions/"+id, nil, &sess); err != nil {
		return err
	}
	cmd.Printf("Session:  %s (%s)\n", sess.Name, sess.ID)
	cmd.Printf("Status:   %s\n", sess.Status)
	cmd.Printf("Windows:  %d/%d completed\n", sess.CompletedWindows, sess.TotalWindows)
	cmd.Printf("Input:    %s\n", sess.InputSource)

	var recs []store.Recommendation
	if err := apiCall("GET", "/api/sessions/"+id+"/recommendations", nil, &recs); err != nil {
		return err
	}
	if len(recs) == 0 {
		cmd.Println("No recommendations.")
		return nil
	}
	cmd.Printf("\nRecommendations (%d):\n", len(recs))
	for _, rec := range recs {
		cmd.Printf("  [window %d, %s, %.1f] %s\n", rec.WindowNumber, rec.Category, rec.Confidence, rec.Text)
		if rec.Impact != "" {
			cmd.Printf("      impact: %s\n", rec.Impact)
		}
	}
	return nil
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by session status")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 0, "maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}
