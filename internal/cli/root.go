package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// serverURL is the base URL of a running coachd, set by the --server flag.
var serverURL string

var rootCmd = &cobra.Command{
	Use:   "coachctl",
	Short: "Control a running coaching analysis service",
	Long: `coachctl talks to the coachd ops API: start batch analysis jobs over
recording files, track their progress, cancel them, and inspect the
sessions they produced.`,
	SilenceUsage: true,
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	defaultServer := os.Getenv("COACHD_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8000"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "base URL of the coachd service")
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// apiCall performs one request against coachd and decodes the JSON reply
// into out (which may be nil for status-only calls).
func apiCall(method, path string, body io.Reader, out any) error {
	url := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s (%s)", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
