package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runCommand(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--server", server))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStatusListsJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ops/batches" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"job_id":"abc","status":"processing","total_sessions":4,"completed_sessions":1,"failed_sessions":0,"completion_percentage":25}]`))
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "abc") || !strings.Contains(out, "processing") {
		t.Fatalf("output = %q", out)
	}
}

func TestStatusEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "no jobs") {
		t.Fatalf("output = %q", out)
	}
}

func TestCancelPropagatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "job not found: nope", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := runCommand(t, srv.URL, "cancel", "nope"); err == nil {
		t.Fatal("expected error from 404 cancel")
	}
}

func TestSessionsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"s1","name":"nightly - rec","status":"completed","total_windows":3,"completed_windows":3}]`))
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, "nightly - rec") || !strings.Contains(out, "3/  3") {
		t.Fatalf("output = %q", out)
	}
}
