package watch

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"coaching_framework/internal/batch"
	"coaching_framework/internal/config"
)

// Watcher monitors the input directory for new recording files and starts a
// single-session batch for each one.
type Watcher struct {
	cfg  config.Config
	orch *batch.Orchestrator
}

func New(cfg config.Config, orch *batch.Orchestrator) *Watcher {
	return &Watcher{cfg: cfg, orch: orch}
}

func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.EnableWatcher {
		log.Println("watcher disabled")
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-watcher.Events:
				if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && isRecording(evt.Name) {
					w.ingest(ctx, evt.Name)
				}
			case err := <-watcher.Errors:
				log.Printf("watcher error: %v", err)
			}
		}
	}()
	return watcher.Add(w.cfg.InputDir)
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	jobID, err := w.orch.Start(ctx, "watch", []batch.SessionInput{{Path: path}})
	if err != nil {
		log.Printf("watch: could not start session for %s: %v", path, err)
		return
	}
	log.Printf("watch: started job %s for %s", jobID, filepath.Base(path))
}

func isRecording(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Backfill starts sessions for recording files already present in the input
// directory, one batch covering them all.
func (w *Watcher) Backfill(ctx context.Context) error {
	entries, err := filepath.Glob(filepath.Join(w.cfg.InputDir, "*"))
	if err != nil {
		return err
	}
	var inputs []batch.SessionInput
	for _, e := range entries {
		if isRecording(e) {
			inputs = append(inputs, batch.SessionInput{Path: e})
		}
	}
	if len(inputs) == 0 {
		return nil
	}
	jobID, err := w.orch.Start(ctx, "backfill", inputs)
	if err != nil {
		return err
	}
	log.Printf("watch: backfill job %s covers %d files", jobID, len(inputs))
	return nil
}
