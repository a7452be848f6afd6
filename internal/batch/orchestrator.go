package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"coaching_framework/internal/analysis"
	"coaching_framework/internal/coach"
	"coaching_framework/internal/config"
	"coaching_framework/internal/events"
	"coaching_framework/internal/frames"
	"coaching_framework/internal/metrics"
	"coaching_framework/internal/store"
	"coaching_framework/internal/windows"
)

// Job statuses, in rough lifecycle order.
const (
	JobStarting            = "starting"
	JobProcessing          = "processing"
	JobCompleted           = "completed"
	JobCompletedWithErrors = "completed_with_errors"
	JobCancelled           = "cancelled"
)

var (
	ErrNoValidInputs = errors.New("no valid input files found")
	ErrJobNotFound   = errors.New("job not found")
	ErrJobFinished   = errors.New("job already finished")
)

// SessionInput names one frame-description file to analyze as a session.
type SessionInput struct {
	Name string `json:"name,omitempty"`
	Path string `json:"path"`
}

// Snapshot is a point-in-time view of a batch job's progress.
type Snapshot struct {
	JobID             string     `json:"job_id"`
	Status            string     `json:"status"`
	TotalSessions     int        `json:"total_sessions"`
	CompletedSessions int        `json:"completed_sessions"`
	FailedSessions    int        `json:"failed_sessions"`
	ActiveSessions    []string   `json:"active_sessions"`
	CompletionPercent float64    `json:"completion_percentage"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

type sessionResult struct {
	sessionID string
	outcome   string // session status the worker left the row in
}

type job struct {
	id        string
	startedAt time.Time
	cancelled atomic.Bool

	mu          sync.Mutex
	status      string
	total       int
	completed   int
	failed      int
	active      map[string]bool
	completedAt *time.Time
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	active := make([]string, 0, len(j.active))
	for id := range j.active {
		active = append(active, id)
	}
	sort.Strings(active)
	pct := 0.0
	if j.total > 0 {
		pct = float64(j.completed+j.failed) / float64(j.total) * 100
	}
	return Snapshot{
		JobID:             j.id,
		Status:            j.status,
		TotalSessions:     j.total,
		CompletedSessions: j.completed,
		FailedSessions:    j.failed,
		ActiveSessions:    active,
		CompletionPercent: pct,
		StartedAt:         j.startedAt,
		CompletedAt:       j.completedAt,
	}
}

func (j *job) setStatus(status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == JobCancelled && status != JobCancelled {
		return
	}
	j.status = status
}

// pendingSession pairs a pre-created session row with its input file.
type pendingSession struct {
	sessionID string
	input     SessionInput
}

// Orchestrator fans a batch of recording files out to concurrent session
// workers, bounded by a semaphore, and tracks per-job progress in memory.
// Session and window state lives in the store; jobs do not survive a restart.
type Orchestrator struct {
	store   *store.Store
	invoker *analysis.Invoker
	agg     *coach.Aggregator
	bus     *events.Bus
	cfg     config.Config

	mu   sync.Mutex
	jobs map[string]*job
}

func New(st *store.Store, invoker *analysis.Invoker, agg *coach.Aggregator, bus *events.Bus, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		store:   st,
		invoker: invoker,
		agg:     agg,
		bus:     bus,
		cfg:     cfg,
		jobs:    make(map[string]*job),
	}
}

// Start validates the inputs, pre-creates one session row per valid file,
// and launches background processing. Invalid files are dropped with a
// warning; if none survive, no job is created. Returns the job id.
func (o *Orchestrator) Start(ctx context.Context, batchName string, inputs []SessionInput) (string, error) {
	var valid []SessionInput
	for _, in := range inputs {
		if err := frames.Validate(in.Path); err != nil {
			log.Printf("batch: dropping invalid input %s: %v", in.Path, err)
			continue
		}
		valid = append(valid, in)
	}
	if len(valid) == 0 {
		return "", ErrNoValidInputs
	}

	jobID := uuid.New().String()
	j := &job{
		id:        jobID,
		startedAt: config.Now(),
		status:    JobStarting,
		total:     len(valid),
		active:    make(map[string]bool),
	}

	configJSON, _ := json.Marshal(map[string]any{
		"window_seconds":          o.cfg.Processing.WindowSeconds,
		"lookback_windows":        o.cfg.Processing.LookbackWindows,
		"max_retries":             o.cfg.Processing.MaxRetries,
		"max_concurrent_sessions": o.cfg.Processing.MaxConcurrentSessions,
		"model":                   o.cfg.Analysis.Model,
	})

	sessions := make([]pendingSession, 0, len(valid))
	for _, in := range valid {
		sessionID := uuid.New().String()
		name := in.Name
		if name == "" {
			name = fileStem(in.Path)
		}
		if batchName != "" {
			name = batchName + " - " + name
		}
		if err := o.store.CreateSession(ctx, sessionID, name, in.Path, string(configJSON), 0); err != nil {
			return "", fmt.Errorf("create session for %s: %w", in.Path, err)
		}
		sessions = append(sessions, pendingSession{sessionID: sessionID, input: in})
	}

	o.mu.Lock()
	o.jobs[jobID] = j
	o.mu.Unlock()

	metrics.IncBatchStarted()
	log.Printf("batch: starting job %s with %d sessions", jobID, len(sessions))
	// Processing outlives the caller's context (an HTTP request, typically);
	// jobs stop through Cancel, not through request cancellation.
	go o.run(context.WithoutCancel(ctx), j, sessions)
	return jobID, nil
}

// Cancel requests cooperative cancellation. Sessions notice between windows:
// in-flight analysis finishes, running sessions land in paused, sessions that
// never started keep their created row.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	j.mu.Lock()
	finished := j.completedAt != nil
	if !finished {
		j.status = JobCancelled
	}
	j.mu.Unlock()
	if finished {
		return fmt.Errorf("%w: %s", ErrJobFinished, jobID)
	}
	j.cancelled.Store(true)
	log.Printf("batch: cancellation requested for job %s", jobID)
	return nil
}

// Progress returns a snapshot of one job.
func (o *Orchestrator) Progress(jobID string) (Snapshot, error) {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return j.snapshot(), nil
}

// Jobs lists all known jobs, newest first.
func (o *Orchestrator) Jobs() []Snapshot {
	o.mu.Lock()
	out := make([]Snapshot, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j.snapshot())
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	return out
}

// run fans sessions out under the concurrency semaphore and collects results
// on a single channel so one goroutine owns the job counters.
func (o *Orchestrator) run(ctx context.Context, j *job, sessions []pendingSession) {
	j.setStatus(JobProcessing)

	sem := make(chan struct{}, o.cfg.Processing.MaxConcurrentSessions)
	results := make(chan sessionResult)

	for _, ps := range sessions {
		go func(ps pendingSession) {
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- o.processSession(ctx, j, ps)
		}(ps)
	}

	skipped := 0
	for range sessions {
		res := <-results
		j.mu.Lock()
		delete(j.active, res.sessionID)
		switch res.outcome {
		case store.SessionCompleted:
			j.completed++
		case store.SessionFailed:
			j.failed++
		default:
			// paused or never started; counts toward neither bucket
			skipped++
		}
		j.mu.Unlock()
	}

	final := JobCompleted
	j.mu.Lock()
	failed := j.failed
	if j.status == JobCancelled {
		final = JobCancelled
	} else if failed > 0 {
		final = JobCompletedWithErrors
	}
	j.status = final
	now := config.Now()
	j.completedAt = &now
	completed := j.completed
	j.mu.Unlock()

	o.bus.Publish(events.Event{Type: events.TypeBatchFinished, JobID: j.id, Detail: final})
	log.Printf("batch: job %s finished %s: %d completed, %d failed, %d skipped", j.id, final, completed, failed, skipped)
}

// processSession runs one session end to end: load, partition, then the
// sequential window loop. Window failures do not abort the session; the
// session fails only when no window completes.
func (o *Orchestrator) processSession(ctx context.Context, j *job, ps pendingSession) sessionResult {
	res := sessionResult{sessionID: ps.sessionID, outcome: store.SessionCreated}
	if j.cancelled.Load() || ctx.Err() != nil {
		return res
	}

	j.mu.Lock()
	j.active[ps.sessionID] = true
	j.mu.Unlock()
	o.bus.Publish(events.Event{Type: events.TypeSessionStarted, JobID: j.id, SessionID: ps.sessionID})

	outcome := o.runSessionWindows(ctx, j, ps)
	res.outcome = outcome

	switch outcome {
	case store.SessionCompleted:
		metrics.IncSessionCompleted()
	case store.SessionFailed:
		metrics.IncSessionFailed()
	}
	o.bus.Publish(events.Event{Type: events.TypeSessionFinished, JobID: j.id, SessionID: ps.sessionID, Detail: outcome})
	return res
}

func (o *Orchestrator) runSessionWindows(ctx context.Context, j *job, ps pendingSession) string {
	sessionID := ps.sessionID

	fail := func(err error) string {
		log.Printf("batch: session %s failed: %v", sessionID, err)
		if uerr := o.store.UpdateSessionStatus(ctx, sessionID, store.SessionFailed, -1); uerr != nil {
			log.Printf("batch: could not mark session %s failed: %v", sessionID, uerr)
		}
		return store.SessionFailed
	}

	if err := o.store.UpdateSessionStatus(ctx, sessionID, store.SessionProcessing, -1); err != nil {
		return fail(err)
	}

	obs, err := frames.Load(ps.input.Path)
	if err != nil {
		return fail(err)
	}
	wins, err := windows.Partition(obs, o.cfg.Processing.WindowSeconds, windows.AnchorZero)
	if err != nil {
		return fail(err)
	}
	if err := o.store.SetTotalWindows(ctx, sessionID, len(wins)); err != nil {
		return fail(err)
	}
	log.Printf("batch: session %s has %d windows", sessionID, len(wins))

	// All window rows exist before any analysis starts, so progress queries
	// see the full shape of the session immediately.
	for _, win := range wins {
		inputJSON, _ := json.Marshal(win)
		rec := store.WindowRecord{
			ID:           windowID(sessionID, win.Index+1),
			SessionID:    sessionID,
			WindowNumber: win.Index + 1,
			Status:       store.WindowPending,
			StartTime:    win.Start,
			EndTime:      win.End,
			InputJSON:    string(inputJSON),
		}
		if err := o.store.CreateWindow(ctx, rec); err != nil && !errors.Is(err, store.ErrConflict) {
			return fail(err)
		}
	}

	completed := 0
	for _, win := range wins {
		if j.cancelled.Load() || ctx.Err() != nil {
			if err := o.store.UpdateSessionStatus(ctx, sessionID, store.SessionPaused, completed); err != nil {
				log.Printf("batch: could not pause session %s: %v", sessionID, err)
			}
			return store.SessionPaused
		}
		if o.processWindow(ctx, sessionID, win) {
			completed++
		}
		if err := o.store.UpdateSessionStatus(ctx, sessionID, store.SessionProcessing, completed); err != nil {
			log.Printf("batch: progress update for session %s: %v", sessionID, err)
		}
	}

	final := store.SessionCompleted
	if completed == 0 {
		final = store.SessionFailed
	}
	if err := o.store.UpdateSessionStatus(ctx, sessionID, final, completed); err != nil {
		log.Printf("batch: final status for session %s: %v", sessionID, err)
	}
	log.Printf("batch: session %s %s: %d/%d windows", sessionID, final, completed, len(wins))
	return final
}

// processWindow runs one window through context building, analysis with
// retries, and persistence. Returns true when the window completed.
func (o *Orchestrator) processWindow(ctx context.Context, sessionID string, win windows.Window) bool {
	windowNumber := win.Index + 1
	id := windowID(sessionID, windowNumber)

	if err := o.store.UpdateWindowStatus(ctx, id, store.WindowProcessing, "", nil); err != nil {
		log.Printf("batch: window %s: %v", id, err)
	}

	failWindow := func(err error) bool {
		msg := truncateError(err, 240)
		if uerr := o.store.UpdateWindowStatus(ctx, id, store.WindowFailed, "", &msg); uerr != nil {
			log.Printf("batch: could not mark window %s failed: %v", id, uerr)
		}
		metrics.IncWindowFailed()
		o.bus.Publish(events.Event{Type: events.TypeWindowFailed, SessionID: sessionID, Window: windowNumber, Detail: msg})
		return false
	}

	prompt, err := o.agg.BuildContext(ctx, sessionID, windowNumber, win)
	if err != nil {
		return failWindow(err)
	}
	payload, _ := json.Marshal(win)

	result, err := o.invoker.Invoke(ctx, analysis.Request{
		ContextPrompt: prompt,
		WindowPayload: string(payload),
		Config:        o.cfg.Analysis,
	})
	if result.Attempts > 1 {
		metrics.AddAnalysisRetries(int64(result.Attempts - 1))
	}
	if err != nil {
		return failWindow(err)
	}

	outputJSON, _ := json.Marshal(result)
	if err := o.store.UpdateWindowStatus(ctx, id, store.WindowCompleted, string(outputJSON), nil); err != nil {
		return failWindow(err)
	}
	if _, err := o.agg.SaveWindowContext(ctx, sessionID, windowNumber, win, result.Content); err != nil {
		// The analysis itself succeeded; losing the digest only degrades
		// later context.
		log.Printf("batch: save context for window %s: %v", id, err)
	}
	metrics.IncWindowCompleted()
	o.bus.Publish(events.Event{Type: events.TypeWindowCompleted, SessionID: sessionID, Window: windowNumber})
	return true
}

func windowID(sessionID string, windowNumber int) string {
	return fmt.Sprintf("%s_window_%d", sessionID, windowNumber)
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func truncateError(err error, n int) string {
	msg := err.Error()
	if len(msg) > n {
		return msg[:n]
	}
	return msg
}
