package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"coaching_framework/internal/batch"
	"coaching_framework/internal/config"
	"coaching_framework/internal/frames"
	"coaching_framework/internal/metrics"
	"coaching_framework/internal/store"
	"coaching_framework/internal/windows"
)

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	cfg   config.Config
	store *store.Store
	orch  *batch.Orchestrator
}

func NewRouter(cfg config.Config, st *store.Store, orch *batch.Orchestrator) *Router {
	return &Router{cfg: cfg, store: st, orch: orch}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ops/batches", r.batches)
	mux.HandleFunc("/ops/batches/", r.batchDetail)
	mux.HandleFunc("/ops/chunks", r.chunks)
	mux.HandleFunc("/api/sessions", r.sessions)
	mux.HandleFunc("/api/sessions/", r.sessionDetail)
	mux.HandleFunc("/ops/health", r.health)
	mux.HandleFunc("/ops/metrics", r.metrics)
}

// batches handles GET (list jobs) and POST (start a batch).
func (r *Router) batches(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		respondJSON(w, r.orch.Jobs())
	case http.MethodPost:
		var body struct {
			Name   string               `json:"name"`
			Inputs []batch.SessionInput `json:"inputs"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		jobID, err := r.orch.Start(req.Context(), body.Name, body.Inputs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		snap, err := r.orch.Progress(jobID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.Printf("write json: %v", err)
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// batchDetail handles /ops/batches/{id} and /ops/batches/{id}/cancel.
func (r *Router) batchDetail(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/ops/batches/")
	if id, ok := strings.CutSuffix(path, "/cancel"); ok {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.orch.Cancel(id); err != nil {
			status := http.StatusConflict
			if errors.Is(err, batch.ErrJobNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		respondJSON(w, map[string]any{"status": "cancelling"})
		return
	}
	snap, err := r.orch.Progress(path)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	respondJSON(w, snap)
}

type chunkSummary struct {
	Index      int     `json:"index"`
	TimeRange  string  `json:"time_range"`
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	FrameCount int     `json:"frame_count"`
}

// chunks previews how a recording splits into intervals anchored at its
// first observation, without starting a session.
func (r *Router) chunks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Path          string  `json:"path"`
		WindowSeconds float64 `json:"window_seconds"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.WindowSeconds <= 0 {
		body.WindowSeconds = r.cfg.Processing.WindowSeconds
	}
	obs, err := frames.Load(body.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wins, err := windows.Partition(obs, body.WindowSeconds, windows.AnchorFirstFrame)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := make([]chunkSummary, 0, len(wins))
	for _, win := range wins {
		out = append(out, chunkSummary{
			Index:      win.Index,
			TimeRange:  win.TimeRange(),
			Start:      win.Start,
			End:        win.End,
			FrameCount: len(win.Frames),
		})
	}
	respondJSON(w, out)
}

func (r *Router) sessions(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.store.ListSessions(req.Context(), req.URL.Query().Get("status"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

// sessionDetail handles /api/sessions/{id} plus the /windows and
// /recommendations sub-resources.
func (r *Router) sessionDetail(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/api/sessions/")
	if id, ok := strings.CutSuffix(path, "/windows"); ok {
		list, err := r.store.SessionWindows(req.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, list)
		return
	}
	if id, ok := strings.CutSuffix(path, "/recommendations"); ok {
		list, err := r.store.SessionRecommendations(req.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, list)
		return
	}
	sess, err := r.store.Session(req.Context(), path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, req)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, sess)
}

func (r *Router) metrics(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, metrics.Snapshot())
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write json: %v", err)
	}
}
