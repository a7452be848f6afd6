package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"coaching_framework/internal/store"
	"coaching_framework/internal/windows"
)

const (
	maxPromptTools           = 10
	maxPromptPatterns        = 5
	maxPromptRecommendations = 5
)

// Aggregator builds rolling analysis context from persisted window digests
// and writes each window's digest and recommendations back once its analysis
// lands. Lookback bounds how many prior windows feed the context.
type Aggregator struct {
	store    *store.Store
	lookback int
}

func NewAggregator(st *store.Store, lookback int) *Aggregator {
	if lookback < 0 {
		lookback = 0
	}
	return &Aggregator{store: st, lookback: lookback}
}

// BuildContext renders the analysis prompt fragment for one window: prior
// digests within the lookback horizon, deduplicated, plus the current
// window's own activity summary. The first window of a session carries no
// previous-context section.
func (a *Aggregator) BuildContext(ctx context.Context, sessionID string, windowNumber int, win windows.Window) (string, error) {
	digests, err := a.priorDigests(ctx, sessionID, windowNumber)
	if err != nil {
		return "", fmt.Errorf("load prior digests: %w", err)
	}
	return renderContextPrompt(digests, extractWindowContext(win), windowNumber), nil
}

// SaveWindowContext extracts recommendations from the raw analysis text,
// builds the window's digest, and persists both. Called only after a window
// completes; a failed window contributes nothing to later context.
func (a *Aggregator) SaveWindowContext(ctx context.Context, sessionID string, windowNumber int, win windows.Window, analysisText string) ([]Recommendation, error) {
	recs := ExtractRecommendations(analysisText)
	digest := buildDigest(extractWindowContext(win), recs)

	digestJSON, err := json.Marshal(digest)
	if err != nil {
		return nil, fmt.Errorf("marshal digest: %w", err)
	}
	if err := a.store.SaveDigest(ctx, sessionID, windowNumber, string(digestJSON)); err != nil {
		return nil, fmt.Errorf("save digest: %w", err)
	}

	stored := make([]store.Recommendation, 0, len(recs))
	for i, rec := range recs {
		stepsJSON := ""
		if len(rec.Steps) > 0 {
			if buf, err := json.Marshal(rec.Steps); err == nil {
				stepsJSON = string(buf)
			}
		}
		stored = append(stored, store.Recommendation{
			ID:           fmt.Sprintf("%s_rec_%d_%d", sessionID, windowNumber, i),
			SessionID:    sessionID,
			WindowNumber: windowNumber,
			Text:         rec.Text,
			Category:     rec.Category,
			Confidence:   rec.Confidence,
			StepsJSON:    stepsJSON,
			Impact:       rec.Impact,
		})
	}
	if err := a.store.SaveRecommendations(ctx, stored); err != nil {
		return nil, fmt.Errorf("save recommendations: %w", err)
	}
	log.Printf("coach: saved digest and %d recommendations for session %s window %d", len(recs), sessionID, windowNumber)
	return recs, nil
}

func (a *Aggregator) priorDigests(ctx context.Context, sessionID string, windowNumber int) ([]Digest, error) {
	raw, err := a.store.DigestsBefore(ctx, sessionID, windowNumber, a.lookback)
	if err != nil {
		return nil, err
	}
	out := make([]Digest, 0, len(raw))
	for _, blob := range raw {
		var d Digest
		if err := json.Unmarshal([]byte(blob), &d); err != nil {
			log.Printf("coach: skipping unreadable digest for session %s: %v", sessionID, err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func renderContextPrompt(digests []Digest, wc windowContext, windowNumber int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**ANALYSIS CONTEXT FOR WINDOW %d**\n", windowNumber)

	if len(digests) > 0 {
		tools := newOrderedSet()
		patterns := newOrderedSet()
		priorRecs := newOrderedSet()
		for _, d := range digests {
			tools.addAll(d.ApplicationsUsed)
			patterns.add(d.WorkflowDescription)
			priorRecs.addAll(d.RecommendationsEmitted)
		}

		b.WriteString("\n**PREVIOUS WORKFLOW CONTEXT:**\n")
		if items := tools.values(); len(items) > 0 {
			fmt.Fprintf(&b, "Tools previously used: %s\n", strings.Join(capSlice(items, maxPromptTools), ", "))
		}
		if items := patterns.values(); len(items) > 0 {
			fmt.Fprintf(&b, "Workflow patterns observed: %s\n", strings.Join(capSlice(items, maxPromptPatterns), "; "))
		}
		if items := priorRecs.values(); len(items) > 0 {
			b.WriteString("Previous recommendations made:\n")
			for i, rec := range capSlice(items, maxPromptRecommendations) {
				fmt.Fprintf(&b, "  %d. %s\n", i+1, rec)
			}
			b.WriteString("\n**IMPORTANT**: Avoid repeating these recommendations unless significant new context warrants re-emphasis.\n")
		}
	}

	fmt.Fprintf(&b, "\n**CURRENT WINDOW ANALYSIS (%s):**\n", wc.timeRange)
	fmt.Fprintf(&b, "Applications in use: %s\n", joinOrNone(wc.applications))
	fmt.Fprintf(&b, "User actions: %s\n", joinOrNone(wc.userActions))
	fmt.Fprintf(&b, "Workflow: %s\n", orDefault(wc.workflow, "No description available"))

	b.WriteString(`
**ANALYSIS INSTRUCTIONS:**
1. Build upon the previous context without repeating already-made recommendations
2. Focus on NEW inefficiencies or optimization opportunities specific to this window
3. Consider how current activities relate to the broader workflow patterns
4. Prioritize recommendations that haven't been suggested before
5. If you identify the same issue again, provide a different solution or deeper analysis
`)
	return b.String()
}

func capSlice(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
