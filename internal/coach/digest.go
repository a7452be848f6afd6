package coach

import (
	"fmt"
	"strings"

	"coaching_framework/internal/windows"
)

// Digest is the compact carry-forward summary of one analyzed window. It is
// what later windows see of this one; raw frames and full analysis text stay
// behind in the store.
type Digest struct {
	ApplicationsUsed       []string `json:"applications_used"`
	ActionsPerformed       []string `json:"actions_performed"`
	RecommendationsEmitted []string `json:"recommendations_emitted"`
	WorkflowDescription    string   `json:"workflow_description"`
	TimeRange              string   `json:"time_range"`
}

// windowContext is the per-window material the prompt is rendered from.
type windowContext struct {
	applications []string
	userActions  []string
	uiElements   []string
	workflow     string
	timeRange    string
}

var actionKeywords = []string{"click", "type", "select", "navigate", "open"}

// extractWindowContext collapses a window's frames into deduplicated
// application/action/element sets plus a one-line workflow description.
func extractWindowContext(win windows.Window) windowContext {
	wc := windowContext{timeRange: win.TimeRange()}
	if len(win.Frames) == 0 {
		wc.workflow = "No activity in this window"
		return wc
	}

	apps := newOrderedSet()
	actions := newOrderedSet()
	elements := newOrderedSet()
	var steps []string

	for _, frame := range win.Frames {
		apps.add(frame.Application)
		for _, a := range frame.UserActions {
			actions.add(a)
		}
		for _, e := range frame.UIElements {
			elements.add(e)
		}
		if containsAnyKeyword(frame.Description, actionKeywords) {
			steps = append(steps, truncateRunes(frame.Description, 150))
		}
	}

	wc.applications = apps.values()
	wc.userActions = actions.values()
	wc.uiElements = elements.values()
	wc.workflow = describeWorkflow(wc.applications, wc.userActions, steps)
	return wc
}

// describeWorkflow names the first few applications and the single most
// detailed action step observed.
func describeWorkflow(applications, userActions, steps []string) string {
	if len(applications) == 0 && len(userActions) == 0 {
		return "No significant activity detected"
	}
	var parts []string
	if len(applications) > 0 {
		apps := strings.Join(applications[:min(3, len(applications))], ", ")
		if len(applications) > 3 {
			apps += fmt.Sprintf(" (and %d others)", len(applications)-3)
		}
		parts = append(parts, "User working in "+apps)
	}
	if len(steps) > 0 {
		key := steps[0]
		for _, s := range steps[1:] {
			if len(s) > len(key) {
				key = s
			}
		}
		parts = append(parts, "Key activity: "+key)
	}
	return strings.Join(parts, ". ")
}

// buildDigest records what a window contributed once its analysis is in.
func buildDigest(wc windowContext, recs []Recommendation) Digest {
	emitted := make([]string, 0, len(recs))
	for _, rec := range recs {
		emitted = append(emitted, rec.Text)
	}
	return Digest{
		ApplicationsUsed:       wc.applications,
		ActionsPerformed:       wc.userActions,
		RecommendationsEmitted: emitted,
		WorkflowDescription:    wc.workflow,
		TimeRange:              wc.timeRange,
	}
}

func containsAnyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}

// orderedSet deduplicates while preserving first-seen order, so prompts and
// digests are stable across runs.
type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}}
}

func (s *orderedSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" || s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

func (s *orderedSet) addAll(vs []string) {
	for _, v := range vs {
		s.add(v)
	}
}

func (s *orderedSet) values() []string { return s.items }
