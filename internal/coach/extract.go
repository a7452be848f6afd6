package coach

import (
	"strconv"
	"strings"
)

// Recommendation is one structured suggestion pulled out of free-form
// analysis text.
type Recommendation struct {
	Text       string   `json:"text"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Steps      []string `json:"steps,omitempty"`
	Impact     string   `json:"impact,omitempty"`
}

const (
	maxRecommendationText = 500
	fallbackTextLimit     = 300
)

// ExtractRecommendations scans markdown-ish analysis output for
// "## Recommendation" / "### Recommendation" blocks. Header titles may carry
// an optional "(Score: x/y)" confidence; numbered lines inside a block become
// implementation steps and an "Impact:" line becomes the expected impact.
// Text with no recognizable structure collapses into a single low-confidence
// general recommendation. Never returns an error: malformed output degrades,
// it does not abort a window.
func ExtractRecommendations(text string) []Recommendation {
	var out []Recommendation
	var current *Recommendation

	flush := func() {
		if current != nil {
			out = append(out, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "### Recommendation") || strings.HasPrefix(line, "## Recommendation"):
			flush()
			title := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "### Recommendation"), "## Recommendation"))
			title, confidence := splitScore(title)
			current = &Recommendation{
				Text:       title,
				Category:   Categorize(title),
				Confidence: confidence,
			}
		case isNumberedStep(line):
			if current != nil {
				current.Steps = append(current.Steps, line)
			}
		case strings.Contains(line, "Expected Impact:") || strings.Contains(line, "Impact:"):
			if current != nil {
				if _, after, ok := strings.Cut(line, ":"); ok {
					current.Impact = strings.TrimSpace(after)
				}
			}
		case current != nil && line != "" && !strings.HasPrefix(line, "#"):
			if len(current.Text) < maxRecommendationText {
				current.Text += " " + line
			}
		}
	}
	flush()

	if len(out) == 0 && strings.TrimSpace(text) != "" {
		body := strings.TrimSpace(text)
		if len(body) > fallbackTextLimit {
			body = body[:fallbackTextLimit] + "..."
		}
		out = append(out, Recommendation{
			Text:       body,
			Category:   "general",
			Confidence: 0.5,
			Impact:     "Workflow optimization",
		})
	}
	return out
}

// splitScore parses an optional "(Score: x/y)" suffix off a header title
// into a confidence in [0, 1]: "x/y" divides by the denominator, a bare
// value is clamped. Missing or unparsable scores default to 0.8.
func splitScore(title string) (string, float64) {
	before, after, ok := strings.Cut(title, "(Score:")
	if !ok {
		return strings.TrimSpace(title), 0.8
	}
	scoreText := strings.TrimSpace(strings.ReplaceAll(after, ")", ""))
	numText, denText, hasDen := strings.Cut(scoreText, "/")
	score, err := strconv.ParseFloat(strings.TrimSpace(numText), 64)
	if err != nil {
		return strings.TrimSpace(before), 0.8
	}
	if hasDen {
		if den, err := strconv.ParseFloat(strings.TrimSpace(denText), 64); err == nil && den > 0 {
			score /= den
		}
	}
	return strings.TrimSpace(before), clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func isNumberedStep(line string) bool {
	return strings.HasPrefix(line, "1.") || strings.HasPrefix(line, "2.") || strings.HasPrefix(line, "3.")
}

// categoryKeywords are checked in priority order; the first bucket with a
// keyword hit wins.
var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{"shortcuts", []string{"shortcut", "keyboard", "hotkey"}},
	{"automation", []string{"automation", "automate", "script"}},
	{"organization", []string{"organize", "structure", "workflow"}},
	{"tools", []string{"tool", "software", "app"}},
	{"efficiency", []string{"time", "efficiency", "faster"}},
}

// Categorize buckets a recommendation by keyword. Unmatched text is
// "general".
func Categorize(text string) string {
	lower := strings.ToLower(text)
	for _, bucket := range categoryKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(lower, kw) {
				return bucket.name
			}
		}
	}
	return "general"
}
