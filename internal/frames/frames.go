package frames

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Observation is one timestamped description of on-screen activity,
// normalized from whichever input shape it was loaded from. Treated as
// immutable once parsed.
type Observation struct {
	TimestampSeconds float64  `json:"timestamp_seconds"`
	Description      string   `json:"description"`
	Application      string   `json:"application,omitempty"`
	UIElements       []string `json:"ui_elements,omitempty"`
	UserActions      []string `json:"user_actions,omitempty"`
}

// ParseTimestamp converts a timestamp value to seconds. Accepted forms are
// "HH:MM:SS", "MM:SS", and raw numeric seconds (string or number). A value
// that cannot be parsed maps to 0.0 with a warning rather than an error so
// one malformed frame does not abort ingestion.
func ParseTimestamp(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return clampNonNegative(v)
	case int:
		return clampNonNegative(float64(v))
	case string:
		return parseTimestampString(v)
	case nil:
		return 0
	default:
		log.Printf("frames: unsupported timestamp type %T, defaulting to 0", raw)
		return 0
	}
}

func parseTimestampString(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 3: // HH:MM:SS
		h, err1 := strconv.ParseFloat(parts[0], 64)
		m, err2 := strconv.ParseFloat(parts[1], 64)
		sec, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			log.Printf("frames: failed to parse timestamp %q, defaulting to 0", s)
			return 0
		}
		return clampNonNegative(h*3600 + m*60 + sec)
	case 2: // MM:SS
		m, err1 := strconv.ParseFloat(parts[0], 64)
		sec, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			log.Printf("frames: failed to parse timestamp %q, defaulting to 0", s)
			return 0
		}
		return clampNonNegative(m*60 + sec)
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			log.Printf("frames: failed to parse timestamp %q, defaulting to 0", s)
			return 0
		}
		return clampNonNegative(v)
	}
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// FormatSeconds renders seconds as MM:SS or HH:MM:SS for prompts and logs.
func FormatSeconds(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
