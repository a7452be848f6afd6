package windows

import (
	"errors"
	"fmt"

	"coaching_framework/internal/frames"
)

// maxWindows guards against malformed or unbounded timestamp ranges.
const maxWindows = 1000

// Anchor selects where window 0 starts. Two call sites historically
// disagreed on this, so the mode is explicit rather than implied.
type Anchor int

const (
	// AnchorZero starts window 0 at absolute time 0 and emits empty
	// windows so window numbers track wall-clock position.
	AnchorZero Anchor = iota
	// AnchorFirstFrame starts window 0 at the first observation's
	// timestamp and skips empty windows (interval-chunk mode).
	AnchorFirstFrame
)

func (a Anchor) String() string {
	switch a {
	case AnchorZero:
		return "zero"
	case AnchorFirstFrame:
		return "first-frame"
	default:
		return fmt.Sprintf("anchor(%d)", int(a))
	}
}

// Window is a contiguous [Start, End) slice of a recording. Frames hold the
// observations whose timestamps fall inside the slice, in input order.
type Window struct {
	Index  int                  `json:"index"`
	Start  float64              `json:"start_time"`
	End    float64              `json:"end_time"`
	Frames []frames.Observation `json:"frames"`
}

// Duration returns End - Start.
func (w Window) Duration() float64 { return w.End - w.Start }

// TimeRange renders the slice bounds for prompts and logs.
func (w Window) TimeRange() string {
	return fmt.Sprintf("%.1fs - %.1fs", w.Start, w.End)
}

var ErrInvalidDuration = errors.New("window duration must be positive")

// Partition splits timestamp-ordered observations into fixed-duration,
// non-overlapping windows. Interval membership is half-open
// (start <= ts < end), so a frame sitting exactly on a boundary opens the
// next window. Only the window cap overrides this: the capped final window
// absorbs whatever remains so no frame is ever dropped. Empty input yields
// an empty slice.
func Partition(obs []frames.Observation, windowSeconds float64, anchor Anchor) ([]Window, error) {
	if windowSeconds <= 0 {
		return nil, ErrInvalidDuration
	}
	if len(obs) == 0 {
		return []Window{}, nil
	}
	switch anchor {
	case AnchorFirstFrame:
		return partitionFrom(obs, windowSeconds, obs[0].TimestampSeconds, false), nil
	default:
		return partitionFrom(obs, windowSeconds, 0, true), nil
	}
}

func partitionFrom(obs []frames.Observation, windowSeconds, origin float64, keepEmpty bool) []Window {
	maxTS := obs[len(obs)-1].TimestampSeconds

	out := []Window{}
	next := 0 // observations are sorted; consume them in one pass
	start := origin
	for count := 0; count < maxWindows; count++ {
		end := start + windowSeconds
		// Strictly past the last timestamp: a frame at ts == end still
		// belongs to the next window. The cap forces the final window to
		// absorb whatever remains.
		last := end > maxTS || count == maxWindows-1

		var members []frames.Observation
		for next < len(obs) && (obs[next].TimestampSeconds < end || last) {
			members = append(members, obs[next])
			next++
		}

		if keepEmpty || len(members) > 0 {
			bound := end
			if !keepEmpty && last && maxTS > start {
				// Interval mode clips the final window to the span of the
				// data instead of a full nominal duration.
				bound = maxTS
			}
			out = append(out, Window{Index: len(out), Start: start, End: bound, Frames: members})
		}
		start = end
		if last {
			break
		}
	}
	return out
}
