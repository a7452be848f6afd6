package windows

import (
	"errors"
	"math"
	"sort"
	"testing"

	"pgregory.net/rapid"

	"coaching_framework/internal/frames"
)

func obsAt(ts ...float64) []frames.Observation {
	out := make([]frames.Observation, 0, len(ts))
	for _, t := range ts {
		out = append(out, frames.Observation{TimestampSeconds: t, Description: "frame"})
	}
	return out
}

func TestPartitionZeroAnchored(t *testing.T) {
	wins, err := Partition(obsAt(0, 30, 65), 60, AnchorZero)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(wins) != 2 {
		t.Fatalf("got %d windows, want 2", len(wins))
	}
	if wins[0].Start != 0 || wins[0].End != 60 || len(wins[0].Frames) != 2 {
		t.Errorf("window 0 = %+v", wins[0])
	}
	if wins[1].Start != 60 || wins[1].End != 120 || len(wins[1].Frames) != 1 {
		t.Errorf("window 1 = %+v", wins[1])
	}
}

func TestPartitionZeroAnchoredKeepsEmptyWindows(t *testing.T) {
	// a gap between 30 and 90 leaves window [30,60) empty but present
	wins, err := Partition(obsAt(5, 95), 30, AnchorZero)
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 4 {
		t.Fatalf("got %d windows, want 4", len(wins))
	}
	if len(wins[1].Frames) != 0 || len(wins[2].Frames) != 0 {
		t.Errorf("middle windows should be empty: %+v", wins)
	}
	for i, win := range wins {
		if win.Index != i {
			t.Errorf("window %d has index %d", i, win.Index)
		}
	}
}

func TestPartitionFirstFrameAnchored(t *testing.T) {
	wins, err := Partition(obsAt(100, 110, 175), 60, AnchorFirstFrame)
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 2 {
		t.Fatalf("got %d windows, want 2", len(wins))
	}
	if wins[0].Start != 100 || wins[0].End != 160 || len(wins[0].Frames) != 2 {
		t.Errorf("window 0 = %+v", wins[0])
	}
	// final window clips to the data span
	if wins[1].Start != 160 || wins[1].End != 175 || len(wins[1].Frames) != 1 {
		t.Errorf("window 1 = %+v", wins[1])
	}
}

func TestPartitionFirstFrameSkipsEmptyWindows(t *testing.T) {
	wins, err := Partition(obsAt(0, 200), 30, AnchorFirstFrame)
	if err != nil {
		t.Fatal(err)
	}
	for _, win := range wins {
		if len(win.Frames) == 0 {
			t.Fatalf("empty window emitted in first-frame mode: %+v", win)
		}
	}
	if len(wins) != 2 {
		t.Fatalf("got %d windows, want 2", len(wins))
	}
}

func TestPartitionSingleFrame(t *testing.T) {
	for _, anchor := range []Anchor{AnchorZero, AnchorFirstFrame} {
		wins, err := Partition(obsAt(12), 30, anchor)
		if err != nil {
			t.Fatalf("%v: %v", anchor, err)
		}
		if len(wins) != 1 || len(wins[0].Frames) != 1 {
			t.Fatalf("%v: windows = %+v", anchor, wins)
		}
	}
}

func TestPartitionEmptyInput(t *testing.T) {
	wins, err := Partition(nil, 30, AnchorZero)
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 0 {
		t.Fatalf("got %d windows, want 0", len(wins))
	}
}

func TestPartitionInvalidDuration(t *testing.T) {
	for _, d := range []float64{0, -5} {
		if _, err := Partition(obsAt(1), d, AnchorZero); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("duration %v: err = %v, want ErrInvalidDuration", d, err)
		}
	}
}

func TestPartitionBoundaryFrameLandsOnce(t *testing.T) {
	// a frame exactly on a boundary belongs to the window it starts
	wins, err := Partition(obsAt(0, 30, 60), 30, AnchorZero)
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 3 {
		t.Fatalf("got %d windows, want 3", len(wins))
	}
	for i, win := range wins {
		if len(win.Frames) != 1 {
			t.Errorf("window %d holds %d frames, want 1", i, len(win.Frames))
		}
	}
}

func TestPartitionFrameAtMaxTimestampBoundary(t *testing.T) {
	// a frame whose timestamp equals a window's end opens the next window,
	// even when it is the last frame of the recording
	wins, err := Partition(obsAt(0, 60), 60, AnchorZero)
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 2 {
		t.Fatalf("got %d windows, want 2", len(wins))
	}
	if len(wins[0].Frames) != 1 || len(wins[1].Frames) != 1 {
		t.Fatalf("frames split %d/%d, want 1/1", len(wins[0].Frames), len(wins[1].Frames))
	}
	if wins[1].Start != 60 || wins[1].Frames[0].TimestampSeconds != 60 {
		t.Fatalf("window 1 = %+v", wins[1])
	}
}

func TestPartitionCapsWindowCount(t *testing.T) {
	wins, err := Partition(obsAt(0, 1e9), 1, AnchorZero)
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) > 1000 {
		t.Fatalf("got %d windows, cap is 1000", len(wins))
	}
}

func drawObservations(t *rapid.T) []frames.Observation {
	// integer timestamps so exact window boundaries come up often
	raw := rapid.SliceOfN(rapid.IntRange(0, 5000), 1, 200).Draw(t, "timestamps")
	ts := make([]float64, len(raw))
	for i, v := range raw {
		ts[i] = float64(v)
	}
	sort.Float64s(ts)
	return obsAt(ts...)
}

func TestPartitionProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		obs := drawObservations(t)
		windowSeconds := float64(rapid.IntRange(1, 300).Draw(t, "window_seconds"))
		anchor := rapid.SampledFrom([]Anchor{AnchorZero, AnchorFirstFrame}).Draw(t, "anchor")

		wins, err := Partition(obs, windowSeconds, anchor)
		if err != nil {
			t.Fatalf("Partition: %v", err)
		}

		// every frame lands in exactly one window
		total := 0
		for _, win := range wins {
			total += len(win.Frames)
		}
		if total != len(obs) {
			t.Fatalf("frames in windows = %d, input = %d", total, len(obs))
		}

		// windows are ordered, non-overlapping, and indexed densely
		for i, win := range wins {
			if win.Index != i {
				t.Fatalf("window %d has index %d", i, win.Index)
			}
			if win.End < win.Start {
				t.Fatalf("window %d inverted: [%v, %v]", i, win.Start, win.End)
			}
			if i > 0 && win.Start < wins[i-1].End {
				t.Fatalf("window %d overlaps previous: %v < %v", i, win.Start, wins[i-1].End)
			}
			// half-open membership: the upper bound is strict except where
			// the window cap or first-frame clipping makes the final window
			// inclusive of its last timestamp
			inclusiveFinal := i == len(wins)-1 && (len(wins) == 1000 || anchor == AnchorFirstFrame)
			for _, frame := range win.Frames {
				if frame.TimestampSeconds < win.Start {
					t.Fatalf("frame %v before window start %v", frame.TimestampSeconds, win.Start)
				}
				if inclusiveFinal {
					if frame.TimestampSeconds > win.End {
						t.Fatalf("frame %v past final window end %v", frame.TimestampSeconds, win.End)
					}
				} else if frame.TimestampSeconds >= win.End {
					t.Fatalf("frame %v not below window end %v", frame.TimestampSeconds, win.End)
				}
			}
		}

		// frames stay in timestamp order across windows
		last := math.Inf(-1)
		for _, win := range wins {
			for _, frame := range win.Frames {
				if frame.TimestampSeconds < last {
					t.Fatalf("frame order broken: %v after %v", frame.TimestampSeconds, last)
				}
				last = frame.TimestampSeconds
			}
		}
	})
}
