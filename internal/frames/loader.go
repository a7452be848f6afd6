package frames

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// ErrNoFrames is returned when a syntactically valid document yields zero
// observations.
var ErrNoFrames = errors.New("no frame observations found in input")

// adapter recognizes one input shape and normalizes it. The loader walks the
// chain in order; the first adapter that matches wins.
type adapter interface {
	Name() string
	Extract(doc any) ([]Observation, bool)
}

var adapterChain = []adapter{
	nestedWindowsAdapter{},
	flatListAdapter{},
	bareArrayAdapter{},
	summaryObjectAdapter{},
}

// Load reads a frame-description JSON file and normalizes it into a
// timestamp-sorted observation sequence.
func Load(path string) ([]Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return Parse(data)
}

// Parse normalizes a raw JSON document through the adapter chain.
func Parse(data []byte) ([]Observation, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	for _, a := range adapterChain {
		obs, ok := a.Extract(doc)
		if !ok {
			continue
		}
		if len(obs) == 0 {
			return nil, ErrNoFrames
		}
		sort.SliceStable(obs, func(i, j int) bool {
			return obs[i].TimestampSeconds < obs[j].TimestampSeconds
		})
		log.Printf("frames: loaded %d observations via %s adapter", len(obs), a.Name())
		return obs, nil
	}
	return nil, ErrNoFrames
}

// Validate checks that a file can be normalized into at least one
// observation without keeping the result. Used by the orchestrator to drop
// invalid sources before any session is created.
func Validate(path string) error {
	obs, err := Load(path)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		return ErrNoFrames
	}
	return nil
}

// nestedWindowsAdapter handles {"windows": [{"frame_descriptions": [...]}]}
// and the sibling "frames" / "intervals" spellings.
type nestedWindowsAdapter struct{}

func (nestedWindowsAdapter) Name() string { return "nested-windows" }

func (nestedWindowsAdapter) Extract(doc any) ([]Observation, bool) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	groups, ok := obj["windows"].([]any)
	if !ok {
		groups, ok = obj["intervals"].([]any)
	}
	if !ok {
		return nil, false
	}
	var out []Observation
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		items, ok := group["frame_descriptions"].([]any)
		if !ok {
			items, _ = group["frames"].([]any)
		}
		for _, item := range items {
			frame, ok := item.(map[string]any)
			if !ok {
				log.Printf("frames: skipping non-object frame entry %T", item)
				continue
			}
			if obs, ok := normalizeFrame(frame); ok {
				out = append(out, obs)
			}
		}
	}
	return out, true
}

// flatListAdapter handles {"frames": [...]}.
type flatListAdapter struct{}

func (flatListAdapter) Name() string { return "flat-list" }

func (flatListAdapter) Extract(doc any) ([]Observation, bool) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	items, ok := obj["frames"].([]any)
	if !ok {
		return nil, false
	}
	return normalizeFrameList(items), true
}

// bareArrayAdapter handles a top-level JSON array of frame objects.
type bareArrayAdapter struct{}

func (bareArrayAdapter) Name() string { return "bare-array" }

func (bareArrayAdapter) Extract(doc any) ([]Observation, bool) {
	items, ok := doc.([]any)
	if !ok {
		return nil, false
	}
	return normalizeFrameList(items), true
}

// summaryObjectAdapter handles summary-like objects with no frame arrays by
// synthesizing observations from known narrative keys, one second apart.
type summaryObjectAdapter struct{}

func (summaryObjectAdapter) Name() string { return "summary-object" }

var summaryKeys = []string{
	"completed_since_last",
	"key_entities",
	"key_actions",
	"notes",
	"insights",
	"highlights",
	"activities",
	"observations",
}

func (summaryObjectAdapter) Extract(doc any) ([]Observation, bool) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	var out []Observation
	ts := 0.0
	add := func(text, label string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if label != "" {
			text = label + ": " + text
		}
		out = append(out, Observation{TimestampSeconds: ts, Description: text})
		ts++
	}
	for _, key := range summaryKeys {
		val, present := obj[key]
		if !present {
			continue
		}
		label := titleCase(strings.ReplaceAll(key, "_", " "))
		switch v := val.(type) {
		case string:
			add(v, label)
		case []any:
			for _, item := range v {
				switch entry := item.(type) {
				case string:
					add(entry, label)
				case map[string]any:
					for _, field := range []string{"description", "text", "content"} {
						if s, ok := entry[field].(string); ok {
							add(s, label)
							break
						}
					}
				}
			}
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func normalizeFrameList(items []any) []Observation {
	out := make([]Observation, 0, len(items))
	for _, item := range items {
		frame, ok := item.(map[string]any)
		if !ok {
			log.Printf("frames: skipping non-object frame entry %T", item)
			continue
		}
		if obs, ok := normalizeFrame(frame); ok {
			out = append(out, obs)
		}
	}
	return out
}

var descriptionFields = []string{
	"description",
	"forensic_description",
	"frame_description",
	"content",
	"text",
}

func normalizeFrame(frame map[string]any) (Observation, bool) {
	desc := ""
	for _, field := range descriptionFields {
		if s, ok := frame[field].(string); ok && strings.TrimSpace(s) != "" {
			desc = strings.TrimSpace(s)
			break
		}
	}
	if desc == "" {
		log.Printf("frames: skipping frame with no description")
		return Observation{}, false
	}

	var ts float64
	found := false
	for _, field := range []string{"timestamp", "time", "seconds", "frame_time"} {
		if raw, ok := frame[field]; ok {
			ts = ParseTimestamp(raw)
			found = true
			break
		}
	}
	if !found {
		log.Printf("frames: frame has no timestamp field, defaulting to 0")
	}

	obs := Observation{
		TimestampSeconds: ts,
		Description:      desc,
		UIElements:       stringSlice(frame["ui_elements"]),
		UserActions:      stringSlice(frame["user_actions"]),
	}
	if apps := stringSlice(frame["applications"]); len(apps) > 0 {
		obs.Application = apps[0]
		if len(apps) > 1 {
			// Extra applications ride along as UI context.
			obs.UIElements = append(obs.UIElements, apps[1:]...)
		}
	} else if app, ok := frame["application"].(string); ok {
		obs.Application = strings.TrimSpace(app)
	} else if app, ok := frame["app"].(string); ok {
		obs.Application = strings.TrimSpace(app)
	}
	return obs, true
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func stringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
