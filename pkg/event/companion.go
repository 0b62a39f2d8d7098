package event

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Companion is the optional JSON written beside a heatmap video for
// downstream analysis.
type Companion struct {
	Events            []InteractionEvent `json:"events"`
	UniqueObjectNames []string           `json:"unique_object_names"`
	Provenance        map[string]int     `json:"provenance"`
}

// NewCompanion summarizes a batch of events.
func NewCompanion(events []InteractionEvent) Companion {
	c := Companion{
		Events:            events,
		UniqueObjectNames: []string{},
		Provenance:        make(map[string]int),
	}
	seen := make(map[string]bool)
	for _, ev := range events {
		if ev.Name != "" && !seen[ev.Name] {
			seen[ev.Name] = true
			c.UniqueObjectNames = append(c.UniqueObjectNames, ev.Name)
		}
		if ev.Source != "" {
			c.Provenance[ev.Source]++
		}
	}
	sort.Strings(c.UniqueObjectNames)
	return c
}

// CompanionPath returns the companion location for an output video.
func CompanionPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".json"
}

// WriteCompanion stores the companion JSON next to videoPath and returns
// the file it wrote.
func WriteCompanion(videoPath string, events []InteractionEvent) (string, error) {
	path := CompanionPath(videoPath)
	data, err := json.MarshalIndent(NewCompanion(events), "", "  ")
	if err != nil {
		return "", fmt.Errorf("event: encode companion: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("event: write companion: %w", err)
	}
	return path, nil
}
