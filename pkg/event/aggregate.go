package event

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Manifest records how much each source contributed to an aggregated
// heatmap. It is written next to the output video.
type Manifest struct {
	Video     string         `json:"video"`
	Output    string         `json:"output,omitempty"`
	Sources   map[string]int `json:"sources"`
	Total     int            `json:"total"`
	Skipped   int            `json:"skipped"`
	CreatedAt time.Time      `json:"created_at"`
}

// Aggregate merges several session logs that reference one shared video.
// Every event is tagged with its log's source and the result is ordered by
// timestamp; events with equal timestamps keep their input order.
func Aggregate(logs []Log) ([]InteractionEvent, Manifest) {
	m := Manifest{Sources: make(map[string]int, len(logs))}

	var merged []InteractionEvent
	for _, l := range logs {
		m.Sources[l.Source] += len(l.Events)
		for _, ev := range l.Events {
			merged = append(merged, ev.WithSource(l.Source))
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return timestampOf(merged[i]) < timestampOf(merged[j])
	})

	m.Total = len(merged)
	return merged, m
}

// timestampOf orders events without a timestamp first; the normalizer
// drops them later anyway.
func timestampOf(ev InteractionEvent) float64 {
	if ev.Timestamp == nil {
		return -1
	}
	return *ev.Timestamp
}

// ManifestPath returns the manifest location for an output video.
func ManifestPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".manifest.json"
}

// WriteManifest stores the manifest as indented JSON.
func WriteManifest(path string, m Manifest) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("event: encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("event: write manifest: %w", err)
	}
	return nil
}

func baseName(path string) string {
	return filepath.Base(path)
}
