package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-heatmap/internal/log"
	"github.com/teslashibe/go-heatmap/pkg/event"
	"github.com/teslashibe/go-heatmap/pkg/heatmap"
)

// rerunDelay collapses bursts of log writes into one render.
const rerunDelay = 500 * time.Millisecond

var (
	aggregateOut    string
	aggregateWatch  string
	aggregateCoords coordFlags
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate VIDEO [LOG.json...]",
	Short: "Render one heatmap from several session logs over a shared video",
	Long: `Merges the logs, tags every event with the log it came from and
renders them together. A manifest of each log's contribution is written
next to the output.

With --watch DIR, every *.json in DIR is used and the heatmap is rendered
again whenever a log is added or changed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		gen := heatmap.New(cfg.HeatmapConfig(log.L()))
		video := args[0]

		if aggregateWatch == "" {
			if len(args) < 2 {
				return fmt.Errorf("❌ no logs given")
			}
			return aggregate(ctx, gen, video, args[1:])
		}
		return watchLogs(ctx, gen, video, aggregateWatch)
	},
}

// aggregate renders video with the given logs and writes the manifest.
func aggregate(ctx context.Context, gen *heatmap.Generator, video string, paths []string) error {
	logs := make([]event.Log, 0, len(paths))
	for _, p := range paths {
		l, err := event.LoadLog(p, sourceName(p))
		if err != nil {
			return err
		}
		logs = append(logs, l)
	}

	events, manifest := event.Aggregate(logs)
	fmt.Printf("🧩 %d logs, %d events\n", len(logs), manifest.Total)

	res, err := gen.Generate(ctx, heatmap.Request{
		VideoPath:   video,
		Events:      events,
		Coordinates: aggregateCoords.options(),
		OutputPath:  aggregateOut,
	})
	if err != nil {
		return fmt.Errorf("❌ %w", err)
	}

	manifest.Video = filepath.Base(video)
	manifest.Output = res.OutputPath
	manifest.Skipped = res.Skipped
	path := event.ManifestPath(res.OutputPath)
	if err := event.WriteManifest(path, manifest); err != nil {
		return err
	}
	printResult(res)
	fmt.Printf("📋 Manifest: %s\n", path)
	return nil
}

// sourceName derives provenance from a log file name.
func sourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// collectLogs lists the JSON logs in dir, sorted by name.
func collectLogs(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var logs []string
	for _, p := range paths {
		// Skip our own manifests and companions.
		if strings.HasSuffix(p, ".manifest.json") || strings.HasPrefix(filepath.Base(p), "heatmap_") {
			continue
		}
		logs = append(logs, p)
	}
	sort.Strings(logs)
	return logs, nil
}

// isLogEvent reports whether a watcher event should trigger a render.
func isLogEvent(ev fsnotify.Event) bool {
	if filepath.Ext(ev.Name) != ".json" || strings.HasSuffix(ev.Name, ".manifest.json") {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}

// watchLogs renders once, then again after every change to the logs in dir.
func watchLogs(ctx context.Context, gen *heatmap.Generator, video, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("❌ watch %s: %w", dir, err)
	}

	render := func() {
		logs, err := collectLogs(dir)
		if err != nil {
			log.Error("listing logs failed", "dir", dir, "error", err)
			return
		}
		if len(logs) == 0 {
			fmt.Printf("⏳ Waiting for logs in %s\n", dir)
			return
		}
		if err := aggregate(ctx, gen, video, logs); err != nil {
			log.Error("aggregate failed", "error", err)
		}
	}

	render()
	fmt.Printf("👀 Watching %s (Ctrl+C to stop)\n", dir)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isLogEvent(ev) {
				continue
			}
			log.Debug("log changed", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(rerunDelay)
			} else {
				timer.Reset(rerunDelay)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			render()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "error", err)
		}
	}
}

func init() {
	aggregateCmd.Flags().StringVarP(&aggregateOut, "out", "o", "", "output path (default: generated name in the output dir)")
	aggregateCmd.Flags().StringVar(&aggregateWatch, "watch", "", "directory of logs to watch and re-render on change")
	aggregateCoords.register(aggregateCmd)
	rootCmd.AddCommand(aggregateCmd)
}
