package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-heatmap/internal/log"
	"github.com/teslashibe/go-heatmap/pkg/event"
	"github.com/teslashibe/go-heatmap/pkg/heatmap"
)

// coordFlags describe how event coordinates were recorded.
type coordFlags struct {
	width, height int
	normalized    bool
	flipY         bool
}

func (f *coordFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.width, "width", 0, "reference width of pixel coordinates (default: video width)")
	cmd.Flags().IntVar(&f.height, "height", 0, "reference height of pixel coordinates (default: video height)")
	cmd.Flags().BoolVar(&f.normalized, "normalized", false, "coordinates are normalized to [0,1]")
	cmd.Flags().BoolVar(&f.flipY, "flip-y", false, "coordinates have a bottom-left origin")
}

func (f *coordFlags) options() event.Options {
	return event.Options{
		Normalized:      f.normalized,
		ReferenceWidth:  f.width,
		ReferenceHeight: f.height,
		FlipY:           f.flipY,
	}
}

var (
	generateOut    string
	generateCoords coordFlags
)

var generateCmd = &cobra.Command{
	Use:   "generate VIDEO EVENTS.json",
	Short: "Render a heatmap video from a session video and its event log",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		l, err := event.LoadLog(args[1], "")
		if err != nil {
			return err
		}

		fmt.Printf("🎬 Rendering %s with %d events...\n", args[0], len(l.Events))
		gen := heatmap.New(cfg.HeatmapConfig(log.L()))
		res, err := gen.Generate(ctx, heatmap.Request{
			VideoPath:   args[0],
			Events:      l.Events,
			Coordinates: generateCoords.options(),
			OutputPath:  generateOut,
		})
		if err != nil {
			return fmt.Errorf("❌ %w", err)
		}
		printResult(res)
		return nil
	},
}

func printResult(res *heatmap.Result) {
	fmt.Printf("✅ Heatmap written to %s\n", res.OutputPath)
	fmt.Printf("   %d frames (%d lit, %d summary), %dx%d, sigma %.1f\n",
		res.Stats.FramesWritten(), res.Stats.FramesLit, res.Stats.SummaryFrames,
		res.Plan.Width, res.Plan.Height, res.Sigma)
	if res.Skipped > 0 {
		fmt.Printf("⚠️  %d invalid events skipped\n", res.Skipped)
	}
	fmt.Printf("⏱️  %s\n", res.Duration.Round(time.Millisecond))
}

func init() {
	generateCmd.Flags().StringVarP(&generateOut, "out", "o", "", "output path (default: generated name in the output dir)")
	generateCoords.register(generateCmd)
	rootCmd.AddCommand(generateCmd)
}
