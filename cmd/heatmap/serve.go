package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-heatmap/internal/config"
	"github.com/teslashibe/go-heatmap/internal/log"
	"github.com/teslashibe/go-heatmap/pkg/detection"
	"github.com/teslashibe/go-heatmap/pkg/heatmap"
	"github.com/teslashibe/go-heatmap/pkg/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server for recording, detection and rendering",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		logger := log.L()
		deps := web.Deps{
			Generator: heatmap.New(cfg.HeatmapConfig(logger)),
			Camera:    cfg.CameraConfig().Opener(logger),
		}

		if cfg.Detection.Enabled {
			det, err := detection.NewYOLO(cfg.DetectionConfig(), logger)
			switch {
			case errors.Is(err, detection.ErrDetectionUnavailable):
				fmt.Printf("⚠️  Detection disabled: %v\n", err)
			case err != nil:
				return fmt.Errorf("❌ detector: %w", err)
			default:
				defer det.Close()
				deps.Detector = det
				fmt.Printf("👁️  Object detection ready (%s)\n", cfg.Detection.Model)
			}
		}

		srv := web.NewServer(web.Config{
			Port:        cfg.Server.Port,
			UploadDir:   cfg.Server.UploadDir,
			BodyLimitMB: cfg.Server.BodyLimitMB,
			CORSOrigins: cfg.Server.CORSOrigins,
			Capture:     cfg.CaptureConfig(logger),
			Logger:      logger,
		}, deps)

		if configPath != "" {
			go watchConfig(ctx, srv)
		}

		fmt.Printf("🔥 Heatmap server on http://localhost:%d\n", cfg.Server.Port)
		fmt.Printf("📁 Output: %s\n", cfg.Server.OutputDir)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("❌ server: %w", err)
		}
		fmt.Println("👋 Stopped")
		return nil
	},
}

// watchConfig applies render and log settings from the config file as it
// changes. Server and capture settings need a restart.
func watchConfig(ctx context.Context, srv *web.Server) {
	err := config.Watch(ctx, configPath, log.L(), func(c config.Config) {
		log.Init(c.Log.Level)
		srv.SetGenerator(heatmap.New(c.HeatmapConfig(log.L())))
		fmt.Println("🔄 Configuration reloaded")
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("config watch stopped", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
