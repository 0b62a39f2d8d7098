package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-heatmap/internal/config"
	"github.com/teslashibe/go-heatmap/internal/log"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded in PersistentPreRunE.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:          "heatmap",
	Short:        "Render interaction heatmaps over session recordings",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("❌ configuration error: %w", err)
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		log.Init(c.Log.Level)
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}
