package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-heatmap/internal/httpc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what a running server is doing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var health struct {
			Recording bool   `json:"recording"`
			State     string `json:"state"`
			Detection bool   `json:"detection"`
			Clients   int    `json:"clients"`
			Uptime    string `json:"uptime"`
		}
		if err := httpc.GetJSON(cmd.Context(), httpc.Client, endpoint("/health"), &health); err != nil {
			return fmt.Errorf("❌ %s unreachable: %w", serverURL, err)
		}

		fmt.Printf("✅ Server up %s\n", health.Uptime)
		if !health.Recording {
			fmt.Println("   ⏸️  idle")
		} else {
			fmt.Printf("   🔴 recording (%s)\n", health.State)
		}
		if !health.Detection {
			fmt.Println("   👁️  detection unavailable")
			return nil
		}
		fmt.Printf("   👁️  detection ready, %d live subscribers\n", health.Clients)

		var snap struct {
			Names     []string `json:"names"`
			Dropped   uint64   `json:"dropped"`
			Processed uint64   `json:"processed"`
		}
		if err := httpc.GetJSON(cmd.Context(), httpc.Client, endpoint("/detections"), &snap); err != nil {
			return fmt.Errorf("❌ detections: %w", err)
		}
		if health.Recording {
			fmt.Printf("   %d frames processed, %d dropped\n", snap.Processed, snap.Dropped)
			if len(snap.Names) > 0 {
				fmt.Printf("   in view: %s\n", strings.Join(snap.Names, ", "))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
