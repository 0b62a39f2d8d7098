// heatmap renders interaction heatmaps over session videos and runs the
// live capture server.
package main

import (
	"context"
	"os"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
