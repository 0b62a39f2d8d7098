package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-heatmap/internal/httpc"
	"github.com/teslashibe/go-heatmap/pkg/event"
)

var (
	serverURL string

	recordDetection bool
	recordClicks    string
	recordOut       string
	recordWidth     int
	recordHeight    int
	recordNoFlip    bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Control a live capture on a running server",
}

var recordStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start recording (with --detection, also detect objects)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/start_recording"
		if recordDetection {
			path = "/start_detection"
		}

		var out struct {
			SessionID string  `json:"session_id"`
			WarmUp    float64 `json:"warm_up_seconds"`
		}
		if err := postDecode(cmd.Context(), path, nil, &out); err != nil {
			return err
		}
		fmt.Printf("🔴 Recording %s (warming up %.0fs)\n", out.SessionID, out.WarmUp)
		return nil
	},
}

var recordStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop recording and fetch the heatmap",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if recordDetection {
			return stopDetection(cmd.Context())
		}
		return stopRecording(cmd.Context())
	},
}

// stopRecordingBody mirrors the server's stop_recording request.
type stopRecordingBody struct {
	ClickData   []event.InteractionEvent `json:"click_data"`
	FrameWidth  int                      `json:"frame_width,omitempty"`
	FrameHeight int                      `json:"frame_height,omitempty"`
	FlipY       bool                     `json:"flip_y"`
}

func stopRecording(ctx context.Context) error {
	body := stopRecordingBody{
		FrameWidth:  recordWidth,
		FrameHeight: recordHeight,
		FlipY:       !recordNoFlip,
	}
	if recordClicks != "" {
		l, err := event.LoadLog(recordClicks, "clicks")
		if err != nil {
			return err
		}
		body.ClickData = l.Events
	}

	client := httpc.NewClient(httpc.GenerateTimeout)
	resp, err := httpc.PostJSON(ctx, client, endpoint("/stop_recording"), body)
	if err != nil {
		return fmt.Errorf("❌ stop recording: %w", err)
	}

	out := recordOut
	if out == "" {
		out = attachmentName(resp.Header.Get("Content-Disposition"))
	}
	n, err := httpc.SaveBody(resp, out)
	if err != nil {
		return fmt.Errorf("❌ save heatmap: %w", err)
	}
	fmt.Printf("✅ Heatmap saved to %s (%d KB, %d clicks)\n", out, n/1024, len(body.ClickData))
	return nil
}

func stopDetection(ctx context.Context) error {
	var out struct {
		OutputPath    string   `json:"output_path"`
		CompanionPath string   `json:"companion_path"`
		UniqueObjects []string `json:"unique_objects"`
		Recording     struct {
			Frames  int             `json:"frames"`
			Dropped uint64          `json:"dropped"`
			Log     json.RawMessage `json:"log"`
		} `json:"recording"`
	}
	if err := postDecode(ctx, "/stop_detection", nil, &out); err != nil {
		return err
	}
	fmt.Printf("✅ Heatmap on server: %s\n", out.OutputPath)
	fmt.Printf("   %d frames recorded, %d dropped\n", out.Recording.Frames, out.Recording.Dropped)
	if len(out.UniqueObjects) > 0 {
		fmt.Printf("👁️  Seen: %s\n", strings.Join(out.UniqueObjects, ", "))
	}
	if out.CompanionPath != "" {
		fmt.Printf("📋 Companion: %s\n", out.CompanionPath)
	}
	return nil
}

// postDecode POSTs in and decodes the JSON reply into out. Stopping a
// session renders a video, so those requests get the long timeout.
func postDecode(ctx context.Context, path string, in, out any) error {
	client := httpc.Client
	if strings.HasPrefix(path, "/stop_") {
		client = httpc.NewClient(httpc.GenerateTimeout)
	}
	resp, err := httpc.PostJSON(ctx, client, endpoint(path), in)
	if err != nil {
		return fmt.Errorf("❌ %s: %w", path, err)
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func endpoint(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

// attachmentName extracts the file name from a Content-Disposition header.
func attachmentName(header string) string {
	const key = "filename="
	if i := strings.Index(header, key); i >= 0 {
		name := strings.Trim(header[i+len(key):], `"; `)
		if name = filepath.Base(name); name != "." && name != string(os.PathSeparator) {
			return name
		}
	}
	return "heatmap.mp4"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "heatmap server URL")

	recordCmd.PersistentFlags().BoolVar(&recordDetection, "detection", false, "use the object detection session")
	recordStopCmd.Flags().StringVar(&recordClicks, "clicks", "", "JSON click log to render")
	recordStopCmd.Flags().StringVarP(&recordOut, "out", "o", "", "where to save the heatmap (default: server's file name)")
	recordStopCmd.Flags().IntVar(&recordWidth, "width", 0, "reference width of click coordinates (server default 1920)")
	recordStopCmd.Flags().IntVar(&recordHeight, "height", 0, "reference height of click coordinates (server default 1080)")
	recordStopCmd.Flags().BoolVar(&recordNoFlip, "no-flip", false, "clicks already have a top-left origin")

	recordCmd.AddCommand(recordStartCmd, recordStopCmd)
	rootCmd.AddCommand(recordCmd)
}
