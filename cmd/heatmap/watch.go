package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-heatmap/pkg/hub"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live detections from a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		target, err := wsURL(serverURL, "/ws/detections")
		if err != nil {
			return err
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		ws, _, err := dialer.DialContext(ctx, target, nil)
		if err != nil {
			return fmt.Errorf("❌ connect %s: %w", target, err)
		}
		defer ws.Close()
		fmt.Printf("📡 Connected to %s\n", target)

		go func() {
			<-ctx.Done()
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			ws.Close()
		}()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return nil
				}
				return fmt.Errorf("❌ read: %w", err)
			}
			var u hub.DetectionUpdate
			if err := json.Unmarshal(data, &u); err != nil {
				continue
			}
			fmt.Println(formatUpdate(u))
		}
	},
}

// wsURL turns an http(s) server URL into the websocket URL for path.
func wsURL(server, path string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("❌ invalid server URL %q: %w", server, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

func formatUpdate(u hub.DetectionUpdate) string {
	if len(u.Objects) == 0 {
		return fmt.Sprintf("👁️  %7.2fs  (nothing)", u.Timestamp)
	}
	parts := make([]string, 0, len(u.Objects))
	for _, o := range u.Objects {
		parts = append(parts, fmt.Sprintf("%s(%.2f)", o.Name, o.Confidence))
	}
	return fmt.Sprintf("👁️  %7.2fs  %s", u.Timestamp, strings.Join(parts, " "))
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
