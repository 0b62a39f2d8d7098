package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-heatmap/pkg/capture"
	"github.com/teslashibe/go-heatmap/pkg/detection"
	"github.com/teslashibe/go-heatmap/pkg/event"
	"github.com/teslashibe/go-heatmap/pkg/heatmap"
	"github.com/teslashibe/go-heatmap/pkg/hub"
)

var started = time.Now()

// Reference size assumed for click coordinates when the client omits it.
const (
	defaultFrameWidth  = 1920
	defaultFrameHeight = 1080
)

// handleHealth reports liveness and what is running.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	state := "idle"
	recording := false
	if sess := s.activeSession(); sess != nil {
		state = sess.State().String()
		recording = true
	}
	return c.JSON(fiber.Map{
		"status":    "ok",
		"recording": recording,
		"state":     state,
		"detection": s.detector != nil,
		"clients":   s.hub.ClientCount(),
		"uptime":    time.Since(started).Round(time.Second).String(),
	})
}

// handleStartRecording starts a capture without detection.
func (s *Server) handleStartRecording(c *fiber.Ctx) error {
	return s.start(c, false)
}

// handleStartDetection starts a capture with object detection.
func (s *Server) handleStartDetection(c *fiber.Ctx) error {
	return s.start(c, true)
}

func (s *Server) start(c *fiber.Ctx, withDetection bool) error {
	sess, err := s.startSession(context.WithoutCancel(c.UserContext()), withDetection)
	if err != nil {
		return fail(c, err)
	}
	s.logger.Info("capture started", "session", sess.ID(), "detection", withDetection)
	return c.JSON(fiber.Map{
		"status":          "success",
		"message":         "Recording started",
		"session_id":      sess.ID(),
		"state":           sess.State().String(),
		"warm_up_seconds": s.cfg.Capture.WarmUp.Seconds(),
	})
}

// StopRecordingRequest is the body of POST /stop_recording.
type StopRecordingRequest struct {
	ClickData   []event.InteractionEvent `json:"click_data"`
	FrameWidth  int                      `json:"frame_width"`
	FrameHeight int                      `json:"frame_height"`

	// FlipY defaults to true: headset clicks are bottom-origin.
	FlipY      *bool `json:"flip_y"`
	Normalized bool  `json:"normalized"`
}

func (r StopRecordingRequest) coordinates() event.Options {
	opts := event.Options{
		Normalized:      r.Normalized,
		ReferenceWidth:  r.FrameWidth,
		ReferenceHeight: r.FrameHeight,
		FlipY:           r.FlipY == nil || *r.FlipY,
	}
	if opts.ReferenceWidth <= 0 {
		opts.ReferenceWidth = defaultFrameWidth
	}
	if opts.ReferenceHeight <= 0 {
		opts.ReferenceHeight = defaultFrameHeight
	}
	return opts
}

// handleStopRecording stops the capture and replies with the heatmap of
// the submitted clicks over the recording.
func (s *Server) handleStopRecording(c *fiber.Ctx) error {
	var req StopRecordingRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
	}

	sess, err := s.takeSession(false)
	if err != nil {
		return fail(c, err)
	}
	rec, err := s.stopSession(sess)
	if err != nil {
		return fail(c, err)
	}
	defer s.removeRecording(rec.VideoPath)

	res, err := s.generator().Generate(c.UserContext(), heatmap.Request{
		VideoPath:   rec.VideoPath,
		Events:      tagged(req.ClickData, "clicks"),
		Coordinates: req.coordinates(),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Download(res.OutputPath, filepath.Base(res.OutputPath))
}

// handleStopDetection stops the capture, renders the detections as a
// heatmap and writes the companion JSON beside it.
func (s *Server) handleStopDetection(c *fiber.Ctx) error {
	sess, err := s.takeSession(true)
	if err != nil {
		return fail(c, err)
	}
	rec, err := s.stopSession(sess)
	if err != nil {
		return fail(c, err)
	}
	defer s.removeRecording(rec.VideoPath)

	events := rec.Events(s.cfg.Capture.Source)
	res, err := s.generator().Generate(c.UserContext(), heatmap.Request{
		VideoPath:   rec.VideoPath,
		Events:      events,
		Coordinates: event.Options{Normalized: true},
	})
	if err != nil {
		return fail(c, err)
	}

	companion, err := event.WriteCompanion(res.OutputPath, events)
	if err != nil {
		s.logger.Warn("companion not written", "error", err)
	}

	return c.JSON(fiber.Map{
		"status":         "success",
		"recording":      rec,
		"output_path":    res.OutputPath,
		"companion_path": companion,
		"unique_objects": event.NewCompanion(events).UniqueObjectNames,
		"heatmap":        res,
	})
}

// stopSession stops sess and checks the recording is usable.
func (s *Server) stopSession(sess *capture.Session) (*capture.Recording, error) {
	rec, err := sess.Stop()
	if rec == nil {
		return nil, err
	}
	if rec.VideoPath == "" {
		if err == nil {
			err = errors.New("recording produced no frames")
		}
		return nil, &heatmap.StageError{Stage: heatmap.StageOpen, Err: err}
	}
	if err != nil {
		s.logger.Warn("capture stopped with error", "session", rec.ID, "error", err)
	}
	return rec, nil
}

func (s *Server) removeRecording(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove recording", "path", path, "error", err)
	}
}

// handleGenerateHeatmap renders an uploaded video with uploaded clicks.
func (s *Server) handleGenerateHeatmap(c *fiber.Ctx) error {
	videoPath, cleanup, err := s.saveUpload(c, "video")
	if err != nil {
		return badRequest(c, err.Error())
	}
	defer cleanup()

	var events []event.InteractionEvent
	if raw := c.FormValue("clicks"); raw != "" {
		l, err := event.ParseLog("clicks", []byte(raw))
		if err != nil {
			return badRequest(c, "invalid clicks: "+err.Error())
		}
		events = tagged(l.Events, "clicks")
	}

	opts, err := formCoordinates(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	res, err := s.generator().Generate(c.UserContext(), heatmap.Request{
		VideoPath:   videoPath,
		Events:      events,
		Coordinates: opts,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Download(res.OutputPath, filepath.Base(res.OutputPath))
}

// handleAggregate renders one shared video with several session logs and
// writes a manifest of each log's contribution.
func (s *Server) handleAggregate(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "expected multipart form")
	}
	files := form.File["logs"]
	if len(files) == 0 {
		return badRequest(c, "no logs uploaded")
	}

	logs := make([]event.Log, 0, len(files))
	for _, fh := range files {
		l, err := readLog(fh)
		if err != nil {
			return badRequest(c, err.Error())
		}
		logs = append(logs, l)
	}

	videoPath, cleanup, err := s.saveUpload(c, "video")
	if err != nil {
		return badRequest(c, err.Error())
	}
	defer cleanup()

	opts, err := formCoordinates(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	events, manifest := event.Aggregate(logs)
	res, err := s.generator().Generate(c.UserContext(), heatmap.Request{
		VideoPath:   videoPath,
		Events:      events,
		Coordinates: opts,
	})
	if err != nil {
		return fail(c, err)
	}

	manifest.Video = form.File["video"][0].Filename
	manifest.Output = res.OutputPath
	manifest.Skipped = res.Skipped
	manifestPath := event.ManifestPath(res.OutputPath)
	if err := event.WriteManifest(manifestPath, manifest); err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{
		"status":        "success",
		"output_path":   res.OutputPath,
		"manifest_path": manifestPath,
		"manifest":      manifest,
		"heatmap":       res,
	})
}

// handleDetections returns the latest detection snapshot.
func (s *Server) handleDetections(c *fiber.Ctx) error {
	if s.detector == nil {
		return fail(c, detection.ErrDetectionUnavailable)
	}
	sess := s.activeSession()
	if sess == nil || !sess.HasDetector() {
		return c.JSON(fiber.Map{"state": capture.StateIdle.String(), "objects": []detection.Object{}})
	}

	objs := sess.Detections()
	if objs == nil {
		objs = []detection.Object{}
	}
	dropped, processed := sess.Stats()
	return c.JSON(fiber.Map{
		"session_id": sess.ID(),
		"state":      sess.State().String(),
		"objects":    objs,
		"names":      detection.UniqueNames(objs),
		"dropped":    dropped,
		"processed":  processed,
	})
}

// DetectObjectRequest is the body of POST /detect_object. X and Y are
// normalized, origin top left.
type DetectObjectRequest struct {
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Timestamp *float64 `json:"timestamp"`
}

// handleDetectObject runs the detector once on the newest frame and
// reports the object under the tapped point. With no object there, the
// tap itself is returned as the event.
func (s *Server) handleDetectObject(c *fiber.Ctx) error {
	var req DetectObjectRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.X < 0 || req.X > 1 || req.Y < 0 || req.Y > 1 {
		return badRequest(c, "x and y must be normalized to [0,1]")
	}
	if s.detector == nil {
		return fail(c, detection.ErrDetectionUnavailable)
	}

	sess := s.activeSession()
	if sess == nil {
		return fail(c, errNoSession)
	}
	frame, ok := sess.LatestFrame()
	if !ok {
		return fail(c, errNoFrame)
	}

	objs, err := s.detector.Detect(frame.JPEG)
	if err != nil {
		return fail(c, err)
	}

	ts := 0.0
	if req.Timestamp != nil {
		ts = *req.Timestamp
	} else if epoch, ok := sess.Epoch(); ok {
		ts = frame.CapturedAt.Sub(epoch).Seconds()
	}

	hits := detection.Containing(objs, req.X, req.Y)
	if best := detection.SelectBest(hits); best != nil {
		return c.JSON(fiber.Map{
			"status": "success",
			"object": best,
			"event":  best.Event(ts, "tap"),
			"hits":   len(hits),
		})
	}

	ev := event.NewEvent(req.X, req.Y, ts, "tap")
	ev.Name = "tap"
	return c.JSON(fiber.Map{
		"status": "success",
		"object": nil,
		"event":  ev,
		"hits":   0,
	})
}

// handleDetectionsWS streams detection updates to one subscriber.
func (s *Server) handleDetectionsWS(c *websocket.Conn) {
	client := hub.NewClient(s.hub, c)
	s.logger.Debug("detections subscriber connected", "clients", s.hub.ClientCount())
	client.Run()
}

// saveUpload stores the named multipart file in the upload directory.
func (s *Server) saveUpload(c *fiber.Ctx, field string) (string, func(), error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", nil, fmt.Errorf("missing %s upload", field)
	}
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", nil, err
	}
	ext := filepath.Ext(fh.Filename)
	if ext == "" {
		ext = ".mp4"
	}
	path := filepath.Join(s.cfg.UploadDir, "upload_"+uuid.NewString()[:8]+ext)
	if err := c.SaveFile(fh, path); err != nil {
		return "", nil, fmt.Errorf("save %s: %w", field, err)
	}
	return path, func() { s.removeRecording(path) }, nil
}

// readLog parses an uploaded log; its file name becomes the provenance.
func readLog(fh *multipart.FileHeader) (event.Log, error) {
	f, err := fh.Open()
	if err != nil {
		return event.Log{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return event.Log{}, err
	}
	source := strings.TrimSuffix(fh.Filename, filepath.Ext(fh.Filename))
	return event.ParseLog(source, data)
}

// formCoordinates reads width, height, flip_y and normalized form fields.
func formCoordinates(c *fiber.Ctx) (event.Options, error) {
	var opts event.Options
	var err error
	if opts.ReferenceWidth, err = formInt(c, "width"); err != nil {
		return opts, err
	}
	if opts.ReferenceHeight, err = formInt(c, "height"); err != nil {
		return opts, err
	}
	if opts.FlipY, err = formBool(c, "flip_y", true); err != nil {
		return opts, err
	}
	if opts.Normalized, err = formBool(c, "normalized", false); err != nil {
		return opts, err
	}
	return opts, nil
}

func formInt(c *fiber.Ctx, key string) (int, error) {
	v := c.FormValue(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func formBool(c *fiber.Ctx, key string, def bool) (bool, error) {
	v := c.FormValue(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, v)
	}
	return b, nil
}

// tagged stamps events lacking provenance with source.
func tagged(events []event.InteractionEvent, source string) []event.InteractionEvent {
	for i := range events {
		if events[i].Source == "" {
			events[i].Source = source
		}
	}
	return events
}
