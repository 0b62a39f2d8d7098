package web

import (
	"bytes"
	"encoding/json"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-heatmap/pkg/capture"
	"github.com/teslashibe/go-heatmap/pkg/detection"
	"github.com/teslashibe/go-heatmap/pkg/event"
	"github.com/teslashibe/go-heatmap/pkg/heatmap"
	"github.com/teslashibe/go-heatmap/pkg/video"
)

// fileSink keeps frames in memory and leaves a placeholder file behind so
// the server can send it.
type fileSink struct {
	*video.MemorySink
	path string
}

func (f *fileSink) Close() error {
	f.MemorySink.Close()
	return os.WriteFile(f.path, []byte("mp4"), 0o644)
}

type sinks struct {
	mu  sync.Mutex
	all []*video.MemorySink
}

func (s *sinks) create(path string, fps float64, w, h int) (video.Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := video.NewMemorySink()
	s.all = append(s.all, m)
	return &fileSink{MemorySink: m, path: path}, nil
}

func (s *sinks) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.all {
		m.Release()
	}
}

func newTestServer(t *testing.T, camera capture.Opener, det detection.Detector) *Server {
	t.Helper()
	out := &sinks{}
	t.Cleanup(out.release)

	hcfg := heatmap.DefaultConfig()
	hcfg.OutputDir = t.TempDir()
	hcfg.TempDir = t.TempDir()
	info := video.Info{FPS: 10, Width: 64, Height: 48, FrameCount: 20}
	gen := heatmap.New(hcfg).WithIO(
		func(string) (video.Source, error) {
			return video.NewMockSource(info, color.RGBA{R: 90, G: 90, B: 90}), nil
		},
		out.create,
	)

	cfg := DefaultConfig()
	cfg.UploadDir = t.TempDir()
	cfg.Capture.WarmUp = 20 * time.Millisecond
	cfg.Capture.PollInterval = 2 * time.Millisecond
	cfg.Capture.JoinTimeout = 500 * time.Millisecond

	return NewServer(cfg, Deps{
		Generator:     gen,
		Camera:        camera,
		Detector:      det,
		RecordingSink: out.create,
	})
}

func do(t *testing.T, s *Server, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func postJSON(t *testing.T, s *Server, path string, v any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader = http.NoBody
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", "application/json")
	return do(t, s, req)
}

func get(t *testing.T, s *Server, path string) (*http.Response, []byte) {
	t.Helper()
	return do(t, s, httptest.NewRequest(http.MethodGet, path, nil))
}

type form struct {
	fields map[string]string
	files  map[string][]string // field -> file names
	data   map[string]string   // file name -> contents
}

func postForm(t *testing.T, s *Server, path string, f form) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, names := range f.files {
		for _, name := range names {
			fw, err := w.CreateFormFile(field, name)
			if err != nil {
				t.Fatal(err)
			}
			io.WriteString(fw, f.data[name])
		}
	}
	for k, v := range f.fields {
		w.WriteField(k, v)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return do(t, s, req)
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitRecording(t *testing.T, s *Server, cam *capture.MockCamera) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool {
		sess := s.activeSession()
		return sess != nil && sess.State() == capture.StateReady
	})
	served := cam.Served()
	waitFor(t, 2*time.Second, func() bool { return cam.Served() > served+5 })
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)
	resp, body := get(t, s, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	m := decode(t, body)
	if m["status"] != "ok" || m["recording"] != false || m["detection"] != false {
		t.Errorf("unexpected health %v", m)
	}
}

func TestRecordingFlow(t *testing.T) {
	cam := capture.NewMockCamera(video.Info{FPS: 100, Width: 64, Height: 48})
	s := newTestServer(t, cam.Opener(), nil)

	resp, body := postJSON(t, s, "/start_recording", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d: %s", resp.StatusCode, body)
	}
	if id, _ := decode(t, body)["session_id"].(string); id == "" {
		t.Error("missing session_id")
	}

	resp, body = postJSON(t, s, "/start_recording", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}
	if decode(t, body)["status"] != "error" {
		t.Errorf("unexpected body %s", body)
	}

	waitRecording(t, s, cam)

	resp, body = postJSON(t, s, "/stop_recording", StopRecordingRequest{
		ClickData: []event.InteractionEvent{
			event.NewEvent(32, 10, 0.5, ""),
			event.NewEvent(10, 40, 1.0, ""),
		},
		FrameWidth:  64,
		FrameHeight: 48,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d: %s", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "heatmap_") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if string(body) != "mp4" {
		t.Errorf("body = %q, want the rendered file", body)
	}

	resp, _ = postJSON(t, s, "/stop_recording", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("stop without session status = %d, want 400", resp.StatusCode)
	}
}

func TestStopRecording_DefaultsFlipY(t *testing.T) {
	opts := StopRecordingRequest{}.coordinates()
	if !opts.FlipY {
		t.Error("flip_y should default to true")
	}
	if opts.ReferenceWidth != 1920 || opts.ReferenceHeight != 1080 {
		t.Errorf("reference = %dx%d, want 1920x1080", opts.ReferenceWidth, opts.ReferenceHeight)
	}

	off := false
	if (StopRecordingRequest{FlipY: &off}).coordinates().FlipY {
		t.Error("explicit flip_y=false ignored")
	}
}

func TestGenerateHeatmap(t *testing.T) {
	s := newTestServer(t, nil, nil)

	resp, body := postForm(t, s, "/generate_heatmap", form{
		fields: map[string]string{
			"clicks":     `[{"x":0.5,"y":0.5,"timestamp":0.2}]`,
			"normalized": "true",
		},
		files: map[string][]string{"video": {"clip.mp4"}},
		data:  map[string]string{"clip.mp4": "fake video"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if string(body) != "mp4" {
		t.Errorf("body = %q", body)
	}
}

func TestGenerateHeatmap_Errors(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		name      string
		form      form
		wantCode  int
		wantStage string
	}{
		{
			name:     "missing video",
			form:     form{fields: map[string]string{"clicks": "[]"}},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "bad width",
			form: form{
				fields: map[string]string{"width": "wide"},
				files:  map[string][]string{"video": {"a.mp4"}},
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "all clicks invalid",
			form: form{
				fields: map[string]string{"clicks": `[{"x":1,"y":2}]`},
				files:  map[string][]string{"video": {"a.mp4"}},
			},
			wantCode:  http.StatusBadRequest,
			wantStage: "normalize",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postForm(t, s, "/generate_heatmap", tt.form)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantCode, body)
			}
			m := decode(t, body)
			if m["status"] != "error" {
				t.Errorf("status field = %v", m["status"])
			}
			stage, _ := m["stage"].(string)
			if stage != tt.wantStage {
				t.Errorf("stage = %q, want %q", stage, tt.wantStage)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	s := newTestServer(t, nil, nil)

	resp, body := postForm(t, s, "/aggregate", form{
		fields: map[string]string{"normalized": "true"},
		files: map[string][]string{
			"video": {"shared.mp4"},
			"logs":  {"alice.json", "bob.json"},
		},
		data: map[string]string{
			"shared.mp4": "fake video",
			"alice.json": `[{"x":0.1,"y":0.1,"timestamp":0.1},{"x":0.2,"y":0.2,"timestamp":0.4},{"x":0.3,"y":0.3,"timestamp":0.9}]`,
			"bob.json":   `{"events":[{"x":0.5,"y":0.5,"timestamp":0.2},{"x":0.6,"y":0.6,"timestamp":0.3}]}`,
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var out struct {
		ManifestPath string         `json:"manifest_path"`
		Manifest     event.Manifest `json:"manifest"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Manifest.Sources["alice"] != 3 || out.Manifest.Sources["bob"] != 2 {
		t.Errorf("sources = %v", out.Manifest.Sources)
	}
	if out.Manifest.Total != 5 || out.Manifest.Video != "shared.mp4" {
		t.Errorf("manifest = %+v", out.Manifest)
	}
	if _, err := os.Stat(out.ManifestPath); err != nil {
		t.Errorf("manifest not written: %v", err)
	}
}

func TestAggregate_NoLogs(t *testing.T) {
	s := newTestServer(t, nil, nil)
	resp, _ := postForm(t, s, "/aggregate", form{
		files: map[string][]string{"video": {"shared.mp4"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDetection_Unavailable(t *testing.T) {
	cam := capture.NewMockCamera(video.Info{FPS: 100, Width: 64, Height: 48})
	s := newTestServer(t, cam.Opener(), nil)

	for _, path := range []string{"/start_detection", "/detect_object"} {
		resp, body := postJSON(t, s, path, DetectObjectRequest{X: 0.5, Y: 0.5})
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503: %s", path, resp.StatusCode, body)
		}
	}
	resp, _ := get(t, s, "/detections")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/detections status = %d, want 503", resp.StatusCode)
	}
}

func TestDetectionFlow(t *testing.T) {
	cam := capture.NewMockCamera(video.Info{FPS: 100, Width: 64, Height: 48})
	det := detection.NewMockDetector(detection.Object{
		Name:       "cup",
		Confidence: 0.9,
		BBox:       event.BoundingBox{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.2},
	})
	s := newTestServer(t, cam.Opener(), det)

	resp, body := get(t, s, "/detections")
	if resp.StatusCode != http.StatusOK || decode(t, body)["state"] != "idle" {
		t.Fatalf("idle detections = %d %s", resp.StatusCode, body)
	}

	resp, body = postJSON(t, s, "/start_detection", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d: %s", resp.StatusCode, body)
	}
	waitRecording(t, s, cam)

	waitFor(t, 2*time.Second, func() bool {
		_, body := get(t, s, "/detections")
		objs, _ := decode(t, body)["objects"].([]any)
		return len(objs) > 0
	})

	resp, body = postJSON(t, s, "/detect_object", DetectObjectRequest{X: 0.5, Y: 0.5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detect_object status = %d: %s", resp.StatusCode, body)
	}
	hit := decode(t, body)
	if obj, _ := hit["object"].(map[string]any); obj == nil || obj["name"] != "cup" {
		t.Errorf("object = %v, want cup", hit["object"])
	}

	_, body = postJSON(t, s, "/detect_object", DetectObjectRequest{X: 0.05, Y: 0.05})
	miss := decode(t, body)
	if miss["object"] != nil {
		t.Errorf("object = %v, want none", miss["object"])
	}
	if ev, _ := miss["event"].(map[string]any); ev == nil || ev["name"] != "tap" {
		t.Errorf("fallback event = %v, want tap", miss["event"])
	}

	resp, body = postJSON(t, s, "/detect_object", DetectObjectRequest{X: 2, Y: 0.5})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out of range tap status = %d, want 400", resp.StatusCode)
	}

	resp, body = postJSON(t, s, "/stop_detection", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		CompanionPath string            `json:"companion_path"`
		UniqueObjects []string          `json:"unique_objects"`
		Recording     capture.Recording `json:"recording"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Recording.Log) == 0 {
		t.Error("recording has no detections")
	}
	if len(out.UniqueObjects) != 1 || out.UniqueObjects[0] != "cup" {
		t.Errorf("unique objects = %v", out.UniqueObjects)
	}
	if _, err := os.Stat(out.CompanionPath); err != nil {
		t.Errorf("companion not written: %v", err)
	}
}

func TestStopDetection_WrongSessionKind(t *testing.T) {
	cam := capture.NewMockCamera(video.Info{FPS: 100, Width: 64, Height: 48})
	s := newTestServer(t, cam.Opener(), detection.NewMockDetector())

	if resp, body := postJSON(t, s, "/start_recording", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d: %s", resp.StatusCode, body)
	}
	resp, _ := postJSON(t, s, "/stop_detection", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	s.stopActiveSession()
}

func TestSetGenerator(t *testing.T) {
	s := newTestServer(t, nil, nil)
	g := heatmap.New(heatmap.DefaultConfig())
	s.SetGenerator(g)
	if s.generator() != g {
		t.Error("generator not swapped")
	}
}
