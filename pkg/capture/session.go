package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-heatmap/pkg/detection"
	"github.com/teslashibe/go-heatmap/pkg/event"
	"github.com/teslashibe/go-heatmap/pkg/video"
)

// Frame is one decoded camera frame, JPEG-encoded for the detector.
type Frame struct {
	Seq        uint64
	JPEG       []byte
	CapturedAt time.Time
}

// LogEntry is one detection. Timestamp is seconds since the ready epoch.
type LogEntry struct {
	ObjectName string            `json:"object_name"`
	Confidence float64           `json:"confidence"`
	Timestamp  float64           `json:"timestamp"`
	BBox       event.BoundingBox `json:"bbox"`
}

// Recording is what a stopped session hands back.
type Recording struct {
	ID        string     `json:"id"`
	VideoPath string     `json:"video_path,omitempty"`
	Log       []LogEntry `json:"log"`
	FPS       float64    `json:"fps"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Frames    int        `json:"frames"`
	Dropped   uint64     `json:"dropped"`
	Processed uint64     `json:"processed"`
	ReadyAt   time.Time  `json:"ready_at,omitzero"`
}

// Events converts the detection log into interaction events.
func (r *Recording) Events(source string) []event.InteractionEvent {
	out := make([]event.InteractionEvent, 0, len(r.Log))
	for _, e := range r.Log {
		out = append(out, event.NewObjectEvent(e.ObjectName, e.Confidence, e.BBox, e.Timestamp, source))
	}
	return out
}

// Opener opens the live decode source.
type Opener func(ctx context.Context) (video.Source, error)

// SinkCreator opens the recording encoder.
type SinkCreator func(path string, fps float64, width, height int) (video.Sink, error)

// Killer is implemented by sources that can be forcibly terminated when
// a graceful stop times out.
type Killer interface {
	Kill() error
}

// Listener receives every detection batch as it is logged.
type Listener func(timestamp float64, objs []detection.Object)

// Session is one live capture run. It moves IDLE -> WARMING_UP -> READY ->
// STOPPED and is not reusable; a failed start leaves it in IDLE.
type Session struct {
	id       string
	cfg      Config
	logger   *slog.Logger
	open     Opener
	create   SinkCreator
	detector detection.Detector
	listener Listener

	mu    sync.Mutex // serializes Start and Stop
	state atomic.Int32

	readyOnce sync.Once
	readyCh   chan struct{}
	epoch     atomic.Int64 // unix nanos, 0 until READY

	queue *FrameQueue[Frame]

	logMu sync.Mutex
	log   []LogEntry

	detections atomic.Pointer[[]detection.Object]
	latest     atomic.Pointer[Frame]
	processed  atomic.Uint64

	src  video.Source
	info video.Info

	// Owned by the producer until it exits.
	sink      video.Sink
	sinkPath  string
	sinkInfo  video.Info
	recorded  int
	recordErr error

	cancel       context.CancelFunc
	producerDone chan struct{}
	consumerDone chan struct{}
	warmDone     chan struct{}

	result  *Recording
	stopErr error
}

// NewSession creates an idle session. detector may be nil for
// recording-only sessions.
func NewSession(cfg Config, open Opener, detector detection.Detector) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()[:8]
	empty := []detection.Object{}
	s := &Session{
		id:       id,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "capture", "session", id),
		open:     open,
		detector: detector,
		create: func(path string, fps float64, w, h int) (video.Sink, error) {
			return video.CreateFile(path, fps, w, h)
		},
		readyCh: make(chan struct{}),
		queue:   NewFrameQueue[Frame](cfg.QueueCapacity),
	}
	s.detections.Store(&empty)
	return s
}

// WithSink replaces the recording encoder. Call before Start.
func (s *Session) WithSink(create SinkCreator) *Session {
	s.create = create
	return s
}

// SetListener registers a callback for detection batches. Call before Start.
func (s *Session) SetListener(l Listener) {
	s.listener = l
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// HasDetector reports whether detection runs in this session.
func (s *Session) HasDetector() bool { return s.detector != nil }

// Info returns the source metadata once started.
func (s *Session) Info() video.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Epoch returns the ready instant, or false while warming up.
func (s *Session) Epoch() (time.Time, bool) {
	n := s.epoch.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// Start opens the source and launches the producer and consumer. It
// returns once the goroutines run; the session becomes READY after the
// warm-up delay.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateIdle {
		return ErrAlreadyStarted
	}

	src, err := s.open(ctx)
	if err != nil {
		if !errors.Is(err, video.ErrSourceUnavailable) {
			err = &video.SourceError{Target: "capture source", Err: err}
		}
		return err
	}
	s.src = src
	s.info = src.Info()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.producerDone = make(chan struct{})
	s.consumerDone = make(chan struct{})
	s.warmDone = make(chan struct{})
	s.state.Store(int32(StateWarmingUp))

	go s.produce(runCtx)
	go s.consume(runCtx)
	go s.warmUp(runCtx)

	s.logger.Info("capture started",
		"fps", s.info.FPS,
		"width", s.info.Width,
		"height", s.info.Height,
		"warm_up", s.cfg.WarmUp,
		"detection", s.detector != nil)
	return nil
}

// WaitReady blocks until the session is READY or ctx ends.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) warmUp(ctx context.Context) {
	defer close(s.warmDone)
	if s.cfg.WarmUp > 0 {
		t := time.NewTimer(s.cfg.WarmUp)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
	s.markReady()
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() {
		// The epoch is visible before READY so readers that see READY
		// always find it set. It is withdrawn if Stop got there first.
		now := s.cfg.Now()
		s.epoch.Store(now.UnixNano())
		if !s.state.CompareAndSwap(int32(StateWarmingUp), int32(StateReady)) {
			s.epoch.Store(0)
			return
		}
		close(s.readyCh)
		s.logger.Info("capture ready", "epoch", now)
	})
}

func (s *Session) produce(ctx context.Context) {
	defer close(s.producerDone)
	defer s.src.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	var seq uint64
	for ctx.Err() == nil {
		if !s.src.Next(&frame) {
			if ctx.Err() == nil {
				s.logger.Warn("capture source ended", "frames", seq)
			}
			return
		}
		seq++

		if s.State() == StateReady {
			s.record(frame)
		}
		if s.detector == nil {
			continue
		}

		jpeg, err := encodeJPEG(frame, s.cfg.JPEGQuality)
		if err != nil {
			s.logger.Debug("jpeg encode failed", "seq", seq, "error", err)
			continue
		}
		s.queue.Push(Frame{Seq: seq, JPEG: jpeg, CapturedAt: s.cfg.Now()})
	}
}

// record tees a frame into the recording, opening it on the first READY
// frame so video time zero lines up with the ready epoch.
func (s *Session) record(frame gocv.Mat) {
	if s.recordErr != nil {
		return
	}
	if s.sink == nil {
		fps := s.info.FPS
		if fps <= 0 {
			fps = 30
		}
		path := filepath.Join(s.cfg.OutputDir,
			fmt.Sprintf("recording_%s_%s.mp4", s.cfg.Now().Format("20060102_150405"), s.id))
		sink, err := s.create(path, fps, frame.Cols(), frame.Rows())
		if err != nil {
			s.recordErr = err
			s.logger.Error("failed to open recording", "path", path, "error", err)
			return
		}
		s.sink, s.sinkPath = sink, path
		s.sinkInfo = video.Info{FPS: fps, Width: frame.Cols(), Height: frame.Rows()}
	}
	if err := s.sink.Write(frame); err != nil {
		s.recordErr = err
		s.logger.Error("recording write failed", "frames", s.recorded, "error", err)
		return
	}
	s.recorded++
}

func encodeJPEG(frame gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

func (s *Session) consume(ctx context.Context) {
	defer close(s.consumerDone)

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	for {
		f, ok := s.queue.DrainLatest()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-poll.C:
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		s.latest.Store(&f)
		if s.State() != StateReady {
			continue
		}

		objs, err := s.detector.Detect(f.JPEG)
		if err != nil {
			s.logger.Debug("detection failed", "seq", f.Seq, "error", err)
			continue
		}
		s.processed.Add(1)
		s.publish(objs)
	}
}

func (s *Session) publish(objs []detection.Object) {
	epoch, ok := s.Epoch()
	if !ok {
		return
	}
	ts := s.cfg.Now().Sub(epoch).Seconds()

	snapshot := append([]detection.Object(nil), objs...)
	s.detections.Store(&snapshot)

	if len(objs) > 0 {
		s.logMu.Lock()
		for _, o := range objs {
			s.log = append(s.log, LogEntry{
				ObjectName: o.Name,
				Confidence: o.Confidence,
				Timestamp:  ts,
				BBox:       o.BBox,
			})
		}
		s.logMu.Unlock()
	}

	if s.listener != nil {
		s.listener(ts, snapshot)
	}
}

// Detections returns the most recent detection batch. It never blocks the
// consumer.
func (s *Session) Detections() []detection.Object {
	return *s.detections.Load()
}

// LatestFrame returns the newest frame the consumer has drained.
func (s *Session) LatestFrame() (Frame, bool) {
	f := s.latest.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// Log returns a copy of the detection log.
func (s *Session) Log() []LogEntry {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	return append([]LogEntry(nil), s.log...)
}

// Stats returns queue drops and processed detections so far.
func (s *Session) Stats() (dropped, processed uint64) {
	return s.queue.Dropped(), s.processed.Load()
}

// Stop ends the session and returns the recording. It is safe to call more
// than once; later calls return the first result.
func (s *Session) Stop() (*Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateIdle:
		return nil, ErrNotStarted
	case StateStopped:
		return s.result, s.stopErr
	}

	s.state.Store(int32(StateStopped))
	s.cancel()

	producerExited := s.join(s.producerDone)
	if !producerExited {
		if k, ok := s.src.(Killer); ok {
			s.logger.Warn("producer did not stop, killing source")
			if err := k.Kill(); err != nil {
				s.logger.Error("kill failed", "error", err)
			}
			producerExited = s.join(s.producerDone)
		}
	}
	if !s.join(s.consumerDone) {
		s.logger.Warn("consumer did not stop in time")
	}
	<-s.warmDone

	discarded := len(s.queue.Drain())

	rec := &Recording{
		ID:        s.id,
		Log:       s.Log(),
		FPS:       s.info.FPS,
		Width:     s.info.Width,
		Height:    s.info.Height,
		Dropped:   s.queue.Dropped(),
		Processed: s.processed.Load(),
	}
	if epoch, ok := s.Epoch(); ok {
		rec.ReadyAt = epoch
	}

	if producerExited && s.sink != nil {
		rec.FPS, rec.Width, rec.Height = s.sinkInfo.FPS, s.sinkInfo.Width, s.sinkInfo.Height
	}

	if !producerExited {
		// The producer still owns the encoder; leave it alone.
		s.stopErr = ErrJoinTimeout
		s.logger.Error("capture stop timed out", "timeout", s.cfg.JoinTimeout)
	} else {
		rec.VideoPath, rec.Frames, s.stopErr = s.finalizeRecording()
	}

	s.result = rec
	s.logger.Info("capture stopped",
		"frames", rec.Frames,
		"detections", len(rec.Log),
		"dropped", rec.Dropped,
		"discarded", discarded)
	return rec, s.stopErr
}

func (s *Session) join(done chan struct{}) bool {
	t := time.NewTimer(s.cfg.JoinTimeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func (s *Session) finalizeRecording() (string, int, error) {
	if s.sink == nil {
		return "", 0, s.recordErr
	}
	err := s.sink.Close()
	if err == nil {
		err = s.recordErr
	}
	if err != nil || s.recorded == 0 {
		os.Remove(s.sinkPath)
		return "", 0, err
	}
	return s.sinkPath, s.recorded, nil
}
