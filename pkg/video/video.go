// Package video provides frame-level decode and encode for heatmap
// generation and live recording. Callers see a Source that yields one
// frame at a time and a Sink that accepts frames, so nothing above this
// package depends on a particular external tool.
package video

import (
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

// DefaultCodec is the FourCC used for output files.
const DefaultCodec = "mp4v"

// Info describes a decoded stream.
type Info struct {
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameCount int     `json:"frame_count"`
}

// Source yields decoded BGR frames in order.
type Source interface {
	// Info returns stream metadata. FrameCount may be zero for live sources.
	Info() Info

	// Next reads the next frame into dst. It returns false at end of stream.
	Next(dst *gocv.Mat) bool

	// Close releases the decoder.
	Close() error
}

// Sink accepts frames for encoding.
type Sink interface {
	Write(frame gocv.Mat) error
	Close() error
}

// FileSource decodes a video file with OpenCV.
type FileSource struct {
	path string
	cap  *gocv.VideoCapture
	info Info
}

// OpenFile opens a video file for decoding.
func OpenFile(path string) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &SourceError{Target: path, Err: err}
	}
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, &SourceError{Target: path, Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &SourceError{Target: path, Err: fmt.Errorf("decoder did not open")}
	}

	return &FileSource{path: path, cap: vc, info: captureInfo(vc)}, nil
}

// Info implements Source.
func (s *FileSource) Info() Info { return s.info }

// Next implements Source.
func (s *FileSource) Next(dst *gocv.Mat) bool {
	if ok := s.cap.Read(dst); !ok {
		return false
	}
	return !dst.Empty()
}

// Close implements Source.
func (s *FileSource) Close() error {
	return s.cap.Close()
}

func captureInfo(vc *gocv.VideoCapture) Info {
	return Info{
		FPS:        vc.Get(gocv.VideoCaptureFPS),
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FrameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}
}

// FileSink encodes frames into a video file.
type FileSink struct {
	path   string
	writer *gocv.VideoWriter
	frames int
	closed bool
}

// CreateFile opens an encoder for path with the given geometry.
func CreateFile(path string, fps float64, width, height int) (*FileSink, error) {
	vw, err := gocv.VideoWriterFile(path, DefaultCodec, fps, width, height, true)
	if err != nil {
		return nil, &EncodeError{Path: path, Err: err}
	}
	if !vw.IsOpened() {
		vw.Close()
		os.Remove(path)
		return nil, &EncodeError{Path: path, Err: fmt.Errorf("encoder did not open")}
	}
	return &FileSink{path: path, writer: vw}, nil
}

// Write implements Sink.
func (s *FileSink) Write(frame gocv.Mat) error {
	if err := s.writer.Write(frame); err != nil {
		return &EncodeError{Path: s.path, Frame: s.frames, Err: err}
	}
	s.frames++
	return nil
}

// Close implements Sink. It is safe to call more than once.
func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		return &EncodeError{Path: s.path, Frame: s.frames, Err: err}
	}
	return nil
}
