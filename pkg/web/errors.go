package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-heatmap/pkg/capture"
	"github.com/teslashibe/go-heatmap/pkg/detection"
	"github.com/teslashibe/go-heatmap/pkg/heatmap"
	"github.com/teslashibe/go-heatmap/pkg/video"
)

var (
	errSessionActive = errors.New("a capture session is already running")
	errNoSession     = errors.New("no active capture session")
	errNoCamera      = errors.New("no camera configured")
	errNoFrame       = errors.New("no frame captured yet")
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, detection.ErrDetectionUnavailable), errors.Is(err, errNoCamera):
		return fiber.StatusServiceUnavailable
	case heatmap.StageOf(err) == "" && errors.Is(err, video.ErrSourceUnavailable):
		// Camera could not be opened.
		return fiber.StatusServiceUnavailable
	case errors.Is(err, errSessionActive), errors.Is(err, capture.ErrAlreadyStarted):
		return fiber.StatusConflict
	case errors.Is(err, errNoSession), errors.Is(err, errNoFrame):
		return fiber.StatusBadRequest
	case errors.Is(err, detection.ErrDecode):
		return fiber.StatusUnprocessableEntity
	}
	switch heatmap.StageOf(err) {
	case heatmap.StageNormalize:
		return fiber.StatusBadRequest
	case heatmap.StageOpen:
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

// fail writes the error body. A heatmap stage is reported when err has one.
func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(ErrorResponse{
		Status:  "error",
		Stage:   string(heatmap.StageOf(err)),
		Message: err.Error(),
	})
}

// badRequest reports a malformed request.
func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Status: "error", Message: msg})
}
