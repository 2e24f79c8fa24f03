package session

import (
	"errors"
	"fmt"

	"github.com/audiolibrelab/voicememo/internal/audio"
)

// Start failures. A failed start never leaves a session behind.
var (
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrDeviceNotFound     = errors.New("microphone not found")
	ErrCaptureUnavailable = errors.New("microphone unavailable")
)

// ErrEncoding is published when an active session loses its input. The
// captured data is discarded.
var ErrEncoding = errors.New("recording interrupted")

// Message returns the text shown to the user for err.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone access was denied. Allow access and try again."
	case errors.Is(err, ErrDeviceNotFound):
		return "No microphone was found. Connect one and try again."
	case errors.Is(err, ErrCaptureUnavailable):
		return "The microphone could not be started."
	case errors.Is(err, ErrEncoding):
		return "Recording stopped unexpectedly and was discarded."
	default:
		return err.Error()
	}
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, audio.ErrAccessDenied):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, audio.ErrNoDevice):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
}
