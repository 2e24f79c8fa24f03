package audio

import (
	"context"
	"errors"
)

// Capture errors reported by CaptureDevice.Open. Anything else is a generic
// acquisition failure.
var (
	ErrAccessDenied = errors.New("audio: capture access denied")
	ErrNoDevice     = errors.New("audio: no capture device")
)

// CaptureDevice acquires a live audio-only input stream.
type CaptureDevice interface {
	// Open may block until the platform grants or refuses access.
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live microphone stream. Holding it open keeps the device busy
// and the OS recording indicator on.
type Stream interface {
	// Frames delivers raw s16le PCM in capture order. It is closed when the
	// stream ends, either through Close or because the device went away.
	Frames() <-chan []byte
	// Close stops every track and frees the device. It is safe to call more
	// than once.
	Close() error
}
