package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EncoderState mirrors the two states a session cares about.
type EncoderState string

const (
	EncoderInactive  EncoderState = "inactive"
	EncoderRecording EncoderState = "recording"
)

// EncoderEventKind identifies an encoder notification.
type EncoderEventKind int

const (
	// EventFragment carries a chunk of encoded data. Data may be empty.
	EventFragment EncoderEventKind = iota
	// EventStopped follows the final fragment after Stop.
	EventStopped
	// EventFailed reports that encoding ended without Stop being called.
	EventFailed
)

// EncoderEvent is sent by an Encoder on the channel passed to Start.
type EncoderEvent struct {
	Kind EncoderEventKind
	Data []byte
	Err  error
}

// ErrStreamClosed is reported when the input stream ends mid-session.
var ErrStreamClosed = errors.New("audio: input stream closed while encoding")

// Encoder turns a live stream into a sequence of fragments.
type Encoder interface {
	Start(stream Stream, events chan<- EncoderEvent) error
	// Stop asks the encoder to flush. The final fragment and EventStopped
	// are delivered asynchronously.
	Stop()
	State() EncoderState
}

// PCMEncoder passes captured PCM through untouched, batching it into one
// fragment per timeslice. A zero timeslice yields a single fragment on Stop.
type PCMEncoder struct {
	timeslice time.Duration

	mu    sync.Mutex
	state EncoderState
	stop  chan struct{}
}

// NewPCMEncoder creates an inactive encoder.
func NewPCMEncoder(timeslice time.Duration) *PCMEncoder {
	return &PCMEncoder{timeslice: timeslice, state: EncoderInactive}
}

// Start begins reading from stream. Events are sent on events until
// EventStopped or EventFailed, which is always the last event.
func (e *PCMEncoder) Start(stream Stream, events chan<- EncoderEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == EncoderRecording {
		return fmt.Errorf("encoder already recording")
	}

	e.state = EncoderRecording
	e.stop = make(chan struct{})
	go e.run(stream.Frames(), events, e.stop)

	slog.Debug("PCM encoder started", "timeslice", e.timeslice)
	return nil
}

// Stop is a no-op unless the encoder is recording.
func (e *PCMEncoder) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != EncoderRecording {
		return
	}
	e.state = EncoderInactive
	close(e.stop)
}

// State returns the current state.
func (e *PCMEncoder) State() EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *PCMEncoder) run(frames <-chan []byte, events chan<- EncoderEvent, stop <-chan struct{}) {
	var buf []byte

	var tick <-chan time.Time
	if e.timeslice > 0 {
		ticker := time.NewTicker(e.timeslice)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				e.mu.Lock()
				stopped := e.state == EncoderInactive
				e.state = EncoderInactive
				e.mu.Unlock()

				events <- EncoderEvent{Kind: EventFragment, Data: buf}
				if stopped {
					events <- EncoderEvent{Kind: EventStopped}
				} else {
					slog.Warn("Input stream ended while encoding")
					events <- EncoderEvent{Kind: EventFailed, Err: ErrStreamClosed}
				}
				return
			}
			buf = append(buf, frame...)

		case <-tick:
			events <- EncoderEvent{Kind: EventFragment, Data: buf}
			buf = nil

		case <-stop:
			buf = drain(frames, buf)
			events <- EncoderEvent{Kind: EventFragment, Data: buf}
			events <- EncoderEvent{Kind: EventStopped}
			slog.Debug("PCM encoder flushed")
			return
		}
	}
}

// drain appends whatever frames are already queued without blocking.
func drain(frames <-chan []byte, buf []byte) []byte {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return buf
			}
			buf = append(buf, frame...)
		default:
			return buf
		}
	}
}
