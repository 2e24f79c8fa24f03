// Package session drives one microphone capture at a time, from acquiring the
// device to packaging the result into the recording library.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/voicememo/internal/audio"
	"github.com/audiolibrelab/voicememo/internal/recording"
)

// State of the controller.
type State string

const (
	StateIdle       State = "IDLE"
	StateAcquiring  State = "ACQUIRING"
	StateRecording  State = "RECORDING"
	StateFinalizing State = "FINALIZING"
)

// EventKind identifies a session notification.
type EventKind int

const (
	EventStarted EventKind = iota
	EventTick
	EventFinalized
	EventFailed
)

// Event is published on the channel returned by Events.
type Event struct {
	Kind      EventKind
	Elapsed   int
	Recording recording.Recording
	Err       error
}

const eventBuffer = 64

// Controller owns the capture lifecycle. Only one session is active at a
// time; the microphone stream belongs to it until finalize.
type Controller struct {
	device     audio.CaptureDevice
	newEncoder func() audio.Encoder
	newTicker  audio.TickerFactory
	factory    *recording.Factory
	library    *recording.Library
	events     chan Event

	mu      sync.Mutex
	state   State
	elapsed int
	chunks  [][]byte
	stream  audio.Stream
	encoder audio.Encoder
	ticker  audio.Ticker
	done    chan struct{}
	// outcome is why the last session was discarded, nil if it was kept.
	outcome error
}

// Option configures a Controller.
type Option func(*Controller)

// WithTickerFactory replaces the one-second wall clock timer.
func WithTickerFactory(f audio.TickerFactory) Option {
	return func(c *Controller) { c.newTicker = f }
}

// New creates an idle controller. Finalized recordings are appended to
// library.
func New(device audio.CaptureDevice, newEncoder func() audio.Encoder, factory *recording.Factory, library *recording.Library, opts ...Option) *Controller {
	c := &Controller{
		device:     device,
		newEncoder: newEncoder,
		newTicker:  audio.NewTicker,
		factory:    factory,
		library:    library,
		events:     make(chan Event, eventBuffer),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events delivers session notifications. Events are dropped when the
// buffer is full.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRecording reports whether a session is capturing.
func (c *Controller) IsRecording() bool {
	return c.State() == StateRecording
}

// Elapsed returns the whole seconds recorded so far in the active session.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Start acquires the microphone and begins capturing. It blocks while the
// device is being opened. Calling Start while a session is active or being
// acquired does nothing. Acquisition failures are returned as one of
// ErrPermissionDenied, ErrDeviceNotFound or ErrCaptureUnavailable.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		slog.Debug("Start ignored", "state", c.state)
		c.mu.Unlock()
		return nil
	}
	c.state = StateAcquiring
	c.mu.Unlock()

	stream, err := c.device.Open(ctx)
	if err != nil {
		c.setState(StateIdle)
		err = classifyOpenError(err)
		slog.Error("Failed to acquire microphone", "error", err)
		c.publish(Event{Kind: EventFailed, Err: err})
		return err
	}

	encoder := c.newEncoder()
	encoderEvents := make(chan audio.EncoderEvent, eventBuffer)
	if err := encoder.Start(stream, encoderEvents); err != nil {
		stream.Close()
		c.setState(StateIdle)
		err = fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		slog.Error("Failed to start encoder", "error", err)
		c.publish(Event{Kind: EventFailed, Err: err})
		return err
	}

	ticker := c.newTicker(time.Second)
	done := make(chan struct{})

	c.mu.Lock()
	c.state = StateRecording
	c.elapsed = 0
	c.chunks = nil
	c.stream = stream
	c.encoder = encoder
	c.ticker = ticker
	c.done = done
	c.outcome = nil
	c.mu.Unlock()

	go c.run(encoderEvents, ticker, done)

	slog.Info("Recording started")
	c.publish(Event{Kind: EventStarted})
	return nil
}

// Stop asks the encoder to flush. The recording is finalized asynchronously
// once the encoder confirms; watch Events for EventFinalized. Stop is a
// no-op unless a session is capturing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateRecording || c.encoder.State() != audio.EncoderRecording {
		c.mu.Unlock()
		return
	}
	c.state = StateFinalizing
	c.ticker.Stop()
	encoder := c.encoder
	c.mu.Unlock()

	slog.Debug("Stopping recording")
	encoder.Stop()
}

// Wait blocks until the most recent session has been finalized or
// discarded. A discarded session yields an error wrapping ErrEncoding. It
// returns immediately when no session was ever started.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Shutdown stops any active session and waits for it to be finalized. A
// session discarded earlier was already reported and is not an error here.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.Stop()
	if err := c.Wait(ctx); !errors.Is(err, ErrEncoding) {
		return err
	}
	return nil
}

func (c *Controller) run(encoderEvents <-chan audio.EncoderEvent, ticker audio.Ticker, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ticker.C():
			c.onTick()
		case ev := <-encoderEvents:
			switch ev.Kind {
			case audio.EventFragment:
				c.onFragment(ev.Data)
			case audio.EventStopped:
				c.finalize()
				return
			case audio.EventFailed:
				c.abort(ev.Err)
				return
			}
		}
	}
}

func (c *Controller) onTick() {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.elapsed++
	elapsed := c.elapsed
	c.mu.Unlock()

	c.publish(Event{Kind: EventTick, Elapsed: elapsed})
}

func (c *Controller) onFragment(data []byte) {
	if len(data) == 0 {
		return
	}
	c.mu.Lock()
	c.chunks = append(c.chunks, data)
	c.mu.Unlock()
}

func (c *Controller) finalize() {
	c.mu.Lock()
	chunks, elapsed, stream := c.chunks, c.elapsed, c.stream
	c.mu.Unlock()

	rec := c.factory.Create(chunks, elapsed)
	c.library.Append(rec)

	if err := stream.Close(); err != nil {
		slog.Warn("Failed to release microphone", "error", err)
	}
	c.reset()

	slog.Info("Recording finalized", "id", rec.ID(), "duration", rec.Duration(), "bytes", rec.Payload().Len())
	c.publish(Event{Kind: EventFinalized, Recording: rec})
}

// abort discards the session after an encoder failure.
func (c *Controller) abort(cause error) {
	c.mu.Lock()
	stream, ticker := c.stream, c.ticker
	c.mu.Unlock()

	ticker.Stop()
	if err := stream.Close(); err != nil {
		slog.Warn("Failed to release microphone", "error", err)
	}

	err := fmt.Errorf("%w: %v", ErrEncoding, cause)
	c.mu.Lock()
	c.outcome = err
	c.mu.Unlock()
	c.reset()

	slog.Error("Recording discarded", "error", err)
	c.publish(Event{Kind: EventFailed, Err: err})
}

func (c *Controller) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.elapsed = 0
	c.chunks = nil
	c.stream = nil
	c.encoder = nil
	c.ticker = nil
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *Controller) publish(ev Event) {
	select {
	case c.events <- ev:
	default:
		slog.Debug("Session event dropped", "kind", ev.Kind)
	}
}
