// Package play binds recordings to playback handles and mirrors their
// position for a scrub control.
package play

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/audiolibrelab/voicememo/internal/audio"
	"github.com/audiolibrelab/voicememo/internal/recording"
)

// ErrDecode is kept by a Player whose handle failed mid-playback.
var ErrDecode = errors.New("playback failed")

// State is a snapshot of a Player.
type State struct {
	RecordingID string
	Bound       bool
	Playing     bool
	Position    float64
	Duration    int
}

// Option configures a Player.
type Option func(*Player)

// WithObserver registers fn to be called after every state change,
// including each progress tick. fn runs on the player's event goroutine.
func WithObserver(fn func(State)) Option {
	return func(p *Player) { p.observers = append(p.observers, fn) }
}

// Player is the playback controller for one recording. The zero binding is
// Unbound; every operation on an unbound player is a no-op.
type Player struct {
	binder    audio.Binder
	observers []func(State)

	mu       sync.Mutex
	rec      recording.Recording
	handle   audio.Handle
	binding  *binding
	playing  bool
	ended    bool
	position float64
	err      error
}

// binding groups what one Bind call owns.
type binding struct {
	events chan audio.PlaybackEvent
	quit   chan struct{}
	done   chan struct{}
}

// New creates an unbound player.
func New(binder audio.Binder, opts ...Option) *Player {
	p := &Player{binder: binder}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bind creates a handle for rec, releasing any previous one. The player
// starts paused at position 0.
func (p *Player) Bind(rec recording.Recording) error {
	if err := p.Close(); err != nil {
		slog.Warn("Failed to release previous playback handle", "error", err)
	}

	b := &binding{
		events: make(chan audio.PlaybackEvent, 16),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	handle, err := p.binder.Bind(rec.Payload(), b.events)
	if err != nil {
		return fmt.Errorf("failed to bind recording %s: %w", rec.ID(), err)
	}

	p.mu.Lock()
	p.rec = rec
	p.handle = handle
	p.binding = b
	p.playing = false
	p.ended = false
	p.position = 0
	p.err = nil
	state := p.stateLocked()
	p.mu.Unlock()

	go p.loop(b)

	slog.Debug("Player bound", "id", rec.ID())
	p.notify(state)
	return nil
}

// Rebind switches to rec when it differs from the bound recording.
func (p *Player) Rebind(rec recording.Recording) error {
	p.mu.Lock()
	same := p.handle != nil && p.rec.ID() == rec.ID()
	p.mu.Unlock()

	if same {
		return nil
	}
	return p.Bind(rec)
}

// Close releases the handle and returns the player to Unbound. It is safe
// to call on an unbound player.
func (p *Player) Close() error {
	p.mu.Lock()
	handle, b := p.unbindLocked()
	state := p.stateLocked()
	p.mu.Unlock()

	if handle == nil {
		return nil
	}

	err := handle.Release()
	close(b.quit)
	<-b.done

	slog.Debug("Player unbound", "id", state.RecordingID)
	p.notify(state)
	return err
}

// Play starts or resumes playback from the current position. After a
// natural end it starts over from 0.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil {
		return nil
	}
	if p.ended {
		// the handle may sit anywhere if a seek raced the end
		if err := p.handle.Seek(0); err != nil {
			return fmt.Errorf("failed to rewind recording %s: %w", p.rec.ID(), err)
		}
		p.ended = false
		p.position = 0
	}
	if err := p.handle.Play(); err != nil {
		return fmt.Errorf("failed to play recording %s: %w", p.rec.ID(), err)
	}
	p.playing = true
	return nil
}

// Pause halts playback and keeps the position.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil {
		return
	}
	p.handle.Pause()
	p.playing = false
}

// Seek moves the play head to seconds, clamped to [0, duration]. The
// playing state is unchanged.
func (p *Player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil {
		return nil
	}

	target := clamp(seconds, float64(p.rec.Duration()))
	if err := p.handle.Seek(target); err != nil {
		return fmt.Errorf("failed to seek recording %s: %w", p.rec.ID(), err)
	}
	p.position = target
	p.ended = false
	return nil
}

// IsPlaying reports whether playback is running.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Position returns the play head in seconds.
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Err returns the failure that unbound the player, if any.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// State returns a snapshot.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Player) loop(b *binding) {
	defer close(b.done)

	for {
		select {
		case <-b.quit:
			return
		case ev := <-b.events:
			p.handleEvent(b, ev)
		}
	}
}

func (p *Player) handleEvent(b *binding, ev audio.PlaybackEvent) {
	p.mu.Lock()
	if p.binding != b {
		// stale event from a released handle
		p.mu.Unlock()
		return
	}

	switch ev.Kind {
	case audio.PlaybackTimeUpdate:
		if !p.playing {
			p.mu.Unlock()
			return
		}
		p.position = clamp(ev.Position, float64(p.rec.Duration()))
		state := p.stateLocked()
		p.mu.Unlock()
		p.notify(state)

	case audio.PlaybackEnded:
		p.playing = false
		p.ended = true
		state := p.stateLocked()
		p.mu.Unlock()
		slog.Debug("Playback ended", "id", state.RecordingID)
		p.notify(state)

	case audio.PlaybackFailed:
		id := p.rec.ID()
		handle, _ := p.unbindLocked()
		p.err = fmt.Errorf("%w: %v", ErrDecode, ev.Err)
		state := p.stateLocked()
		p.mu.Unlock()

		// The loop exits once quit is closed; nobody waits on done here.
		close(b.quit)
		if err := handle.Release(); err != nil {
			slog.Warn("Failed to release playback handle", "id", id, "error", err)
		}
		slog.Error("Playback failed", "id", id, "error", ev.Err)
		p.notify(state)

	default:
		p.mu.Unlock()
	}
}

// unbindLocked detaches the current handle. The caller releases it.
func (p *Player) unbindLocked() (audio.Handle, *binding) {
	handle, b := p.handle, p.binding
	p.handle = nil
	p.binding = nil
	p.playing = false
	p.ended = false
	p.position = 0
	return handle, b
}

func (p *Player) stateLocked() State {
	return State{
		RecordingID: p.rec.ID(),
		Bound:       p.handle != nil,
		Playing:     p.playing,
		Position:    p.position,
		Duration:    p.rec.Duration(),
	}
}

func (p *Player) notify(state State) {
	for _, fn := range p.observers {
		fn(state)
	}
}

func clamp(seconds, duration float64) float64 {
	if seconds < 0 || math.IsNaN(seconds) {
		return 0
	}
	if seconds > duration {
		return duration
	}
	return seconds
}
