package play

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/voicememo/internal/audio"
	"github.com/audiolibrelab/voicememo/internal/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	events chan<- audio.PlaybackEvent

	mu       sync.Mutex
	playing  bool
	seeks    []float64
	released int
}

func (h *fakeHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = true
	return nil
}

func (h *fakeHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
}

func (h *fakeHandle) Seek(seconds float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seeks = append(h.seeks, seconds)
	return nil
}

func (h *fakeHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released++
	return nil
}

func (h *fakeHandle) releaseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *fakeHandle) lastSeek() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seeks[len(h.seeks)-1]
}

type fakeBinder struct {
	err error

	mu      sync.Mutex
	handles []*fakeHandle
}

func (b *fakeBinder) Bind(_ recording.Payload, events chan<- audio.PlaybackEvent) (audio.Handle, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := &fakeHandle{events: events}
	b.handles = append(b.handles, h)
	return h, nil
}

func (b *fakeBinder) last() *fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handles[len(b.handles)-1]
}

func testRecording(id string, duration int) recording.Recording {
	return recording.New(id, recording.NewPayload(recording.PreferredMimeType, nil), duration)
}

// observed collects observer notifications.
type observed struct {
	ch chan State
}

func newObserved() *observed {
	return &observed{ch: make(chan State, 64)}
}

func (o *observed) fn(s State) { o.ch <- s }

func (o *observed) waitFor(t *testing.T, pred func(State) bool) State {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-o.ch:
			if pred(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for player state")
			return State{}
		}
	}
}

func TestUnboundOperationsAreNoops(t *testing.T) {
	p := New(&fakeBinder{})

	assert.NoError(t, p.Play())
	p.Pause()
	assert.NoError(t, p.Seek(3))
	assert.NoError(t, p.Close())

	assert.False(t, p.IsPlaying())
	assert.Equal(t, 0.0, p.Position())
	assert.False(t, p.State().Bound)
}

func TestBindStartsPausedAtZero(t *testing.T) {
	binder := &fakeBinder{}
	p := New(binder)

	require.NoError(t, p.Bind(testRecording("a", 10)))
	defer p.Close()

	state := p.State()
	assert.True(t, state.Bound)
	assert.False(t, state.Playing)
	assert.Equal(t, 0.0, state.Position)
	assert.Equal(t, 10, state.Duration)
	assert.Equal(t, "a", state.RecordingID)
}

func TestBindFailure(t *testing.T) {
	p := New(&fakeBinder{err: errors.New("no output")})

	err := p.Bind(testRecording("a", 1))
	require.Error(t, err)
	assert.False(t, p.State().Bound)
}

func TestPlayPauseKeepsPosition(t *testing.T) {
	binder := &fakeBinder{}
	obs := newObserved()
	p := New(binder, WithObserver(obs.fn))

	require.NoError(t, p.Bind(testRecording("a", 10)))
	defer p.Close()
	handle := binder.last()

	require.NoError(t, p.Play())
	assert.True(t, p.IsPlaying())

	handle.events <- audio.PlaybackEvent{Kind: audio.PlaybackTimeUpdate, Position: 2.5}
	obs.waitFor(t, func(s State) bool { return s.Position == 2.5 })

	p.Pause()
	assert.False(t, p.IsPlaying())
	assert.Equal(t, 2.5, p.Position())

	// progress arriving after pause does not move the play head
	handle.events <- audio.PlaybackEvent{Kind: audio.PlaybackTimeUpdate, Position: 2.75}
	handle.events <- audio.PlaybackEvent{Kind: audio.PlaybackEnded}
	obs.waitFor(t, func(s State) bool { return !s.Playing })
	assert.Equal(t, 2.5, p.Position())
}

func TestSeekSetsPositionExactly(t *testing.T) {
	for _, playing := range []bool{false, true} {
		binder := &fakeBinder{}
		p := New(binder)
		require.NoError(t, p.Bind(testRecording("a", 10)))

		if playing {
			require.NoError(t, p.Play())
		}

		require.NoError(t, p.Seek(4.25))
		assert.Equal(t, 4.25, p.Position())
		assert.Equal(t, 4.25, binder.last().lastSeek())
		assert.Equal(t, playing, p.IsPlaying(), "seek must not change playing state")

		require.NoError(t, p.Close())
	}
}

func TestSeekClamps(t *testing.T) {
	binder := &fakeBinder{}
	p := New(binder)
	require.NoError(t, p.Bind(testRecording("a", 10)))
	defer p.Close()

	require.NoError(t, p.Seek(-3))
	assert.Equal(t, 0.0, p.Position())

	require.NoError(t, p.Seek(42))
	assert.Equal(t, 10.0, p.Position())
	assert.Equal(t, 10.0, binder.last().lastSeek())
}

func TestNaturalEndStopsPlaying(t *testing.T) {
	binder := &fakeBinder{}
	obs := newObserved()
	p := New(binder, WithObserver(obs.fn))

	require.NoError(t, p.Bind(testRecording("a", 3)))
	defer p.Close()
	handle := binder.last()

	require.NoError(t, p.Play())
	handle.events <- audio.PlaybackEvent{Kind: audio.PlaybackTimeUpdate, Position: 3.02}
	handle.events <- audio.PlaybackEvent{Kind: audio.PlaybackEnded}

	state := obs.waitFor(t, func(s State) bool { return !s.Playing && s.Position > 0 })
	assert.Equal(t, 3.0, state.Position)
	assert.False(t, p.IsPlaying())

	// playing again starts over
	require.NoError(t, p.Play())
	assert.Equal(t, 0.0, p.Position())
	assert.True(t, p.IsPlaying())
}

func TestPlayAfterEndRewindsHandle(t *testing.T) {
	binder := &fakeBinder{}
	obs := newObserved()
	p := New(binder, WithObserver(obs.fn))

	require.NoError(t, p.Bind(testRecording("a", 3)))
	defer p.Close()
	handle := binder.last()

	require.NoError(t, p.Play())
	// an end notification already in flight when the user scrubs
	require.NoError(t, p.Seek(2))
	handle.events <- audio.PlaybackEvent{Kind: audio.PlaybackEnded}
	obs.waitFor(t, func(s State) bool { return !s.Playing && s.Position == 2 })

	require.NoError(t, p.Play())
	assert.Equal(t, 0.0, handle.lastSeek())
	assert.Equal(t, 0.0, p.Position())
	assert.True(t, p.IsPlaying())
}

func TestCloseReleasesHandle(t *testing.T) {
	binder := &fakeBinder{}
	p := New(binder)

	require.NoError(t, p.Bind(testRecording("a", 3)))
	require.NoError(t, p.Play())
	handle := binder.last()

	require.NoError(t, p.Close())
	assert.Equal(t, 1, handle.releaseCount())
	assert.False(t, p.State().Bound)
	assert.False(t, p.IsPlaying())

	require.NoError(t, p.Close())
	assert.Equal(t, 1, handle.releaseCount())
}

func TestRebind(t *testing.T) {
	binder := &fakeBinder{}
	p := New(binder)
	defer p.Close()

	require.NoError(t, p.Bind(testRecording("a", 3)))
	first := binder.last()

	require.NoError(t, p.Rebind(testRecording("a", 3)))
	assert.Same(t, first, binder.last(), "same recording keeps its handle")

	require.NoError(t, p.Rebind(testRecording("b", 5)))
	assert.Equal(t, 1, first.releaseCount())
	assert.Equal(t, "b", p.State().RecordingID)
	assert.Equal(t, 0.0, p.Position())

	// events from the old handle are ignored
	require.NoError(t, p.Play())
	first.events <- audio.PlaybackEvent{Kind: audio.PlaybackEnded}
	assert.True(t, p.IsPlaying())
}

func TestFailureUnbinds(t *testing.T) {
	binder := &fakeBinder{}
	obs := newObserved()
	p := New(binder, WithObserver(obs.fn))

	require.NoError(t, p.Bind(testRecording("a", 3)))
	handle := binder.last()
	require.NoError(t, p.Play())

	handle.events <- audio.PlaybackEvent{Kind: audio.PlaybackFailed, Err: errors.New("short read")}
	obs.waitFor(t, func(s State) bool { return !s.Bound })

	assert.ErrorIs(t, p.Err(), ErrDecode)
	assert.False(t, p.IsPlaying())
	assert.Eventually(t, func() bool { return handle.releaseCount() == 1 }, 2*time.Second, time.Millisecond)

	// operations after the failure are no-ops
	assert.NoError(t, p.Play())
	assert.False(t, p.IsPlaying())
	assert.NoError(t, p.Close())
}

func TestPlayersAreIndependent(t *testing.T) {
	binder := &fakeBinder{}
	a := New(binder)
	b := New(binder)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Bind(testRecording("a", 10)))
	require.NoError(t, b.Bind(testRecording("b", 10)))

	require.NoError(t, a.Play())
	require.NoError(t, a.Seek(7))

	assert.True(t, a.IsPlaying())
	assert.False(t, b.IsPlaying())
	assert.Equal(t, 7.0, a.Position())
	assert.Equal(t, 0.0, b.Position())
}
