package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/voicememo/internal/recording"
	"github.com/ebitengine/oto/v3"
)

// PlaybackEventKind identifies a playback notification.
type PlaybackEventKind int

const (
	PlaybackTimeUpdate PlaybackEventKind = iota
	PlaybackEnded
	PlaybackFailed
)

// PlaybackEvent is sent by a Handle on the channel passed to Bind.
type PlaybackEvent struct {
	Kind     PlaybackEventKind
	Position float64
	Err      error
}

// Handle is a playable resource bound to one payload.
type Handle interface {
	// Play starts from the current position, or from the start when the
	// previous run reached the end.
	Play() error
	Pause()
	Seek(seconds float64) error
	// Release stops playback and frees the backing resource. It is safe to
	// call more than once. No events are sent after it returns.
	Release() error
}

// Binder creates playback handles.
type Binder interface {
	Bind(payload recording.Payload, events chan<- PlaybackEvent) (Handle, error)
}

// OtoBinder materialises payloads as temporary files and plays them through
// the process-wide oto context.
type OtoBinder struct {
	format    recording.PCMFormat
	tick      time.Duration
	volume    float64
	tempDir   string
	newTicker TickerFactory
}

// NewOtoBinder creates a binder whose output runs at format. Payloads in any
// other format are rejected.
func NewOtoBinder(format recording.PCMFormat, tick time.Duration, volume float64, tempDir string) *OtoBinder {
	return &OtoBinder{
		format:    format,
		tick:      tick,
		volume:    volume,
		tempDir:   tempDir,
		newTicker: NewTicker,
	}
}

var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat recording.PCMFormat
	otoErr    error
)

// otoContext returns the process-wide output. oto allows a single context,
// so the first caller fixes the format.
func otoContext(format recording.PCMFormat) (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoFormat = format
	})

	if otoErr != nil {
		return nil, otoErr
	}
	if otoFormat != format {
		return nil, fmt.Errorf("audio output already opened at %d Hz, %d channels", otoFormat.SampleRate, otoFormat.Channels)
	}
	return otoCtx, nil
}

// Bind writes payload to a temp file and prepares a paused player on it.
func (b *OtoBinder) Bind(payload recording.Payload, events chan<- PlaybackEvent) (Handle, error) {
	file, err := os.CreateTemp(b.tempDir, "voicememo-*"+extension(payload.MimeType()))
	if err != nil {
		return nil, fmt.Errorf("failed to create playback file: %w", err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(file.Name())
	}

	if _, err := io.Copy(file, payload.NewReader()); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to write playback file: %w", err)
	}

	layout, err := recording.DecodeLayout(payload.MimeType(), file, int64(payload.Len()))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if layout.Length > 0 && layout.Format != b.format {
		cleanup()
		return nil, fmt.Errorf("payload is %d Hz, %d channels; output is %d Hz, %d channels",
			layout.Format.SampleRate, layout.Format.Channels, b.format.SampleRate, b.format.Channels)
	}

	ctx, err := otoContext(b.format)
	if err != nil {
		cleanup()
		return nil, err
	}

	src := newSampleReader(io.NewSectionReader(file, layout.Offset, layout.Length), layout.BigEndian)
	player := ctx.NewPlayer(src)
	player.SetVolume(b.volume)

	h := &otoHandle{
		file:     file,
		player:   player,
		src:      src,
		length:   layout.Length,
		duration: layout.Duration(),
		bps:      b.format.BytesPerSecond(),
		frame:    int64(b.format.FrameSize()),
		events:   events,
		done:     make(chan struct{}),
	}
	h.wg.Add(1)
	go h.watch(b.newTicker(b.tick))

	slog.Debug("Playback handle bound", "file", file.Name(), "bytes", layout.Length, "mime", payload.MimeType())
	return h, nil
}

func extension(mimeType string) string {
	mediaType, _, _ := mime.ParseMediaType(mimeType)
	if mediaType == recording.PreferredMimeType {
		return ".wav"
	}
	return ".pcm"
}

type otoHandle struct {
	file     *os.File
	player   *oto.Player
	src      *sampleReader
	length   int64
	duration float64
	bps      int
	frame    int64
	events   chan<- PlaybackEvent

	mu       sync.Mutex
	playing  bool
	released bool

	done chan struct{}
	wg   sync.WaitGroup
}

func (h *otoHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	if h.length > 0 && h.src.Pos() >= h.length && h.player.BufferedSize() == 0 {
		if _, err := h.player.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind: %w", err)
		}
	}
	h.player.Play()
	h.playing = true
	return nil
}

func (h *otoHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	h.player.Pause()
	h.playing = false
}

func (h *otoHandle) Seek(seconds float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	offset := int64(seconds * float64(h.bps))
	offset -= offset % h.frame
	if offset < 0 {
		offset = 0
	}
	if offset > h.length {
		offset = h.length
	}
	if _, err := h.player.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

func (h *otoHandle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.playing = false
	close(h.done)
	h.mu.Unlock()

	h.wg.Wait()

	var errs []error
	if err := h.player.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close player: %w", err))
	}
	if err := h.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close playback file: %w", err))
	}
	if err := os.Remove(h.file.Name()); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove playback file: %w", err))
	}

	slog.Debug("Playback handle released", "file", h.file.Name())
	return errors.Join(errs...)
}

// position is what has been heard so far: bytes handed to oto minus what is
// still queued.
func (h *otoHandle) position() float64 {
	heard := h.src.Pos() - int64(h.player.BufferedSize())
	if heard < 0 {
		heard = 0
	}
	return float64(heard) / float64(h.bps)
}

func (h *otoHandle) watch(ticker Ticker) {
	defer h.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C():
		}

		var pending []PlaybackEvent
		h.mu.Lock()
		if h.playing {
			if h.player.IsPlaying() {
				pending = append(pending, PlaybackEvent{Kind: PlaybackTimeUpdate, Position: h.position()})
			} else {
				h.playing = false
				if err := h.player.Err(); err != nil {
					pending = append(pending, PlaybackEvent{Kind: PlaybackFailed, Err: err})
				} else {
					pending = append(pending,
						PlaybackEvent{Kind: PlaybackTimeUpdate, Position: h.duration},
						PlaybackEvent{Kind: PlaybackEnded})
				}
			}
		}
		h.mu.Unlock()

		for _, ev := range pending {
			select {
			case h.events <- ev:
			case <-h.done:
				return
			}
		}
	}
}

// sampleReader feeds PCM to oto. It tracks the read offset for position
// reporting and converts big-endian samples to little-endian.
type sampleReader struct {
	r    io.ReadSeeker
	swap bool
	pos  atomic.Int64
}

func newSampleReader(r io.ReadSeeker, swap bool) *sampleReader {
	return &sampleReader{r: r, swap: swap}
}

func (s *sampleReader) Read(p []byte) (int, error) {
	if s.swap && len(p) > 1 {
		// keep reads sample aligned so pairs never straddle calls
		p = p[:len(p)&^1]
	}
	n, err := s.r.Read(p)
	if s.swap {
		recording.SwapSampleBytes(p[:n])
	}
	s.pos.Add(int64(n))
	return n, err
}

func (s *sampleReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := s.r.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	s.pos.Store(pos)
	return pos, nil
}

// Pos returns the offset of the next byte to be read.
func (s *sampleReader) Pos() int64 {
	return s.pos.Load()
}
