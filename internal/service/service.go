package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/voicememo/internal/audio"
	"github.com/audiolibrelab/voicememo/internal/config"
	"github.com/audiolibrelab/voicememo/internal/play"
	"github.com/audiolibrelab/voicememo/internal/recording"
	"github.com/audiolibrelab/voicememo/internal/session"
)

// Service represents the core voicememo service interface
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context) error
	StopRecording()
	WaitRecording(ctx context.Context) error
	IsRecording() bool
	Elapsed() int

	// Library operations
	ListRecordings() []recording.Recording
	LastRecording() (recording.Recording, bool)
	DeleteRecording(id string) bool

	// Playback operations
	Play(id string) error
	Pause(id string)
	Seek(id string, seconds float64) error
	PlaybackState(id string) (play.State, bool)

	// Pipeline operations
	RunPipeline(ctx context.Context, steps string, stop <-chan struct{}) error

	// Information operations
	GetConfig() *config.Config
	GetLastError() string
	Updates() <-chan Update

	Close(ctx context.Context) error
}

// Update is pushed to the presentation layer whenever something it renders
// has changed. Exactly one field is set.
type Update struct {
	Session *session.Event
	Player  *play.State
}

// ErrUnknownRecording is returned for playback operations on an id that is
// not in the library.
var ErrUnknownRecording = errors.New("unknown recording")

const (
	updateBuffer      = 128
	playbackPollEvery = 100 * time.Millisecond
)

// Option replaces a platform component, mainly for tests.
type Option func(*VoiceMemoService)

func WithCaptureDevice(device audio.CaptureDevice) Option {
	return func(s *VoiceMemoService) { s.device = device }
}

func WithEncoderFactory(f func() audio.Encoder) Option {
	return func(s *VoiceMemoService) { s.newEncoder = f }
}

func WithBinder(binder audio.Binder) Option {
	return func(s *VoiceMemoService) { s.binder = binder }
}

func WithSessionOptions(opts ...session.Option) Option {
	return func(s *VoiceMemoService) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// VoiceMemoService is the main service implementation. It owns the library,
// the session controller and one player per listed recording.
type VoiceMemoService struct {
	cfg         *config.Config
	device      audio.CaptureDevice
	newEncoder  func() audio.Encoder
	binder      audio.Binder
	sessionOpts []session.Option

	library *recording.Library
	session *session.Controller
	updates chan Update
	quit    chan struct{}
	wg      sync.WaitGroup
	closed  sync.Once

	playersMutex sync.Mutex
	players      map[string]*play.Player

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service wired to the platform devices described by cfg.
func New(cfg *config.Config, opts ...Option) *VoiceMemoService {
	s := &VoiceMemoService{
		cfg:     cfg,
		library: recording.NewLibrary(),
		updates: make(chan Update, updateBuffer),
		quit:    make(chan struct{}),
		players: make(map[string]*play.Player),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.device == nil {
		s.device = audio.NewCaptureDevice(cfg)
	}
	if s.newEncoder == nil {
		timeslice := cfg.Timeslice()
		s.newEncoder = func() audio.Encoder { return audio.NewPCMEncoder(timeslice) }
	}
	if s.binder == nil {
		s.binder = audio.NewOtoBinder(cfg.PCMFormat(), cfg.TickInterval(), cfg.Volume(), cfg.Playback.TempDir)
	}

	factory := recording.NewFactory(audio.FormatTable(cfg.Recording.Formats), cfg.PCMFormat())
	s.session = session.New(s.device, s.newEncoder, factory, s.library, s.sessionOpts...)

	s.wg.Add(1)
	go s.forwardSessionEvents()

	return s
}

// StartRecording acquires the microphone and starts a session
func (s *VoiceMemoService) StartRecording(ctx context.Context) error {
	slog.Debug("Service.StartRecording called")
	s.clearLastError() // Clear any previous errors when starting a new operation
	err := s.session.Start(ctx)
	if err != nil {
		slog.Error("Service.StartRecording failed", "error", err)
		s.setLastError(session.Message(err))
	}
	return err
}

// StopRecording stops the current session. The recording shows up in the
// library once the encoder has flushed.
func (s *VoiceMemoService) StopRecording() {
	s.session.Stop()
}

// WaitRecording blocks until the last session has been finalized. A
// session discarded mid-capture returns an error wrapping session.ErrEncoding.
func (s *VoiceMemoService) WaitRecording(ctx context.Context) error {
	return s.session.Wait(ctx)
}

func (s *VoiceMemoService) IsRecording() bool {
	return s.session.IsRecording()
}

func (s *VoiceMemoService) Elapsed() int {
	return s.session.Elapsed()
}

// ListRecordings returns the library in insertion order
func (s *VoiceMemoService) ListRecordings() []recording.Recording {
	return s.library.List()
}

// LastRecording returns the most recently finalized recording
func (s *VoiceMemoService) LastRecording() (recording.Recording, bool) {
	list := s.library.List()
	if len(list) == 0 {
		return recording.Recording{}, false
	}
	return list[len(list)-1], true
}

// DeleteRecording tears down the recording's player and evicts it. Unknown
// ids are ignored.
func (s *VoiceMemoService) DeleteRecording(id string) bool {
	s.playersMutex.Lock()
	player, ok := s.players[id]
	delete(s.players, id)
	s.playersMutex.Unlock()

	if ok {
		if err := player.Close(); err != nil {
			slog.Warn("Failed to release player", "id", id, "error", err)
		}
	}

	removed := s.library.Remove(id)
	if removed {
		slog.Info("Recording deleted", "id", id)
	}
	return removed
}

// Play starts playback of a recording, binding a player if needed
func (s *VoiceMemoService) Play(id string) error {
	player, err := s.playerFor(id)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to play recording: %v", err))
		return err
	}
	if err := player.Play(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to play recording: %v", err))
		return err
	}
	s.clearLastError()
	return nil
}

// Pause pauses playback; unknown or unbound recordings are ignored
func (s *VoiceMemoService) Pause(id string) {
	if player, ok := s.existingPlayer(id); ok {
		player.Pause()
	}
}

// Seek moves the play head of a recording
func (s *VoiceMemoService) Seek(id string, seconds float64) error {
	player, ok := s.existingPlayer(id)
	if !ok {
		return nil
	}
	if err := player.Seek(seconds); err != nil {
		s.setLastError(fmt.Sprintf("Failed to seek: %v", err))
		return err
	}
	return nil
}

// PlaybackState returns the player snapshot for a recording
func (s *VoiceMemoService) PlaybackState(id string) (play.State, bool) {
	player, ok := s.existingPlayer(id)
	if !ok {
		return play.State{}, false
	}
	return player.State(), true
}

// RunPipeline executes a sequence of operations (r=record, p=play). A record
// step lasts until stop is closed or ctx is cancelled.
func (s *VoiceMemoService) RunPipeline(ctx context.Context, steps string, stop <-chan struct{}) error {
	for _, step := range strings.ToLower(steps) {
		switch step {
		case 'r':
			if err := s.StartRecording(ctx); err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
			select {
			case <-stop:
			case <-ctx.Done():
			}
			s.StopRecording()
			// finalize is quick; don't let a cancelled ctx lose the recording
			if err := s.WaitRecording(context.WithoutCancel(ctx)); err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
		case 'p':
			if err := s.playLast(ctx); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}
	return nil
}

// playLast plays the newest recording to the end
func (s *VoiceMemoService) playLast(ctx context.Context) error {
	rec, ok := s.LastRecording()
	if !ok {
		return fmt.Errorf("no recording to play")
	}
	if err := s.Play(rec.ID()); err != nil {
		return err
	}

	player, _ := s.existingPlayer(rec.ID())
	ticker := time.NewTicker(playbackPollEvery)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return player.Err()
}

// GetConfig returns the current configuration
func (s *VoiceMemoService) GetConfig() *config.Config {
	return s.cfg
}

// Updates delivers changes for the presentation layer. Updates are dropped
// when nobody reads them.
func (s *VoiceMemoService) Updates() <-chan Update {
	return s.updates
}

// Close finalizes any active session and releases every player
func (s *VoiceMemoService) Close(ctx context.Context) error {
	err := s.session.Shutdown(ctx)

	s.closed.Do(func() { close(s.quit) })
	s.wg.Wait()

	s.playersMutex.Lock()
	players := s.players
	s.players = make(map[string]*play.Player)
	s.playersMutex.Unlock()

	for id, player := range players {
		if cerr := player.Close(); cerr != nil {
			slog.Warn("Failed to release player", "id", id, "error", cerr)
		}
	}
	return err
}

func (s *VoiceMemoService) forwardSessionEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.session.Events():
			switch ev.Kind {
			case session.EventStarted:
				s.clearLastError()
			case session.EventFinalized:
				// a recording entering the list gets its player right away
				if _, err := s.playerFor(ev.Recording.ID()); err != nil {
					slog.Warn("Could not bind player", "id", ev.Recording.ID(), "error", err)
				}
			case session.EventFailed:
				s.setLastError(session.Message(ev.Err))
			}
			s.push(Update{Session: &ev})
		}
	}
}

// playerFor returns the bound player for id, creating or rebinding it.
func (s *VoiceMemoService) playerFor(id string) (*play.Player, error) {
	rec, ok := s.library.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecording, id)
	}

	s.playersMutex.Lock()
	defer s.playersMutex.Unlock()

	player, ok := s.players[id]
	if !ok {
		player = play.New(s.binder, play.WithObserver(s.onPlayerState))
		s.players[id] = player
	}
	// a player unbound by a playback failure is bound again here
	if err := player.Rebind(rec); err != nil {
		return nil, err
	}
	return player, nil
}

func (s *VoiceMemoService) existingPlayer(id string) (*play.Player, bool) {
	s.playersMutex.Lock()
	defer s.playersMutex.Unlock()
	player, ok := s.players[id]
	return player, ok
}

func (s *VoiceMemoService) onPlayerState(state play.State) {
	s.push(Update{Player: &state})
}

func (s *VoiceMemoService) push(u Update) {
	select {
	case s.updates <- u:
	default:
	}
}

// GetLastError returns the last error message
func (s *VoiceMemoService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *VoiceMemoService) setLastError(msg string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = msg
}

func (s *VoiceMemoService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
