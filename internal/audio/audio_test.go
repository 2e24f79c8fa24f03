package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/voicememo/internal/config"
)

type fakeStream struct {
	frames chan []byte
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 16)}
}

func (s *fakeStream) Frames() <-chan []byte { return s.frames }
func (s *fakeStream) Close() error          { return nil }

func nextEvent(t *testing.T, events <-chan EncoderEvent) EncoderEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for encoder event")
		return EncoderEvent{}
	}
}

func TestPCMEncoder_StopFlushesQueuedFrames(t *testing.T) {
	stream := newFakeStream()
	events := make(chan EncoderEvent, 8)
	enc := NewPCMEncoder(0)

	if err := enc.Start(stream, events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if enc.State() != EncoderRecording {
		t.Errorf("Expected state %s, got %s", EncoderRecording, enc.State())
	}

	stream.frames <- []byte{1, 2}
	stream.frames <- []byte{3, 4}
	enc.Stop()

	if enc.State() != EncoderInactive {
		t.Errorf("Expected state %s after Stop, got %s", EncoderInactive, enc.State())
	}

	ev := nextEvent(t, events)
	if ev.Kind != EventFragment {
		t.Fatalf("Expected fragment, got kind %d", ev.Kind)
	}
	if !bytes.Equal(ev.Data, []byte{1, 2, 3, 4}) {
		t.Errorf("Expected frames in capture order, got %v", ev.Data)
	}

	if ev := nextEvent(t, events); ev.Kind != EventStopped {
		t.Errorf("Expected stopped event, got kind %d", ev.Kind)
	}
}

func TestPCMEncoder_StopWithoutDataYieldsEmptyFragment(t *testing.T) {
	events := make(chan EncoderEvent, 8)
	enc := NewPCMEncoder(0)

	if err := enc.Start(newFakeStream(), events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	enc.Stop()

	ev := nextEvent(t, events)
	if ev.Kind != EventFragment || len(ev.Data) != 0 {
		t.Errorf("Expected empty fragment, got kind %d with %d bytes", ev.Kind, len(ev.Data))
	}
	if ev := nextEvent(t, events); ev.Kind != EventStopped {
		t.Errorf("Expected stopped event, got kind %d", ev.Kind)
	}
}

func TestPCMEncoder_StreamLossFails(t *testing.T) {
	stream := newFakeStream()
	events := make(chan EncoderEvent, 8)
	enc := NewPCMEncoder(0)

	if err := enc.Start(stream, events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream.frames <- []byte{9, 9}
	close(stream.frames)

	if ev := nextEvent(t, events); ev.Kind != EventFragment {
		t.Fatalf("Expected trailing fragment, got kind %d", ev.Kind)
	}
	ev := nextEvent(t, events)
	if ev.Kind != EventFailed {
		t.Fatalf("Expected failed event, got kind %d", ev.Kind)
	}
	if !errors.Is(ev.Err, ErrStreamClosed) {
		t.Errorf("Expected ErrStreamClosed, got %v", ev.Err)
	}
	if enc.State() != EncoderInactive {
		t.Errorf("Expected encoder to be inactive after failure, got %s", enc.State())
	}

	// Stop after failure must not panic or emit anything
	enc.Stop()
}

func TestPCMEncoder_Timeslice(t *testing.T) {
	stream := newFakeStream()
	events := make(chan EncoderEvent, 64)
	enc := NewPCMEncoder(5 * time.Millisecond)

	if err := enc.Start(stream, events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream.frames <- []byte{7, 7}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind != EventFragment {
				t.Fatalf("Expected only fragments before Stop, got kind %d", ev.Kind)
			}
			if len(ev.Data) > 0 {
				if !bytes.Equal(ev.Data, []byte{7, 7}) {
					t.Errorf("Unexpected fragment data %v", ev.Data)
				}
				enc.Stop()
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for a timeslice fragment")
		}
	}
}

func TestPCMEncoder_DoubleStart(t *testing.T) {
	events := make(chan EncoderEvent, 8)
	enc := NewPCMEncoder(0)

	if err := enc.Start(newFakeStream(), events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer enc.Stop()

	if err := enc.Start(newFakeStream(), events); err == nil {
		t.Error("Expected error when starting a recording encoder")
	}
}

func TestFormatTable(t *testing.T) {
	table := FormatTable{"audio/wav", "audio/L16"}

	tests := []struct {
		mime string
		want bool
	}{
		{"audio/wav", true},
		{"AUDIO/WAV", true},
		{"audio/L16; rate=48000; channels=1", true},
		{"audio/webm", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := table.IsTypeSupported(tt.mime); got != tt.want {
			t.Errorf("IsTypeSupported(%q) = %v, want %v", tt.mime, got, tt.want)
		}
	}

	if (FormatTable{}).IsTypeSupported("audio/wav") {
		t.Error("Expected empty table to support nothing")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"access denied", fmt.Errorf("failed to init capture device: Access denied."), ErrAccessDenied},
		{"permission denied", fmt.Errorf("open /dev/snd: permission denied"), ErrAccessDenied},
		{"no device", fmt.Errorf("failed to init capture device: No device."), ErrNoDevice},
		{"does not exist", fmt.Errorf("device does not exist"), ErrNoDevice},
		{"already classified", fmt.Errorf("wrapped: %w", ErrNoDevice), ErrNoDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	generic := errors.New("device busy")
	got := classifyError(generic)
	if errors.Is(got, ErrAccessDenied) || errors.Is(got, ErrNoDevice) {
		t.Errorf("Expected generic error to stay unclassified, got %v", got)
	}
	if classifyError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestValidateDevice(t *testing.T) {
	devices := []DeviceInfo{
		{Name: "Built-in Microphone", Default: true},
		{Name: "USB Audio"},
		{Name: "USB Audio"},
	}

	if err := ValidateDevice("", devices); err != nil {
		t.Errorf("Expected empty name to pass, got: %v", err)
	}
	if err := ValidateDevice("default", nil); err != nil {
		t.Errorf("Expected default to pass, got: %v", err)
	}
	if err := ValidateDevice("Built-in Microphone", devices); err != nil {
		t.Errorf("Expected unique device to pass, got: %v", err)
	}

	err := ValidateDevice("Headset", devices)
	if !errors.Is(err, ErrNoDevice) {
		t.Errorf("Expected ErrNoDevice for missing device, got: %v", err)
	}

	err = ValidateDevice("USB Audio", devices)
	if err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("Expected ambiguous device error, got: %v", err)
	}
}

func TestDetermineBackend(t *testing.T) {
	tests := []struct {
		backend string
		want    BackendType
	}{
		{"", BackendTypeAuto},
		{"auto", BackendTypeAuto},
		{"malgo", BackendTypeMalgo},
		{"NULL", BackendTypeNull},
	}

	for _, tt := range tests {
		cfg := config.Default()
		cfg.Audio.Backend = tt.backend
		if got := DetermineBackend(cfg); got != tt.want {
			t.Errorf("DetermineBackend(%q) = %s, want %s", tt.backend, got, tt.want)
		}
	}

	if malgoBackends(BackendTypeAuto) != nil || malgoBackends(BackendTypeMalgo) != nil {
		t.Error("Expected nil backend list for platform default")
	}
	if got := malgoBackends(BackendTypeNull); len(got) != 1 {
		t.Errorf("Expected a single null backend, got %v", got)
	}
}

func TestGetAvailableBackends_AcceptedByConfig(t *testing.T) {
	backends := GetAvailableBackends()
	if len(backends) != 3 {
		t.Fatalf("Expected 3 backends, got %v", backends)
	}
	for _, b := range backends {
		cfg := config.Default()
		cfg.Audio.Backend = string(b)
		if err := config.Validate(cfg); err != nil {
			t.Errorf("Backend %s rejected by config: %v", b, err)
		}
		if got := DetermineBackend(cfg); got != b {
			t.Errorf("DetermineBackend(%q) = %s", b, got)
		}
	}
}

func TestMalgoStream_DeviceStopEndsFrames(t *testing.T) {
	s := &malgoStream{frames: make(chan []byte, 4)}

	s.onData(nil, []byte{1, 2}, 1)
	s.onStop()
	// late callbacks after the stop must be dropped, not sent on a closed channel
	s.onData(nil, []byte{3, 4}, 1)
	s.onStop()

	var got [][]byte
	for frame := range s.Frames() {
		got = append(got, frame)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte{1, 2}) {
		t.Errorf("Expected the frame captured before the stop, got %v", got)
	}
}

func TestPCMEncoder_DeviceStopFails(t *testing.T) {
	s := &malgoStream{frames: make(chan []byte, 4)}
	events := make(chan EncoderEvent, 8)

	enc := NewPCMEncoder(0)
	if err := enc.Start(s, events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.onData(nil, []byte{1, 2}, 1)
	s.onStop()

	for {
		ev := nextEvent(t, events)
		if ev.Kind == EventFragment {
			continue
		}
		if ev.Kind != EventFailed || !errors.Is(ev.Err, ErrStreamClosed) {
			t.Fatalf("Expected stream closed failure, got %+v", ev)
		}
		break
	}
	if enc.State() != EncoderInactive {
		t.Errorf("Expected inactive encoder, got %s", enc.State())
	}
}

func TestSampleReader_TracksPosition(t *testing.T) {
	src := newSampleReader(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6}), false)

	buf := make([]byte, 4)
	n, err := src.Read(buf)
	if err != nil || n != 4 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if src.Pos() != 4 {
		t.Errorf("Expected position 4, got %d", src.Pos())
	}

	if _, err := src.Seek(2, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if src.Pos() != 2 {
		t.Errorf("Expected position 2 after seek, got %d", src.Pos())
	}

	rest, err := io.ReadAll(src)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(rest, []byte{3, 4, 5, 6}) {
		t.Errorf("Unexpected data after seek: %v", rest)
	}
	if src.Pos() != 6 {
		t.Errorf("Expected position 6 at end, got %d", src.Pos())
	}
}

func TestSampleReader_SwapsBigEndian(t *testing.T) {
	src := newSampleReader(bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04}), true)

	// odd buffer sizes are trimmed so samples stay paired
	buf := make([]byte, 3)
	n, err := src.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 2 || !bytes.Equal(buf[:n], []byte{0x02, 0x01}) {
		t.Errorf("Expected swapped first sample, got %v", buf[:n])
	}

	n, err = src.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 2 || !bytes.Equal(buf[:n], []byte{0x04, 0x03}) {
		t.Errorf("Expected swapped second sample, got %v", buf[:n])
	}
}

func TestExtension(t *testing.T) {
	if got := extension("audio/wav"); got != ".wav" {
		t.Errorf("Expected .wav, got %s", got)
	}
	if got := extension("audio/l16; channels=1; rate=48000"); got != ".pcm" {
		t.Errorf("Expected .pcm, got %s", got)
	}
}
