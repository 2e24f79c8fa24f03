package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/audiolibrelab/voicememo/internal/recording"
	"github.com/gen2brain/malgo"
)

// frameQueueSize bounds how many capture callbacks may be queued before
// frames are dropped.
const frameQueueSize = 256

// MalgoDevice captures from a miniaudio input device.
type MalgoDevice struct {
	backends   []malgo.Backend
	deviceName string
	format     recording.PCMFormat
}

// DeviceInfo describes a capture device as reported by the backend.
type DeviceInfo struct {
	Name    string
	Default bool
}

// Open initializes miniaudio and starts capturing. Refusals are mapped onto
// ErrAccessDenied and ErrNoDevice.
func (d *MalgoDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(d.backends, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to init audio context: %w", err))
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.format.Channels)
	deviceConfig.SampleRate = uint32(d.format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	// The selected ID must outlive InitDevice.
	var infos []malgo.DeviceInfo
	if d.deviceName != "" && d.deviceName != "default" {
		infos, err = mctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(mctx)
			return nil, classifyError(fmt.Errorf("failed to enumerate capture devices: %w", err))
		}
		if err := ValidateDevice(d.deviceName, toDeviceInfos(infos)); err != nil {
			freeContext(mctx)
			return nil, err
		}
		for i := range infos {
			if infos[i].Name() == d.deviceName {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
				break
			}
		}
	}

	s := &malgoStream{
		ctx:    mctx,
		frames: make(chan []byte, frameQueueSize),
	}

	callbacks := malgo.DeviceCallbacks{Data: s.onData, Stop: s.onStop}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, classifyError(fmt.Errorf("failed to init capture device: %w", err))
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return nil, classifyError(fmt.Errorf("failed to start capture device: %w", err))
	}

	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}

	slog.Debug("Capture device started", "device", d.deviceName, "sample_rate", d.format.SampleRate, "channels", d.format.Channels)
	return s, nil
}

type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	frames chan []byte

	mu      sync.Mutex
	closed  bool
	lost    bool
	dropped int
}

func (s *malgoStream) onData(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	frame := make([]byte, len(input))
	copy(frame, input)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.lost {
		return
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped++
	}
}

// onStop fires when the device stops, including when it is unplugged. An
// unexpected stop ends Frames so the encoder sees the stream go away. The
// device itself is freed later by Close; Uninit must not run on the
// callback thread.
func (s *malgoStream) onStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.lost {
		return
	}
	s.lost = true
	close(s.frames)
	slog.Warn("Capture device stopped unexpectedly")
}

func (s *malgoStream) Frames() <-chan []byte {
	return s.frames
}

func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	lost := s.lost
	dropped := s.dropped
	s.mu.Unlock()

	// Stop blocks until the data callback has returned for good.
	s.device.Stop()
	s.device.Uninit()
	freeContext(s.ctx)
	if !lost {
		close(s.frames)
	}

	if dropped > 0 {
		slog.Warn("Capture frames dropped", "count", dropped)
	}
	slog.Debug("Capture device released")
	return nil
}

// ListDevices enumerates capture devices for the configured backend.
func ListDevices(backend BackendType) ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(malgoBackends(backend), malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	defer freeContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	return toDeviceInfos(infos), nil
}

// ValidateDevice checks that name selects exactly one device. Empty and
// "default" select the system default and always pass.
func ValidateDevice(name string, devices []DeviceInfo) error {
	if name == "" || name == "default" {
		return nil
	}

	matches := 0
	for _, d := range devices {
		if d.Name == name {
			matches++
		}
	}

	switch {
	case matches == 0:
		return fmt.Errorf("%w: %s", ErrNoDevice, name)
	case matches > 1:
		return fmt.Errorf("ambiguous capture device '%s': %d devices share this name", name, matches)
	}
	return nil
}

func toDeviceInfos(infos []malgo.DeviceInfo) []DeviceInfo {
	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{
			Name:    infos[i].Name(),
			Default: infos[i].IsDefault != 0,
		})
	}
	return devices
}

func freeContext(mctx *malgo.AllocatedContext) {
	mctx.Uninit()
	mctx.Free()
}

// classifyError maps backend failures onto the capture sentinels. miniaudio
// only reports results as text, so matching is by message.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrNoDevice) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case strings.Contains(msg, "no device"), strings.Contains(msg, "does not exist"), strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return err
}
