package audio

import (
	"strings"

	"github.com/audiolibrelab/voicememo/internal/config"
	"github.com/gen2brain/malgo"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeMalgo BackendType = "malgo"
	BackendTypeNull  BackendType = "null"
	BackendTypeAuto  BackendType = "auto"
)

// NewCaptureDevice creates a capture device using the backend selected in cfg.
func NewCaptureDevice(cfg *config.Config) CaptureDevice {
	return &MalgoDevice{
		backends:   malgoBackends(DetermineBackend(cfg)),
		deviceName: cfg.Audio.Device,
		format:     cfg.PCMFormat(),
	}
}

// DetermineBackend determines which backend to use based on configuration
func DetermineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "null":
		return BackendTypeNull
	case "malgo":
		return BackendTypeMalgo
	default:
		return BackendTypeAuto
	}
}

// malgoBackends returns the backend list passed to malgo.InitContext. Nil
// lets miniaudio probe the platform backends itself, which is what both
// auto and malgo mean.
func malgoBackends(backend BackendType) []malgo.Backend {
	if backend == BackendTypeNull {
		return []malgo.Backend{malgo.BackendNull}
	}
	return nil
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeAuto, BackendTypeMalgo, BackendTypeNull}
}
