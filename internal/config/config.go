package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/voicememo/internal/recording"
	"github.com/spf13/viper"
)

// RootConfig is the on-disk layout: named profiles plus the one to use.
type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Playback  PlaybackConfig  `mapstructure:"playback" yaml:"playback"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "malgo", "auto"
	Device     string `mapstructure:"device" yaml:"device"`   // capture device name, empty = system default
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
}

type RecordingConfig struct {
	// TimesliceMs is how often the encoder delivers a fragment. 0 delivers
	// everything in one fragment when recording stops.
	TimesliceMs *int     `mapstructure:"timeslice_ms" yaml:"timeslice_ms"`
	Formats     []string `mapstructure:"formats" yaml:"formats"`
}

type PlaybackConfig struct {
	TickMs  int      `mapstructure:"tick_ms" yaml:"tick_ms"`
	Volume  *float64 `mapstructure:"volume" yaml:"volume"`
	TempDir string   `mapstructure:"temp_dir" yaml:"temp_dir"`
}

var (
	defaultTimesliceMs = 250
	defaultVolume      = 0.8
)

var supportedSampleRates = []int{8000, 11025, 16000, 22050, 24000, 32000, 44100, 48000, 88200, 96000, 176400, 192000}

var knownFormats = []string{recording.PreferredMimeType, recording.FallbackMimeType}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	timeslice := defaultTimesliceMs
	volume := defaultVolume
	return &Config{
		Audio: AudioConfig{
			Backend:    "auto",
			SampleRate: 48000,
			Channels:   1,
		},
		Recording: RecordingConfig{
			TimesliceMs: &timeslice,
			Formats:     append([]string(nil), knownFormats...),
		},
		Playback: PlaybackConfig{
			TickMs: 250,
			Volume: &volume,
		},
	}
}

// DefaultPath returns $HOME/.config/voicememo.yaml.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/voicememo.yaml")
}

// LoadWithProfile reads configFile, selects profile (or the file's
// active_config, or "default"), and merges it over the default profile and
// the built-in defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, err
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	base := Default()
	if configName != "default" {
		if defaultProfile, ok := rootConfig.Configs["default"]; ok {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	cfg := mergeConfigs(base, selected)

	cfg.Playback.TempDir = expandPath(cfg.Playback.TempDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration profile '%s': %w", configName, err)
	}

	return cfg, nil
}

// ReadRootConfig parses the config file. VOICEMEMO_* environment variables
// override file values.
func ReadRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("VOICEMEMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section cannot be empty")
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			rootConfig.Configs[name] = &Config{}
		}
	}

	return &rootConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file.
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// mergeConfigs overlays profile on base. Zero values (and nil pointers) in
// the profile fall back to base.
func mergeConfigs(base, profile *Config) *Config {
	result := *base
	result.Recording.Formats = append([]string(nil), base.Recording.Formats...)

	if profile == nil {
		return &result
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
	}
	if profile.Audio.Device != "" {
		result.Audio.Device = profile.Audio.Device
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
	}

	if profile.Recording.TimesliceMs != nil {
		v := *profile.Recording.TimesliceMs
		result.Recording.TimesliceMs = &v
	}
	if len(profile.Recording.Formats) > 0 {
		result.Recording.Formats = append([]string(nil), profile.Recording.Formats...)
	}

	if profile.Playback.TickMs != 0 {
		result.Playback.TickMs = profile.Playback.TickMs
	}
	if profile.Playback.Volume != nil {
		v := *profile.Playback.Volume
		result.Playback.Volume = &v
	}
	if profile.Playback.TempDir != "" {
		result.Playback.TempDir = profile.Playback.TempDir
	}

	return &result
}

// Validate checks ranges and enumerations.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "", "auto", "malgo", "null":
	default:
		return fmt.Errorf("audio.backend: unsupported backend '%s' (valid: auto, malgo, null)", cfg.Audio.Backend)
	}

	validRate := false
	for _, r := range supportedSampleRates {
		if cfg.Audio.SampleRate == r {
			validRate = true
			break
		}
	}
	if !validRate {
		return fmt.Errorf("audio.sample_rate: unsupported sample rate %d", cfg.Audio.SampleRate)
	}

	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels: must be 1 or 2, got %d", cfg.Audio.Channels)
	}

	if cfg.Recording.TimesliceMs != nil && *cfg.Recording.TimesliceMs < 0 {
		return fmt.Errorf("recording.timeslice_ms: must not be negative, got %d", *cfg.Recording.TimesliceMs)
	}

	for i, f := range cfg.Recording.Formats {
		known := false
		for _, k := range knownFormats {
			if strings.EqualFold(f, k) {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("recording.formats[%d]: unknown container '%s' (valid: %s)", i, f, strings.Join(knownFormats, ", "))
		}
	}

	if cfg.Playback.TickMs <= 0 {
		return fmt.Errorf("playback.tick_ms: must be positive, got %d", cfg.Playback.TickMs)
	}

	if cfg.Playback.Volume != nil && (*cfg.Playback.Volume < 0 || *cfg.Playback.Volume > 1) {
		return fmt.Errorf("playback.volume: must be between 0 and 1, got %.2f", *cfg.Playback.Volume)
	}

	return nil
}

// PCMFormat is the capture format recordings are made in.
func (c *Config) PCMFormat() recording.PCMFormat {
	return recording.PCMFormat{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels}
}

// Timeslice returns the encoder fragment cadence.
func (c *Config) Timeslice() time.Duration {
	ms := defaultTimesliceMs
	if c.Recording.TimesliceMs != nil {
		ms = *c.Recording.TimesliceMs
	}
	return time.Duration(ms) * time.Millisecond
}

// TickInterval returns the playback progress notification cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Playback.TickMs) * time.Millisecond
}

// Volume returns the playback volume in [0, 1].
func (c *Config) Volume() float64 {
	if c.Playback.Volume == nil {
		return defaultVolume
	}
	return *c.Playback.Volume
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
