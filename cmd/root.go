package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/voicememo/internal/config"
	"github.com/audiolibrelab/voicememo/internal/service"
	"github.com/audiolibrelab/voicememo/internal/tui"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfg          *config.Config
	cfgFile      string
	pipeline     string
	profile      string
	verboseLevel int
)

// shutdownTimeout bounds how long a pending recording may take to finalize
// on exit.
const shutdownTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "voicememo",
	Short: "Record, play back and scrub voice memos from the terminal",
	Long: `voicememo captures microphone input, keeps finished recordings in memory
for the current session, and lets you play back, scrub and delete them.

Without a subcommand it starts the interactive terminal UI.`,
	Args: cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The terminal UI owns the screen; its logs go to a file instead
		if !cmd.HasParent() {
			setupFileLogging(verboseLevel)
		} else {
			setupLogging(verboseLevel, os.Stderr)
		}

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Validate pipeline if provided
		if err := validatePipeline(); err != nil {
			return err
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg)
		defer closeService(svc)

		return tui.Run(svc)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/voicememo.yaml)")
	rootCmd.PersistentFlags().StringVarP(&pipeline, "pipeline", "p", "", "pipeline steps: r=record, p=play (e.g., 'rp')")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// loadConfig reads the config file. A missing default file means built-in
// defaults; a missing explicit file is an error.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if profile != "" {
				return nil, fmt.Errorf("profile '%s' requested but %s does not exist", profile, path)
			}
			slog.Debug("No config file, using defaults", "path", path)
			return config.Default(), nil
		}
		cfgFile = path
	}
	return config.LoadWithProfile(path, profile)
}

func closeService(svc *service.VoiceMemoService) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		slog.Warn("Shutdown did not complete cleanly", "error", err)
	}
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int, w io.Writer) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(w, opts)
	slog.SetDefault(slog.New(handler))
}

// setupFileLogging sends logs to a rotated voicememo.log in the temp
// directory so they do not draw over the TUI.
func setupFileLogging(level int) {
	setupLogging(level, &lumberjack.Logger{
		Filename:   filepath.Join(os.TempDir(), "voicememo.log"),
		MaxSize:    5,
		MaxBackups: 2,
		MaxAge:     14,
	})
}
