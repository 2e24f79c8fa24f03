package cmd

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/audiolibrelab/voicememo/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture devices",
	Long:  `List the microphones miniaudio can capture from. Use a name with audio.device in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := audio.DetermineBackend(cfg)

		devices, err := audio.ListDevices(backend)
		if err != nil {
			return fmt.Errorf("failed to get capture devices: %w", err)
		}
		slog.Debug("Capture devices enumerated", "backend", backend, "count", len(devices))

		fmt.Printf("🎙  Capture Devices (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n")
		fmt.Printf("Backend: %s\n\n", formatBackends(backend))

		for i, d := range devices {
			marker := ""
			if d.Default {
				marker = " (default)"
			}
			fmt.Printf("  %d. %s%s\n", i+1, d.Name, marker)
		}

		if cfg.Audio.Device != "" {
			if err := audio.ValidateDevice(cfg.Audio.Device, devices); err != nil {
				fmt.Printf("\n⚠ configured device: %v\n", err)
			} else {
				fmt.Printf("\n✓ configured device: %s\n", cfg.Audio.Device)
			}
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Set audio.device to one of the names above, or leave it empty for the default\n\n")

		return nil
	},
}

// formatBackends lists the selectable backends with the active one bracketed.
func formatBackends(active audio.BackendType) string {
	names := make([]string, 0, 3)
	for _, b := range audio.GetAvailableBackends() {
		if b == active {
			names = append(names, "["+string(b)+"]")
		} else {
			names = append(names, string(b))
		}
	}
	return strings.Join(names, " ")
}
