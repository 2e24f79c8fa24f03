package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/voicememo/internal/recording"
	"github.com/audiolibrelab/voicememo/internal/service"
	"github.com/audiolibrelab/voicememo/internal/session"
	"github.com/audiolibrelab/voicememo/internal/timefmt"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a memo without the terminal UI",
	Long: `Capture from the configured microphone until Enter or Ctrl+C is pressed,
then print the finalized recording. Use -p rp to play it back right away.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		slog.Info("Record command started")

		svc := service.New(cfg)
		defer closeService(svc)

		ctx := context.Background()
		if err := svc.StartRecording(ctx); err != nil {
			return errors.New(session.Message(err))
		}

		fmt.Println("Recording... Press Enter or Ctrl+C to stop")
		<-waitForStop()
		slog.Info("Stopping recording...")

		svc.StopRecording()
		if err := svc.WaitRecording(ctx); err != nil {
			if errors.Is(err, session.ErrEncoding) {
				return errors.New(session.Message(err))
			}
			return fmt.Errorf("failed to finalize recording: %w", err)
		}

		rec, ok := svc.LastRecording()
		if !ok {
			return fmt.Errorf("no recording was produced")
		}
		printRecording(rec)

		// Execute pipeline if specified
		return executePipeline(ctx, svc, 'r')
	},
}

func printRecording(rec recording.Recording) {
	fmt.Printf("Saved recording %s\n", rec.ID())
	fmt.Printf("  duration: %s\n", timefmt.FormatInt(rec.Duration()))
	fmt.Printf("  format:   %s\n", rec.Payload().MimeType())
	fmt.Printf("  size:     %d bytes\n", rec.Payload().Len())
}
