package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/voicememo/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute pipeline steps",
	Long: `Execute the pipeline given with -p. Steps run in order against one
in-memory library: r records until Enter is pressed, p plays the newest
recording to the end. For example -p rpp records once and plays it twice.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rp)")
		}

		svc := service.New(cfg)
		defer closeService(svc)

		steps := []rune(strings.ToLower(pipeline))
		for i, step := range steps {
			fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)
			if err := runStep(context.Background(), svc, step); err != nil {
				return fmt.Errorf("pipeline failed: %w", err)
			}
		}

		return nil
	},
}
