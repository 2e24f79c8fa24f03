package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/audiolibrelab/voicememo/internal/service"
)

// executePipeline runs the pipeline steps that follow startStep.
func executePipeline(ctx context.Context, svc service.Service, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := strings.ToLower(pipeline)
	startIndex := strings.IndexRune(steps, startStep)
	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	for _, step := range steps[startIndex+1:] {
		fmt.Printf("Pipeline: executing step '%c'...\n", step)
		if err := runStep(ctx, svc, step); err != nil {
			return err
		}
	}
	return nil
}

// runStep runs a single pipeline step, printing progress the way the
// record command does.
func runStep(ctx context.Context, svc service.Service, step rune) error {
	switch step {
	case 'r':
		fmt.Println("Pipeline: recording - Press Enter to stop...")
		if err := svc.RunPipeline(ctx, "r", waitForStop()); err != nil {
			return err
		}
		if rec, ok := svc.LastRecording(); ok {
			printRecording(rec)
		}
		fmt.Println("Pipeline: recording completed")
	case 'p':
		if err := svc.RunPipeline(ctx, "p", nil); err != nil {
			return err
		}
		fmt.Println("Pipeline: playback completed")
	default:
		return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
	}
	return nil
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'p': true, // play
	}

	for _, step := range strings.ToLower(pipeline) {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}

// waitForStop returns a channel closed when the user presses Enter or the
// process is interrupted.
func waitForStop() <-chan struct{} {
	stop := make(chan struct{})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	enter := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		close(enter)
	}()

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
		case <-enter:
		}
		close(stop)
	}()

	return stop
}
