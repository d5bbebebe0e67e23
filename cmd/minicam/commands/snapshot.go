package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bryanchriswhite/minicam/internal/capture"
	"github.com/bryanchriswhite/minicam/internal/logger"
	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture one JPEG and exit",
	Long: `Capture a single frame from the configured camera, convert it to JPEG
if needed and write it to a file.`,
	Example: `  # Write to capture.jpg
  minicam snapshot

  # Use the test pattern
  minicam snapshot --source testpattern -o pattern.jpg`,
	RunE: runSnapshot,
}

var (
	snapshotOutput  string
	snapshotTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "capture.jpg", "output file")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 10*time.Second, "how long to wait for the camera")
	snapshotCmd.Flags().StringVar(&serveSource, "source", "", "camera source override (testpattern, gstreamer)")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	adapter, err := openAdapter(cfg)
	if err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}
	defer adapter.Sensor().Stop()

	ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
	defer cancel()

	// Cameras need a moment after start before the first frame arrives
	next := func() (*capture.Buffer, error) {
		return adapter.Next()
	}
	buf, err := backoff.Retry(ctx, next,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(snapshotTimeout),
	)
	if err != nil {
		return fmt.Errorf("no frame from %s camera: %w", adapter.Sensor().Name(), err)
	}
	defer buf.Release()

	if err := os.WriteFile(snapshotOutput, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", snapshotOutput, err)
	}

	fmt.Printf("✅ Wrote %d bytes to %s\n", buf.Len(), snapshotOutput)
	return nil
}
