package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/minicam/internal/api"
	"github.com/bryanchriswhite/minicam/internal/capture"
	"github.com/bryanchriswhite/minicam/internal/config"
	"github.com/bryanchriswhite/minicam/internal/logger"
	"github.com/bryanchriswhite/minicam/internal/provision"
	"github.com/bryanchriswhite/minicam/internal/stream"
	"github.com/bryanchriswhite/minicam/internal/transport"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the camera server",
	Long: `Start the minicam HTTP server.

The camera stream is served at /stream, a single JPEG at /capture and
statistics at /api/stats.`,
	Example: `  # Start server on the configured port (default 80)
  minicam serve

  # Start server on custom port
  minicam serve --port 8080

  # Skip Wi-Fi provisioning
  minicam serve --no-provision

  # Start with debug logging
  minicam serve --log-level debug`,
	RunE: runServe,
}

var (
	serveNoProvision bool
	serveSource      string
)

// shutdownTimeout bounds how long open streams get to close
const shutdownTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveNoProvision, "no-provision", false, "do not touch the Wi-Fi configuration")
	serveCmd.Flags().StringVar(&serveSource, "source", "", "camera source override (testpattern, gstreamer)")
}

// loadConfig opens the config file and applies command-line overrides
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			if err := configMgr.Override("server_port", port); err != nil {
				return nil, err
			}
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			if err := configMgr.Override("log_level", level); err != nil {
				return nil, err
			}
		}
	}
	if serveSource != "" {
		if err := configMgr.Override("camera.source", serveSource); err != nil {
			return nil, err
		}
	}
	return configMgr, nil
}

// openAdapter starts the configured sensor and wraps it for JPEG output
func openAdapter(cfg *config.Config) (*capture.Adapter, error) {
	sensorCfg, err := cfg.SensorConfig()
	if err != nil {
		return nil, err
	}
	sensor, err := capture.OpenSensor(cfg.Camera.Source, sensorCfg, cfg.Camera.Fallback)
	if err != nil {
		return nil, err
	}
	return capture.NewAdapter(sensor, capture.NewJPEGEncoder(), cfg.Camera.TranscodeQuality), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("📷 minicam - MJPEG camera server")
	fmt.Println("================================")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("serve")

	log.Info().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !serveNoProvision {
		network, err := provision.NewNetwork(cfg.Network.Backend)
		if err != nil {
			return err
		}
		plan, err := provision.NewProvisioner(afero.NewOsFs(), cfg.Network, network).Apply(ctx)
		if err != nil {
			// The board may still be reachable over a wired link
			log.Error().Err(err).Msg("Wi-Fi provisioning failed")
		} else {
			log.Info().Str("mode", plan.Mode.String()).Str("ssid", plan.SSID).Msg("Network ready")
		}
	}

	adapter, err := openAdapter(cfg)
	if err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}
	defer adapter.Sensor().Stop()

	registry := stream.NewRegistry(adapter, stream.Options{
		Boundary:    cfg.Stream.Boundary,
		MaxSessions: cfg.Stream.MaxSessions,
	})
	server := api.NewServer(adapter, registry, configMgr, transport.Options{
		ChunkSize: cfg.Stream.ChunkSize,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	fmt.Println()
	log.Info().Msg("✅ minicam is running!")
	log.Info().Msgf("   - Stream: http://localhost:%d/stream", cfg.ServerPort)
	log.Info().Msgf("   - Snapshot: http://localhost:%d/capture", cfg.ServerPort)
	log.Info().Msg("   - Press Ctrl+C to stop")
	fmt.Println()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Println()
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown incomplete")
	}
	return nil
}
