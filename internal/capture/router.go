package capture

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/minicam/internal/logger"
)

const (
	SourceTestPattern = "testpattern"
	SourceGStreamer   = "gstreamer"
)

// Sources lists the accepted camera source names
func Sources() []string {
	return []string{SourceTestPattern, SourceGStreamer}
}

// OpenSensor creates and starts the requested sensor. When a hardware source
// cannot be started and fallback is set, the test pattern is used instead so
// the server still comes up.
func OpenSensor(source string, cfg SensorConfig, fallback bool) (Sensor, error) {
	log := logger.WithComponent("capture-router")

	var (
		sensor Sensor
		err    error
	)

	switch strings.ToLower(source) {
	case SourceTestPattern, "":
		sensor, err = NewTestPatternSensor(cfg)
	case SourceGStreamer:
		sensor, err = NewGStreamerSensor(cfg)
	default:
		return nil, fmt.Errorf("unknown camera source %q (use: %s)", source, strings.Join(Sources(), ", "))
	}

	if err == nil {
		if err = sensor.Start(); err == nil {
			log.Info().Str("sensor", sensor.Name()).Msg("Camera sensor initialized")
			return sensor, nil
		}
	}

	if !fallback || strings.EqualFold(source, SourceTestPattern) || source == "" {
		return nil, fmt.Errorf("failed to start %s sensor: %w", source, err)
	}

	log.Warn().Err(err).Str("source", source).Msg("Camera sensor not available, falling back to test pattern")

	tp, tpErr := NewTestPatternSensor(cfg)
	if tpErr != nil {
		return nil, fmt.Errorf("failed to start %s sensor: %w (fallback: %v)", source, err, tpErr)
	}
	if tpErr = tp.Start(); tpErr != nil {
		return nil, fmt.Errorf("failed to start %s sensor: %w (fallback: %v)", source, err, tpErr)
	}
	return tp, nil
}
