package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/minicam/internal/logger"
)

// staleAfter bounds how old the latest frame may be before Capture refuses it
const staleAfter = 5 * time.Second

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// GStreamerSensor reads a V4L2 camera through a gst-launch-1.0 subprocess.
// Running GStreamer out of process avoids cgo bindings; frames arrive on
// stdout either as concatenated JPEGs or as fixed-size raw frames.
type GStreamerSensor struct {
	cfg  SensorConfig
	pool *Pool

	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}

	latest     []byte
	latestTime time.Time
	seq        uint64
}

// NewGStreamerSensor creates a GStreamer-backed sensor
func NewGStreamerSensor(cfg SensorConfig) (*GStreamerSensor, error) {
	if _, err := gstCaps(cfg.Format); err != nil {
		return nil, err
	}
	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}
	return &GStreamerSensor{
		cfg:      cfg,
		pool:     NewPool(cfg.FBCount, slotSize(cfg)),
		stopChan: make(chan struct{}),
	}, nil
}

// gstCaps maps a pixel format to the raw caps format string, or "" for JPEG
func gstCaps(format PixelFormat) (string, error) {
	switch format {
	case FormatJPEG:
		return "", nil
	case FormatRGB888:
		return "RGB", nil
	case FormatGrayscale:
		return "GRAY8", nil
	case FormatYUV422:
		return "YUY2", nil
	}
	return "", fmt.Errorf("%w: %s is not available from gstreamer", ErrUnsupportedFormat, format)
}

// pipeline builds the gst-launch pipeline description
func (g *GStreamerSensor) pipeline() string {
	w, h := g.cfg.FrameSize.Width, g.cfg.FrameSize.Height
	src := fmt.Sprintf(
		"v4l2src device=%s do-timestamp=true ! "+
			"videoconvert ! "+
			"videoscale ! "+
			"videorate ! "+
			"video/x-raw,width=%d,height=%d,framerate=%d/1 ! ",
		g.cfg.Device, w, h, g.cfg.FrameRate,
	)

	raw, _ := gstCaps(g.cfg.Format)
	if raw == "" {
		return src + fmt.Sprintf("jpegenc quality=%d ! fdsink fd=1 sync=false", sensorQualityToJPEG(g.cfg.JPEGQuality))
	}
	return src + fmt.Sprintf("videoconvert ! video/x-raw,format=%s ! fdsink fd=1 sync=false", raw)
}

// Start launches the subprocess
func (g *GStreamerSensor) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}

	log := logger.WithComponent("gstreamer")

	if _, err := exec.LookPath("gst-launch-1.0"); err != nil {
		return fmt.Errorf("gst-launch-1.0 not found: %w", err)
	}

	pipelineStr := g.pipeline()
	log.Debug().Str("pipeline", pipelineStr).Msg("Starting GStreamer subprocess")

	// sh -c so the ! separators are parsed by gst-launch itself
	g.cmd = exec.Command("sh", "-c", "gst-launch-1.0 -q "+pipelineStr)

	stdout, err := g.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	g.stdout = stdout

	stderr, err := g.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	g.stderr = stderr

	if err := g.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}

	g.running = true
	g.stopChan = make(chan struct{})

	if g.cfg.Format == FormatJPEG {
		go g.readJPEGFrames(g.stdout, g.stopChan)
	} else {
		go g.readRawFrames(g.stdout, g.stopChan)
	}
	go g.logStderr(g.stderr)

	log.Info().
		Str("device", g.cfg.Device).
		Str("frame_size", g.cfg.FrameSize.String()).
		Str("format", g.cfg.Format.String()).
		Int("pid", g.cmd.Process.Pid).
		Msg("GStreamer subprocess started")

	return nil
}

// scanJPEG splits a concatenated MJPEG byte stream into single JPEG images by
// looking for the end-of-image marker. Bytes before the start-of-image
// marker are dropped.
func scanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep the last byte: it may be the first half of a marker
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	if end := bytes.Index(data[start+2:], jpegEOI); end >= 0 {
		stop := start + 2 + end + 2
		return stop, data[start:stop], nil
	}

	if atEOF {
		return len(data), nil, nil
	}
	return start, nil, nil
}

// readJPEGFrames splits stdout into JPEG images and keeps the newest
func (g *GStreamerSensor) readJPEGFrames(r io.Reader, stop <-chan struct{}) {
	log := logger.WithComponent("gstreamer")

	scanner := bufio.NewScanner(r)
	scanner.Split(scanJPEG)
	scanner.Buffer(make([]byte, 256*1024), 8*1024*1024)

	for scanner.Scan() {
		select {
		case <-stop:
			return
		default:
		}
		g.store(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Warn().Err(err).Msg("JPEG stream read error")
		return
	}
	log.Debug().Msg("EOF from GStreamer subprocess")
}

// readRawFrames reads fixed-size raw frames from stdout
func (g *GStreamerSensor) readRawFrames(r io.Reader, stop <-chan struct{}) {
	log := logger.WithComponent("gstreamer")

	frameSize := g.cfg.FrameSize.Width * g.cfg.FrameSize.Height * g.cfg.Format.BytesPerPixel()
	reader := bufio.NewReaderSize(r, frameSize)
	frame := make([]byte, frameSize)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := io.ReadFull(reader, frame)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				log.Debug().Msg("EOF from GStreamer subprocess")
				return
			}
			log.Error().Err(err).Int("bytes_read", n).Msg("Error reading frame")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		g.store(frame)
	}
}

// store copies a complete frame into the latest-frame buffer
func (g *GStreamerSensor) store(frame []byte) {
	g.mu.Lock()
	g.latest = append(g.latest[:0], frame...)
	g.latestTime = time.Now()
	g.mu.Unlock()
}

// logStderr forwards subprocess messages to the logger
func (g *GStreamerSensor) logStderr(r io.Reader) {
	log := logger.WithComponent("gstreamer")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Stop kills the subprocess
func (g *GStreamerSensor) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}

	log := logger.WithComponent("gstreamer")

	close(g.stopChan)

	if g.cmd != nil && g.cmd.Process != nil {
		log.Debug().Int("pid", g.cmd.Process.Pid).Msg("Killing GStreamer subprocess")
		g.cmd.Process.Kill()
		g.cmd.Wait()
	}

	g.running = false
	g.latest = nil
	log.Info().Msg("GStreamer subprocess stopped")

	return nil
}

// Name returns the sensor name
func (g *GStreamerSensor) Name() string {
	return "gstreamer"
}

// PoolStats reports frame buffer usage
func (g *GStreamerSensor) PoolStats() PoolStats {
	return g.pool.Stats()
}

// Capture copies the newest frame into a pool slot
func (g *GStreamerSensor) Capture() (*Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil, ErrSensorStopped
	}
	if len(g.latest) == 0 {
		return nil, ErrNoFrame
	}
	if time.Since(g.latestTime) > staleAfter {
		return nil, fmt.Errorf("%w: latest frame is stale (>%s old)", ErrNoFrame, staleAfter)
	}

	slot, err := g.pool.Acquire()
	if err != nil {
		return nil, err
	}

	g.seq++
	return NewFrame(slot, g.cfg.Format, g.cfg.FrameSize.Width, g.cfg.FrameSize.Height, g.latest, g.seq), nil
}

// Return hands a frame's slot back to the pool
func (g *GStreamerSensor) Return(frame *Frame) error {
	if frame == nil {
		return nil
	}
	return g.pool.Release(frame.slot)
}
