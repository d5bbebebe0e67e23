package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"time"

	"github.com/bryanchriswhite/minicam/internal/logger"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TestPatternSensor synthesizes frames for boards without a camera and for
// development. Frames are rendered on demand in Capture, so the stream pulls
// them exactly as it would from real hardware.
type TestPatternSensor struct {
	cfg     SensorConfig
	pool    *Pool
	mu      sync.Mutex
	running bool
	seq     uint64
	started time.Time
	now     func() time.Time
}

// NewTestPatternSensor creates a test-pattern sensor
func NewTestPatternSensor(cfg SensorConfig) (*TestPatternSensor, error) {
	if cfg.FrameSize.Width <= 0 || cfg.FrameSize.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.FrameSize.Width, cfg.FrameSize.Height)
	}
	if cfg.Format == FormatYUV422 && cfg.FrameSize.Width%2 != 0 {
		return nil, fmt.Errorf("yuv422 needs an even width, got %d", cfg.FrameSize.Width)
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}
	return &TestPatternSensor{
		cfg:  cfg,
		pool: NewPool(cfg.FBCount, slotSize(cfg)),
		now:  time.Now,
	}, nil
}

// Start begins producing frames
func (s *TestPatternSensor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sensor already running")
	}
	s.running = true
	s.started = s.now()

	logger.WithComponent("capture").Info().
		Str("sensor", s.Name()).
		Str("frame_size", s.cfg.FrameSize.String()).
		Str("format", s.cfg.Format.String()).
		Int("fb_count", s.cfg.FBCount).
		Msg("Sensor started")
	return nil
}

// Stop stops producing frames. Frames already captured may still be returned.
func (s *TestPatternSensor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// Name returns the sensor name
func (s *TestPatternSensor) Name() string {
	return "testpattern"
}

// PoolStats reports frame buffer usage
func (s *TestPatternSensor) PoolStats() PoolStats {
	return s.pool.Stats()
}

// Capture renders the next frame into a free pool slot
func (s *TestPatternSensor) Capture() (*Frame, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, ErrSensorStopped
	}
	s.seq++
	seq := s.seq
	elapsed := s.now().Sub(s.started)
	s.mu.Unlock()

	slot, err := s.pool.Acquire()
	if err != nil {
		return nil, err
	}

	data, err := s.render(seq, elapsed)
	if err != nil {
		s.pool.Release(slot)
		return nil, err
	}

	return NewFrame(slot, s.cfg.Format, s.cfg.FrameSize.Width, s.cfg.FrameSize.Height, data, seq), nil
}

// Return hands a frame's slot back to the pool
func (s *TestPatternSensor) Return(frame *Frame) error {
	if frame == nil {
		return nil
	}
	return s.pool.Release(frame.slot)
}

// render draws a gradient, a bar sweeping once per second of frames and a
// label with the frame number and wall clock
func (s *TestPatternSensor) render(seq uint64, elapsed time.Duration) ([]byte, error) {
	w, h := s.cfg.FrameSize.Width, s.cfg.FrameSize.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	shade := byte(seq % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = shade
			img.Pix[offset+1] = byte((x * 255) / w)
			img.Pix[offset+2] = byte((y * 255) / h)
			img.Pix[offset+3] = 255
		}
	}

	barWidth := w / 16
	if barWidth < 4 {
		barWidth = 4
	}
	period := time.Second
	pos := int(float64(w-barWidth) * float64(elapsed%period) / float64(period))
	draw.Draw(img, image.Rect(pos, 0, pos+barWidth, h), &image.Uniform{color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	label := fmt.Sprintf("minicam #%d %s", seq, s.now().Format("15:04:05.000"))
	drawLabel(img, label, 5, 5)

	if s.cfg.Format == FormatJPEG {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: sensorQualityToJPEG(s.cfg.JPEGQuality)}); err != nil {
			return nil, fmt.Errorf("failed to encode JPEG: %w", err)
		}
		return buf.Bytes(), nil
	}
	return packRaw(img, s.cfg.Format)
}

// drawLabel writes text on a dark box at x,y
func drawLabel(img *image.RGBA, text string, x, y int) {
	face := basicfont.Face7x13
	const lineHeight = 13
	const padding = 3

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: face,
	}
	textWidth := d.MeasureString(text).Ceil()

	box := image.Rect(x, y, x+textWidth+padding*2, y+lineHeight+padding*2).Intersect(img.Bounds())
	draw.Draw(img, box, &image.Uniform{color.RGBA{0, 0, 0, 255}}, image.Point{}, draw.Src)

	d.Dot = fixed.Point26_6{X: fixed.I(x + padding), Y: fixed.I(y + padding + lineHeight - 2)}
	d.DrawString(text)
}
