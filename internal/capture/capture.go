package capture

// Sensor defines the interface for camera backends
type Sensor interface {
	// Start initializes the sensor and any required resources
	Start() error

	// Stop releases resources and stops any background processes
	Stop() error

	// Capture synchronously takes one frame out of the sensor's buffer pool.
	// It must return quickly: either a frame or an error, never a wait.
	Capture() (*Frame, error)

	// Return hands a captured frame's buffer back to the pool
	Return(frame *Frame) error

	// Name returns a human-readable name for this sensor
	Name() string

	// PoolStats reports frame buffer usage
	PoolStats() PoolStats
}

// SensorConfig holds the settings shared by all sensor backends
type SensorConfig struct {
	Device      string
	FrameSize   FrameSize
	Format      PixelFormat
	JPEGQuality int // sensor scale, 0-63, lower is better
	FrameRate   int
	FBCount     int
}

// sensorQualityToJPEG converts the 0-63 sensor quality scale (lower is
// better) into the 1-100 scale used by JPEG encoders
func sensorQualityToJPEG(q int) int {
	if q < 0 {
		q = 0
	}
	if q > 63 {
		q = 63
	}
	out := 100 - q*99/63
	if out < 1 {
		out = 1
	}
	return out
}

// slotSize estimates the bytes one frame needs in the pool
func slotSize(cfg SensorConfig) int {
	bpp := cfg.Format.BytesPerPixel()
	if bpp == 0 {
		// JPEG frames are far smaller than raw; slots grow on demand
		bpp = 1
	}
	return cfg.FrameSize.Width * cfg.FrameSize.Height * bpp
}

// Slot returns the pool slot the frame occupies
func (f *Frame) Slot() *Slot {
	return f.slot
}
