package capture

import "errors"

var (
	// ErrCaptureFailed wraps every reason a sensor could not deliver a frame
	ErrCaptureFailed = errors.New("camera capture failed")

	// ErrEncodeFailed is returned when a raw frame could not be transcoded to JPEG
	ErrEncodeFailed = errors.New("JPEG conversion failed")

	// ErrPoolExhausted means every frame buffer is currently held
	ErrPoolExhausted = errors.New("frame buffer pool exhausted")

	// ErrNoFrame means the sensor has not produced a usable frame yet
	ErrNoFrame = errors.New("no frame available")

	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrSensorStopped     = errors.New("sensor not running")
	ErrDoubleRelease     = errors.New("frame buffer released twice")
)
