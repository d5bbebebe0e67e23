package capture

import (
	"fmt"
	"sync/atomic"

	"github.com/bryanchriswhite/minicam/internal/logger"
	"github.com/valyala/bytebufferpool"
)

// DefaultTranscodeQuality is the JPEG quality used for raw frames
const DefaultTranscodeQuality = 80

// AdapterStats counts what the adapter has done since creation
type AdapterStats struct {
	Captures        uint64    `json:"captures"`
	CaptureFailures uint64    `json:"capture_failures"`
	Native          uint64    `json:"native_jpeg"`
	Encodes         uint64    `json:"encodes"`
	EncodeFailures  uint64    `json:"encode_failures"`
	PoolReleases    uint64    `json:"pool_releases"`
	HeapFrees       uint64    `json:"heap_frees"`
	Pool            PoolStats `json:"pool"`
}

// Adapter turns a Sensor into a source of JPEG buffers, hiding whether the
// sensor delivered JPEG natively or raw pixels that had to be transcoded
type Adapter struct {
	sensor  Sensor
	encoder Encoder
	quality int

	captures        atomic.Uint64
	captureFailures atomic.Uint64
	native          atomic.Uint64
	encodes         atomic.Uint64
	encodeFailures  atomic.Uint64
	poolReleases    atomic.Uint64
	heapFrees       atomic.Uint64
}

// NewAdapter creates an adapter. A nil encoder selects the software JPEG
// encoder and a quality outside 1-100 selects DefaultTranscodeQuality.
func NewAdapter(sensor Sensor, encoder Encoder, quality int) *Adapter {
	if encoder == nil {
		encoder = NewJPEGEncoder()
	}
	if quality < 1 || quality > 100 {
		quality = DefaultTranscodeQuality
	}
	return &Adapter{
		sensor:  sensor,
		encoder: encoder,
		quality: quality,
	}
}

// Sensor returns the underlying sensor
func (a *Adapter) Sensor() Sensor {
	return a.sensor
}

// Capture obtains exactly one frame from the sensor
func (a *Adapter) Capture() (*Frame, error) {
	frame, err := a.sensor.Capture()
	if err != nil {
		a.captureFailures.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	if frame == nil {
		a.captureFailures.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, ErrNoFrame)
	}
	a.captures.Add(1)
	return frame, nil
}

// EnsureJPEG normalizes a captured frame into a JPEG Buffer. Ownership of
// frame moves to the returned Buffer, or is given back to the sensor on error.
func (a *Adapter) EnsureJPEG(frame *Frame) (*Buffer, error) {
	if !frame.Format.IsRaw() {
		a.native.Add(1)
		return &Buffer{
			data: frame.Data,
			seq:  frame.Seq,
			owner: &poolOwned{
				sensor: a.sensor,
				frame:  frame,
				done:   func() { a.poolReleases.Add(1) },
			},
		}, nil
	}

	heap := bytebufferpool.Get()
	encErr := a.encoder.Encode(heap, frame, a.quality)

	// The raw frame is not needed past this point on either path
	if err := a.sensor.Return(frame); err != nil {
		logger.WithComponent("capture").Warn().Err(err).Uint64("seq", frame.Seq).Msg("Failed to return frame to pool")
	}
	a.poolReleases.Add(1)

	if encErr != nil {
		bytebufferpool.Put(heap)
		a.encodeFailures.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, encErr)
	}

	a.encodes.Add(1)
	return &Buffer{
		data: heap.B,
		seq:  frame.Seq,
		owner: &heapOwned{
			buf:  heap,
			done: func() { a.heapFrees.Add(1) },
		},
	}, nil
}

// Next is Capture followed by EnsureJPEG
func (a *Adapter) Next() (*Buffer, error) {
	frame, err := a.Capture()
	if err != nil {
		return nil, err
	}
	return a.EnsureJPEG(frame)
}

// Stats returns the adapter counters together with the sensor pool usage
func (a *Adapter) Stats() AdapterStats {
	return AdapterStats{
		Captures:        a.captures.Load(),
		CaptureFailures: a.captureFailures.Load(),
		Native:          a.native.Load(),
		Encodes:         a.encodes.Load(),
		EncodeFailures:  a.encodeFailures.Load(),
		PoolReleases:    a.poolReleases.Load(),
		HeapFrees:       a.heapFrees.Load(),
		Pool:            a.sensor.PoolStats(),
	}
}
