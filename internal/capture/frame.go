package capture

import (
	"fmt"
	"strings"
	"time"
)

// PixelFormat tags how a frame's bytes are laid out
type PixelFormat int

const (
	FormatJPEG PixelFormat = iota
	FormatRGB888
	FormatRGB565
	FormatGrayscale
	FormatYUV422
)

var pixelFormatNames = map[PixelFormat]string{
	FormatJPEG:      "jpeg",
	FormatRGB888:    "rgb888",
	FormatRGB565:    "rgb565",
	FormatGrayscale: "grayscale",
	FormatYUV422:    "yuv422",
}

func (p PixelFormat) String() string {
	if name, ok := pixelFormatNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(%d)", int(p))
}

// IsRaw returns true for every format that needs transcoding before streaming
func (p PixelFormat) IsRaw() bool {
	return p != FormatJPEG
}

// BytesPerPixel returns the size of one pixel for raw formats, 0 for JPEG
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case FormatRGB888:
		return 3
	case FormatRGB565, FormatYUV422:
		return 2
	case FormatGrayscale:
		return 1
	default:
		return 0
	}
}

// ParsePixelFormat maps a config name to a PixelFormat
func ParsePixelFormat(name string) (PixelFormat, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for format, formatName := range pixelFormatNames {
		if formatName == n {
			return format, nil
		}
	}
	switch n {
	case "gray", "grey", "greyscale":
		return FormatGrayscale, nil
	case "rgb", "rgb24":
		return FormatRGB888, nil
	case "yuyv", "yuy2":
		return FormatYUV422, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// FrameSize is a named sensor resolution
type FrameSize struct {
	Name   string
	Width  int
	Height int
}

func (s FrameSize) String() string {
	return fmt.Sprintf("%s (%dx%d)", s.Name, s.Width, s.Height)
}

// frameSizes mirrors the resolutions offered by common camera module drivers
var frameSizes = []FrameSize{
	{"QQVGA", 160, 120},
	{"HQVGA", 240, 176},
	{"QVGA", 320, 240},
	{"CIF", 400, 296},
	{"HVGA", 480, 320},
	{"VGA", 640, 480},
	{"SVGA", 800, 600},
	{"XGA", 1024, 768},
	{"HD", 1280, 720},
	{"SXGA", 1280, 1024},
	{"UXGA", 1600, 1200},
}

// ParseFrameSize looks up a frame size by name (case-insensitive)
func ParseFrameSize(name string) (FrameSize, error) {
	for _, s := range frameSizes {
		if strings.EqualFold(s.Name, strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return FrameSize{}, fmt.Errorf("unknown frame size %q", name)
}

// FrameSizes returns the supported frame sizes, smallest first
func FrameSizes() []FrameSize {
	out := make([]FrameSize, len(frameSizes))
	copy(out, frameSizes)
	return out
}

// Frame is one captured image. It occupies a pool slot from Capture until the
// sensor's Return is called and must not be modified in between.
type Frame struct {
	Format    PixelFormat
	Width     int
	Height    int
	Data      []byte
	Timestamp time.Time
	Seq       uint64

	slot *Slot
}

// Len returns the number of bytes in the frame
func (f *Frame) Len() int {
	return len(f.Data)
}

// NewFrame places data into slot and returns the frame describing it.
// Sensors outside this package use it to fill acquired slots.
func NewFrame(slot *Slot, format PixelFormat, width, height int, data []byte, seq uint64) *Frame {
	slot.buf = append(slot.buf[:0], data...)
	return &Frame{
		Format:    format,
		Width:     width,
		Height:    height,
		Data:      slot.buf,
		Timestamp: time.Now(),
		Seq:       seq,
		slot:      slot,
	}
}
