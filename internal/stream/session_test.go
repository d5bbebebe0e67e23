package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"sync"
	"testing"

	"github.com/bryanchriswhite/minicam/internal/capture"
)

// scriptedSensor produces JPEG-tagged frames whose payload sizes cycle
// through sizes. Every byte of frame N is byte(N) so payloads can be told
// apart after reassembly.
type scriptedSensor struct {
	mu      sync.Mutex
	pool    *capture.Pool
	format  capture.PixelFormat
	sizes   []int
	err     error
	seq     uint64
	returns int
}

func newScriptedSensor(slots int, sizes ...int) *scriptedSensor {
	return &scriptedSensor{
		pool:   capture.NewPool(slots, 0),
		format: capture.FormatJPEG,
		sizes:  sizes,
	}
}

func (s *scriptedSensor) Start() error { return nil }
func (s *scriptedSensor) Stop() error  { return nil }
func (s *scriptedSensor) Name() string { return "scripted" }

func (s *scriptedSensor) PoolStats() capture.PoolStats { return s.pool.Stats() }

func (s *scriptedSensor) Capture() (*capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	slot, err := s.pool.Acquire()
	if err != nil {
		return nil, err
	}
	size := s.sizes[int(s.seq)%len(s.sizes)]
	s.seq++
	data := bytes.Repeat([]byte{byte(s.seq)}, size)
	if s.format.IsRaw() {
		// 1 pixel high, width picked so the byte count matches
		return capture.NewFrame(slot, s.format, size/s.format.BytesPerPixel(), 1, data, s.seq), nil
	}
	return capture.NewFrame(slot, s.format, 1, 1, data, s.seq), nil
}

func (s *scriptedSensor) Return(frame *capture.Frame) error {
	s.mu.Lock()
	s.returns++
	s.mu.Unlock()
	return s.pool.Release(frame.Slot())
}

func (s *scriptedSensor) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func newTestSession(sensor capture.Sensor) (*Session, *capture.Adapter) {
	adapter := capture.NewAdapter(sensor, nil, 0)
	return NewSession("test", adapter, ""), adapter
}

// fillN calls Fill until n frames have been completed and returns the bytes
// produced and the number of calls made
func fillN(t *testing.T, s *Session, maxLen, frames int) ([]byte, int) {
	t.Helper()
	var out []byte
	dst := make([]byte, maxLen)
	calls := 0
	for s.Stats().FramesCompleted < uint64(frames) {
		calls++
		if calls > 100000 {
			t.Fatalf("no progress after %d calls: %v", calls, s.Err())
		}
		n := s.Fill(dst, len(out))
		if n > maxLen {
			t.Fatalf("Fill() returned %d for a %d byte buffer", n, maxLen)
		}
		out = append(out, dst[:n]...)
	}
	return out, calls
}

type part struct {
	contentType string
	payload     []byte
}

// parseStream splits stream output into parts, failing on any deviation
// from the envelope format
func parseStream(t *testing.T, data []byte, boundary string) []part {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(data))
	delim := "\r\n--" + boundary + "\r\n"

	var parts []part
	for {
		head := make([]byte, len(delim))
		if _, err := io.ReadFull(r, head); err != nil {
			if err == io.EOF {
				return parts
			}
			t.Fatalf("part %d: truncated delimiter: %v", len(parts), err)
		}
		if string(head) != delim {
			t.Fatalf("part %d: delimiter %q, want %q", len(parts), head, delim)
		}

		header, err := textproto.NewReader(r).ReadMIMEHeader()
		if err != nil {
			t.Fatalf("part %d: bad header: %v", len(parts), err)
		}
		length, err := strconv.Atoi(header.Get("Content-Length"))
		if err != nil {
			t.Fatalf("part %d: bad Content-Length %q", len(parts), header.Get("Content-Length"))
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			t.Fatalf("part %d: payload shorter than Content-Length %d: %v", len(parts), length, err)
		}
		parts = append(parts, part{contentType: header.Get("Content-Type"), payload: payload})
	}
}

func TestHeaderLenMatchesAppendHeader(t *testing.T) {
	for _, boundary := range []string{DefaultBoundary, "x", "frame-boundary"} {
		for _, n := range []int{0, 1, 9, 10, 99, 100, 50000, 1 << 20} {
			header := AppendHeader(nil, boundary, n)
			if got := HeaderLen(boundary, n); got != len(header) {
				t.Errorf("HeaderLen(%q, %d) = %d, header is %d bytes", boundary, n, got, len(header))
			}
		}
	}

	want := "\r\n--" + DefaultBoundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: 1234\r\n\r\n"
	if got := string(AppendHeader(nil, DefaultBoundary, 1234)); got != want {
		t.Errorf("AppendHeader() = %q, want %q", got, want)
	}
}

func TestFillProducesWellFormedStream(t *testing.T) {
	sizes := []int{0, 1, 700, 5000, 81}
	headerMax := HeaderLen(DefaultBoundary, 5000)

	for _, maxLen := range []int{headerMax, headerMax + 1, 128, 257, 1024, 4096, 65536} {
		t.Run(fmt.Sprintf("maxLen=%d", maxLen), func(t *testing.T) {
			sensor := newScriptedSensor(2, sizes...)
			session, _ := newTestSession(sensor)

			out, _ := fillN(t, session, maxLen, len(sizes)*2)
			parts := parseStream(t, out, DefaultBoundary)

			if len(parts) != len(sizes)*2 {
				t.Fatalf("parsed %d parts, want %d", len(parts), len(sizes)*2)
			}
			for i, p := range parts {
				if p.contentType != "image/jpeg" {
					t.Errorf("part %d Content-Type = %q", i, p.contentType)
				}
				want := bytes.Repeat([]byte{byte(i + 1)}, sizes[i%len(sizes)])
				if !bytes.Equal(p.payload, want) {
					t.Errorf("part %d payload mismatch (len %d, want %d)", i, len(p.payload), len(want))
				}
			}
		})
	}
}

func TestEveryFrameReleasedOnce(t *testing.T) {
	sensor := newScriptedSensor(2, 3000, 10, 999)
	session, adapter := newTestSession(sensor)

	fillN(t, session, 512, 30)

	if session.State() != AwaitingFrame {
		t.Fatalf("State() = %s after completed frames, want awaiting_frame", session.State())
	}
	stats := adapter.Stats()
	if stats.Captures != 30 {
		t.Errorf("Captures = %d, want 30", stats.Captures)
	}
	if sensor.returns != 30 {
		t.Errorf("sensor saw %d returns for 30 frames", sensor.returns)
	}
	if pool := sensor.PoolStats(); pool.InUse != 0 || pool.Released != 30 {
		t.Errorf("pool = %+v, want nothing in use and 30 released", pool)
	}
}

func TestCaptureFailureEmitsNothing(t *testing.T) {
	sensor := newScriptedSensor(1, 100)
	sensor.setErr(capture.ErrNoFrame)
	session, adapter := newTestSession(sensor)

	dst := make([]byte, 1024)
	for i := 0; i < 5; i++ {
		if n := session.Fill(dst, 0); n != 0 {
			t.Fatalf("Fill() = %d during capture failure, want 0", n)
		}
		if !errors.Is(session.Err(), capture.ErrCaptureFailed) {
			t.Fatalf("Err() = %v, want ErrCaptureFailed", session.Err())
		}
		if session.State() != AwaitingFrame {
			t.Fatalf("State() = %s, want awaiting_frame", session.State())
		}
	}
	if got := adapter.Stats().CaptureFailures; got != 5 {
		t.Errorf("CaptureFailures = %d, want 5", got)
	}
	if got := session.Stats().EmptyFills; got != 5 {
		t.Errorf("EmptyFills = %d, want 5", got)
	}

	sensor.setErr(nil)
	out, _ := fillN(t, session, 1024, 1)
	parts := parseStream(t, out, DefaultBoundary)
	if len(parts) != 1 || len(parts[0].payload) != 100 {
		t.Fatalf("after recovery got %d parts", len(parts))
	}
	if session.Err() != nil {
		t.Errorf("Err() = %v after successful fill", session.Err())
	}
}

func TestFillInvocationsPerFrame(t *testing.T) {
	tests := []struct {
		size   int
		maxLen int
	}{
		{5000, 1024},
		{50000, 1024},
		{0, 1024},
		{1, 128},
		{939, 1024}, // header plus payload exactly fills one chunk
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d@%d", tt.size, tt.maxLen), func(t *testing.T) {
			sensor := newScriptedSensor(1, tt.size)
			session, _ := newTestSession(sensor)

			_, calls := fillN(t, session, tt.maxLen, 1)

			total := HeaderLen(DefaultBoundary, tt.size) + tt.size
			want := (total + tt.maxLen - 1) / tt.maxLen
			if calls != want {
				t.Errorf("frame took %d Fill calls, want %d", calls, want)
			}
		})
	}
}

func TestContentLengthMatchesPayload(t *testing.T) {
	for _, size := range []int{0, 1, 50000} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			sensor := newScriptedSensor(1, size)
			session, _ := newTestSession(sensor)

			out, _ := fillN(t, session, 1024, 1)
			wantHeader := "Content-Length: " + strconv.Itoa(size) + "\r\n\r\n"
			if !bytes.Contains(out, []byte(wantHeader)) {
				t.Fatalf("stream missing %q", wantHeader)
			}
			if len(out) != HeaderLen(DefaultBoundary, size)+size {
				t.Errorf("stream is %d bytes, want %d", len(out), HeaderLen(DefaultBoundary, size)+size)
			}
		})
	}
}

func TestFreshCaptureAfterDrain(t *testing.T) {
	sensor := newScriptedSensor(1, 2000)
	session, _ := newTestSession(sensor)

	out, _ := fillN(t, session, 300, 3)
	parts := parseStream(t, out, DefaultBoundary)
	if len(parts) != 3 {
		t.Fatalf("parsed %d parts, want 3", len(parts))
	}
	for i, p := range parts {
		if p.payload[0] != byte(i+1) {
			t.Errorf("part %d came from frame %d, want a fresh frame %d", i, p.payload[0], i+1)
		}
	}
}

func TestCloseMidDrainReleasesFrame(t *testing.T) {
	sensor := newScriptedSensor(1, 10000)
	session, adapter := newTestSession(sensor)

	dst := make([]byte, 1024)
	if n := session.Fill(dst, 0); n != 1024 {
		t.Fatalf("first Fill() = %d, want 1024", n)
	}
	if session.State() != DrainingFrame {
		t.Fatalf("State() = %s, want draining_frame", session.State())
	}
	if got := sensor.PoolStats().InUse; got != 1 {
		t.Fatalf("pool InUse = %d mid-drain, want 1", got)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if got := sensor.PoolStats().InUse; got != 0 {
		t.Errorf("pool InUse = %d after Close, want 0", got)
	}
	if got := adapter.Stats().PoolReleases; got != 1 {
		t.Errorf("PoolReleases = %d, want 1", got)
	}
	if got := session.Stats().FramesDropped; got != 1 {
		t.Errorf("FramesDropped = %d, want 1", got)
	}

	if err := session.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if sensor.returns != 1 {
		t.Errorf("sensor saw %d returns, want 1", sensor.returns)
	}
	if n := session.Fill(dst, 1024); n != 0 {
		t.Errorf("Fill() after Close = %d, want 0", n)
	}
	if !errors.Is(session.Err(), ErrSessionClosed) {
		t.Errorf("Err() = %v, want ErrSessionClosed", session.Err())
	}
}

func TestHeaderTooSmallDropsFrame(t *testing.T) {
	sensor := newScriptedSensor(1, 100)
	session, _ := newTestSession(sensor)

	dst := make([]byte, HeaderLen(DefaultBoundary, 100)-1)
	for i := 0; i < 3; i++ {
		if n := session.Fill(dst, 0); n != 0 {
			t.Fatalf("Fill() = %d with a buffer smaller than the header, want 0", n)
		}
		if !errors.Is(session.Err(), ErrBufferTooSmall) {
			t.Fatalf("Err() = %v, want ErrBufferTooSmall", session.Err())
		}
	}

	if session.State() != AwaitingFrame {
		t.Errorf("State() = %s, want awaiting_frame", session.State())
	}
	if got := sensor.PoolStats().InUse; got != 0 {
		t.Errorf("pool InUse = %d, dropped frames must be released", got)
	}
	if got := session.Stats().FramesDropped; got != 3 {
		t.Errorf("FramesDropped = %d, want 3", got)
	}

	// A large enough buffer resumes with a fresh frame
	out, _ := fillN(t, session, 1024, 1)
	parts := parseStream(t, out, DefaultBoundary)
	if len(parts) != 1 || parts[0].payload[0] != 4 {
		t.Errorf("expected frame 4 after three drops, got %v", parts)
	}
}

func TestHeaderOnlyFitsThenDrains(t *testing.T) {
	sensor := newScriptedSensor(1, 50)
	session, _ := newTestSession(sensor)

	headerLen := HeaderLen(DefaultBoundary, 50)
	out, calls := fillN(t, session, headerLen, 1)
	if calls != 2 {
		t.Errorf("took %d calls, want header then payload", calls)
	}
	if len(parseStream(t, out, DefaultBoundary)) != 1 {
		t.Error("stream did not parse")
	}
}

func TestRawFramesUseHeapBuffers(t *testing.T) {
	sensor := newScriptedSensor(1, 3*16)
	sensor.format = capture.FormatRGB888
	session, adapter := newTestSession(sensor)

	out, _ := fillN(t, session, 256, 4)
	parts := parseStream(t, out, DefaultBoundary)
	if len(parts) != 4 {
		t.Fatalf("parsed %d parts, want 4", len(parts))
	}
	for i, p := range parts {
		if len(p.payload) < 4 || p.payload[0] != 0xFF || p.payload[1] != 0xD8 {
			t.Errorf("part %d is not a JPEG", i)
		}
	}

	stats := adapter.Stats()
	if stats.Encodes != 4 || stats.HeapFrees != 4 || stats.PoolReleases != 4 {
		t.Errorf("adapter stats = %+v, want 4 encodes, heap frees and pool releases", stats)
	}
	if got := sensor.PoolStats().InUse; got != 0 {
		t.Errorf("pool InUse = %d, want 0", got)
	}
}

func TestFillEmptyDestination(t *testing.T) {
	sensor := newScriptedSensor(1, 10)
	session, adapter := newTestSession(sensor)

	if n := session.Fill(nil, 0); n != 0 {
		t.Errorf("Fill(nil) = %d, want 0", n)
	}
	if got := adapter.Stats().Captures; got != 0 {
		t.Errorf("Fill with no room captured %d frames", got)
	}
}
