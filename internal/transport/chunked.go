// Package transport drives a chunk producer the way an event-driven HTTP
// server drives a chunked response: it owns a bounded buffer, asks the
// producer to fill it, and writes whatever comes back until the client goes
// away.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bryanchriswhite/minicam/internal/logger"
	"github.com/cenkalti/backoff/v5"
)

// ChunkProducer fills dst with up to len(dst) bytes and returns the count.
// index is the total number of bytes produced so far. Zero means nothing is
// ready yet, not end of stream.
type ChunkProducer interface {
	Fill(dst []byte, index int) int
}

// ProducerFunc adapts a function to ChunkProducer
type ProducerFunc func(dst []byte, index int) int

// Fill calls f
func (f ProducerFunc) Fill(dst []byte, index int) int {
	return f(dst, index)
}

const (
	DefaultChunkSize    = 4096
	MinChunkSize        = 128
	DefaultInitialRetry = 5 * time.Millisecond
	DefaultMaxRetry     = 250 * time.Millisecond
)

// Options controls the pump loop
type Options struct {
	// ChunkSize is the capacity handed to the producer on every call
	ChunkSize int
	// InitialRetry and MaxRetry bound the wait after an empty fill
	InitialRetry time.Duration
	MaxRetry     time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.InitialRetry <= 0 {
		o.InitialRetry = DefaultInitialRetry
	}
	if o.MaxRetry < o.InitialRetry {
		o.MaxRetry = DefaultMaxRetry
		if o.MaxRetry < o.InitialRetry {
			o.MaxRetry = o.InitialRetry
		}
	}
	return o
}

// Validate checks the options a user can configure
func (o Options) Validate() error {
	if o.ChunkSize != 0 && o.ChunkSize < MinChunkSize {
		return fmt.Errorf("chunk size %d is below the minimum of %d", o.ChunkSize, MinChunkSize)
	}
	return nil
}

// Pump repeatedly fills a buffer from producer and writes it to w, flushing
// after every chunk when w supports it. It returns the number of bytes
// written when ctx is done or a write fails; it never returns on its own.
func Pump(ctx context.Context, w io.Writer, producer ChunkProducer, opts Options) (int64, error) {
	opts = opts.withDefaults()
	log := logger.WithComponent("transport")

	buf := make([]byte, opts.ChunkSize)
	flusher, _ := w.(http.Flusher)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = opts.InitialRetry
	retry.MaxInterval = opts.MaxRetry
	retry.Reset()

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n := producer.Fill(buf, int(written))
		if n == 0 {
			wait := retry.NextBackOff()
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return written, ctx.Err()
			case <-timer.C:
			}
			continue
		}
		if n > len(buf) {
			return written, fmt.Errorf("producer reported %d bytes for a %d byte buffer", n, len(buf))
		}
		retry.Reset()

		if _, err := w.Write(buf[:n]); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Int64("written", written).Msg("Write failed, client gone")
			}
			return written, err
		}
		written += int64(n)

		if flusher != nil {
			flusher.Flush()
		}
	}
}
