package capture

import (
	"github.com/valyala/bytebufferpool"
)

// Ownership says how a Buffer's bytes must be given back
type Ownership int

const (
	// OwnerPool bytes are a view into a sensor frame buffer; release returns
	// the frame to the sensor's pool
	OwnerPool Ownership = iota + 1

	// OwnerHeap bytes came from the encoder; release frees the heap buffer
	OwnerHeap
)

func (o Ownership) String() string {
	switch o {
	case OwnerPool:
		return "pool"
	case OwnerHeap:
		return "heap"
	default:
		return "released"
	}
}

// releaser is the ownership-specific half of a Buffer. The concrete type is
// chosen when the buffer is acquired and is the only thing consulted when it
// is released.
type releaser interface {
	kind() Ownership
	release() error
}

type poolOwned struct {
	sensor Sensor
	frame  *Frame
	done   func()
}

func (p *poolOwned) kind() Ownership { return OwnerPool }

func (p *poolOwned) release() error {
	err := p.sensor.Return(p.frame)
	if p.done != nil {
		p.done()
	}
	return err
}

type heapOwned struct {
	buf  *bytebufferpool.ByteBuffer
	done func()
}

func (h *heapOwned) kind() Ownership { return OwnerHeap }

func (h *heapOwned) release() error {
	bytebufferpool.Put(h.buf)
	if h.done != nil {
		h.done()
	}
	return nil
}

// Buffer is a JPEG byte buffer tagged with how it was acquired
type Buffer struct {
	data  []byte
	owner releaser
	seq   uint64
}

// Bytes returns the encoded JPEG. The slice is invalid after Release.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the encoded length
func (b *Buffer) Len() int {
	return len(b.data)
}

// Seq returns the sequence number of the frame the buffer came from
func (b *Buffer) Seq() uint64 {
	return b.seq
}

// Owner returns the ownership kind, or 0 once the buffer has been released
func (b *Buffer) Owner() Ownership {
	if b.owner == nil {
		return 0
	}
	return b.owner.kind()
}

// Released reports whether Release has already run
func (b *Buffer) Released() bool {
	return b.owner == nil
}

// Release gives the bytes back the way they were acquired. Calling it again
// is a no-op.
func (b *Buffer) Release() error {
	if b.owner == nil {
		return nil
	}
	owner := b.owner
	b.owner = nil
	b.data = nil
	return owner.release()
}
