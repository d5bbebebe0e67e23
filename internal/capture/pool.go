package capture

import (
	"fmt"
	"sync"
)

// Slot is one frame buffer owned by a Pool
type Slot struct {
	index int
	buf   []byte
	held  bool
}

// Index returns the slot position in its pool
func (s *Slot) Index() int {
	return s.index
}

// PoolStats is a point-in-time view of pool usage
type PoolStats struct {
	Capacity  int    `json:"capacity"`
	InUse     int    `json:"in_use"`
	Acquired  uint64 `json:"acquired"`
	Released  uint64 `json:"released"`
	Exhausted uint64 `json:"exhausted"`
}

// Pool is a fixed set of reusable frame buffers, the way a camera driver
// keeps a small number of DMA buffers. Acquire never blocks: when every slot
// is held the capture fails and the caller retries later.
type Pool struct {
	mu    sync.Mutex
	slots []*Slot
	free  []*Slot
	stats PoolStats
}

// NewPool creates a pool with count slots, each preallocated to size bytes
func NewPool(count, size int) *Pool {
	if count < 1 {
		count = 1
	}
	p := &Pool{
		slots: make([]*Slot, count),
		free:  make([]*Slot, 0, count),
	}
	for i := range p.slots {
		s := &Slot{index: i, buf: make([]byte, 0, size)}
		p.slots[i] = s
		p.free = append(p.free, s)
	}
	p.stats.Capacity = count
	return p
}

// Acquire takes a free slot or fails with ErrPoolExhausted
func (p *Pool) Acquire() (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		p.stats.Exhausted++
		return nil, ErrPoolExhausted
	}

	s := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	s.held = true
	p.stats.Acquired++
	p.stats.InUse++
	return s, nil
}

// Release hands a slot back. Releasing a slot that is not held is an error.
func (p *Pool) Release(s *Slot) error {
	if s == nil {
		return fmt.Errorf("release nil slot")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s.index >= len(p.slots) || p.slots[s.index] != s {
		return fmt.Errorf("slot %d does not belong to this pool", s.index)
	}
	if !s.held {
		return fmt.Errorf("%w: slot %d", ErrDoubleRelease, s.index)
	}

	s.held = false
	p.free = append(p.free, s)
	p.stats.Released++
	p.stats.InUse--
	return nil
}

// Stats returns a copy of the pool counters
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
