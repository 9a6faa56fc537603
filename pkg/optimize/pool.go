package optimize

import (
	"bytes"
	"io"
	"sync"
)

// FramePool reuses read buffers for inbound socket frames.
type FramePool struct {
	pool    sync.Pool
	maxKeep int
}

// NewFramePool creates a pool whose buffers start at initial bytes. Buffers
// that grew past maxKeep are dropped instead of returned to the pool.
func NewFramePool(initial, maxKeep int) *FramePool {
	return &FramePool{
		maxKeep: maxKeep,
		pool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, initial))
			},
		},
	}
}

// Get returns an empty buffer.
func (p *FramePool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put returns b to the pool.
func (p *FramePool) Put(b *bytes.Buffer) {
	if b == nil || (p.maxKeep > 0 && b.Cap() > p.maxKeep) {
		return
	}
	b.Reset()
	p.pool.Put(b)
}

// ReadLimited reads at most limit+1 bytes of r into a pooled buffer. The
// second result is false when r held more than limit bytes. The caller must
// Put the buffer back once it is done with its bytes.
func (p *FramePool) ReadLimited(r io.Reader, limit int64) (*bytes.Buffer, bool, error) {
	buf := p.Get()
	n, err := buf.ReadFrom(io.LimitReader(r, limit+1))
	if err != nil {
		p.Put(buf)
		return nil, false, err
	}
	return buf, n <= limit, nil
}
