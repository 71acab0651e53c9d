package stream

import (
	"sync/atomic"

	"mjpeg-stream-server/internal/memtier"
)

// frameBuffer is one half of the ping-pong pair. Its capacity only grows.
type frameBuffer struct {
	block  *memtier.Block
	length int
	meta   Frame // Width, Height, Format, Seq of the bytes in block

	// size mirrors block.Len() for readers outside the producer, which
	// must not touch block while the buffer is inactive.
	size atomic.Int64
}

// capacity is for the producer only. Other goroutines use reported.
func (b *frameBuffer) capacity() int { return b.block.Len() }

func (b *frameBuffer) reported() int { return int(b.size.Load()) }

// reserve makes room for size bytes, growing to 4/3 of size so that small
// increases in frame size do not reallocate every cycle.
func (b *frameBuffer) reserve(size int, alloc *memtier.Allocator) (bool, error) {
	if size <= b.capacity() {
		return false, nil
	}
	blk, err := alloc.Allocate(b.block, size*4/3)
	if err != nil {
		b.block = nil
		b.length = 0
		b.size.Store(0)
		return false, err
	}
	b.block = blk
	b.size.Store(int64(blk.Len()))
	return true, nil
}

// bufferPair holds the two buffers and the parity bit naming the published
// one. The producer writes only bufs[current^1]; readers touch only
// bufs[current], and only under the session gate.
type bufferPair struct {
	bufs    [2]frameBuffer
	current int
}

func (p *bufferPair) inactiveIndex() int { return p.current ^ 1 }

func (p *bufferPair) inactive() *frameBuffer { return &p.bufs[p.current^1] }

// publish hands the inactive buffer over. Caller holds the gate.
func (p *bufferPair) publish() {
	p.current ^= 1
}

// view returns the published frame without copying. Caller holds the gate
// for as long as it uses the returned Data.
func (p *bufferPair) view() Frame {
	b := &p.bufs[p.current]
	f := b.meta
	if b.length > 0 {
		f.Data = b.block.Bytes()[:b.length]
	} else {
		f.Data = nil
	}
	return f
}

// capacities is safe without the gate.
func (p *bufferPair) capacities() [2]int {
	return [2]int{p.bufs[0].reported(), p.bufs[1].reported()}
}
