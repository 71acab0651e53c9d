package stream

import (
	"context"
	"log/slog"

	"mjpeg-stream-server/internal/errors"
)

// Producer pulls frames from the Source at the session rate and publishes
// them through the buffer pair.
type Producer struct {
	s      *Session
	state  taskState
	wake   *signal
	tick   ticker
	seq    uint64
	logger *slog.Logger
}

// State returns the producer's run state.
func (p *Producer) State() State { return p.state.load() }

func (p *Producer) setState(st State) {
	p.state.store(st)
	p.s.metrics.TaskRunning("producer", st == StateRunning)
}

// run loops until ctx is done. The only error it returns is a fatal
// allocation failure.
func (p *Producer) run(ctx context.Context) error {
	p.tick.reset()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.fill(); err != nil {
			return err
		}
		if p.tick.sleep(ctx, p.s.period) != nil {
			return nil
		}
		p.publish()
		p.s.frameReady.notify()

		if p.s.dispatcher.State() == StateIdle {
			p.setState(StateIdle)
			p.logger.Debug("dispatcher idle, suspending")
			if p.wake.wait(ctx) != nil {
				return nil
			}
			p.setState(StateRunning)
			p.logger.Debug("resumed")
			p.tick.reset()
		}
	}
}

// fill copies the next sensor frame into the inactive buffer. A sensor
// with nothing to give leaves an empty frame behind.
func (p *Producer) fill() error {
	p.s.sourceMu.Lock()
	defer p.s.sourceMu.Unlock()

	buf := p.s.buffers.inactive()

	f, err := p.s.source.Acquire()
	if err != nil {
		if errors.IsFatal(err) {
			return err
		}
		if !errors.Is(err, ErrUnavailable) {
			p.logger.Warn("sensor acquire failed", "error", err)
		}
		buf.length = 0
		buf.meta = Frame{}
		return nil
	}
	defer p.s.source.Release(f)

	grown, err := buf.reserve(f.Len(), p.s.alloc)
	if err != nil {
		return err
	}
	if grown {
		idx := p.s.buffers.inactiveIndex()
		p.logger.Debug("frame buffer grown", "index", idx, "capacity", buf.capacity(), "tier", buf.block.Tier())
		p.s.metrics.BufferResized(idx, buf.capacity())
	}

	p.seq++
	buf.length = copy(buf.block.Bytes(), f.Data)
	buf.meta = Frame{Width: f.Width, Height: f.Height, Format: f.Format, Seq: p.seq}
	return nil
}

// publish swaps the buffers under the gate.
func (p *Producer) publish() {
	p.s.gate.Lock()
	p.s.buffers.publish()
	n := p.s.buffers.bufs[p.s.buffers.current].length
	p.s.gate.Unlock()

	p.s.produced.Add(1)
	if n == 0 {
		p.s.empty.Add(1)
	}
	p.s.metrics.FramePublished(n == 0)
}
