package stream

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher serves the published frame to one client per turn, one turn
// per base period. N registered clients share that throughput, each seeing
// roughly base-rate/N frames per second.
type Dispatcher struct {
	s      *Session
	state  taskState
	wake   *signal
	tick   ticker
	logger *slog.Logger

	// JPEG of the last converted frame, reused while the same frame is
	// published.
	cacheSeq uint64
	cache    []byte
}

// State returns the dispatcher's run state.
func (d *Dispatcher) State() State { return d.state.load() }

func (d *Dispatcher) setState(st State) {
	d.state.store(st)
	d.s.metrics.TaskRunning("dispatcher", st == StateRunning)
}

func (d *Dispatcher) run(ctx context.Context) error {
	if d.s.frameReady.wait(ctx) != nil {
		return nil
	}
	d.tick.reset()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if d.s.registry.Len() == 0 {
			d.setState(StateIdle)
			d.logger.Debug("no clients, suspending")
			if d.wake.wait(ctx) != nil {
				return nil
			}
			d.setState(StateRunning)
			d.logger.Debug("resumed")
			d.tick.reset()
			continue
		}

		d.turn()

		if d.tick.sleep(ctx, d.s.period) != nil {
			return nil
		}
	}
}

// turn serves the client at the front of the registry.
func (d *Dispatcher) turn() {
	c, ok := d.s.registry.Pop()
	if !ok {
		return
	}
	if !c.Connected() {
		d.s.registry.Retire()
		if err := c.Close(); err != nil {
			d.logger.Debug("close client", "client", c.ID(), "error", err)
		}
		d.s.dropped.Add(1)
		d.s.metrics.Dropped(d.s.registry.Len())
		d.logger.Info("client disconnected", "client", c.ID(), "clients", d.s.registry.Len())
		return
	}
	d.serve(c)
	d.s.registry.Requeue(c)
}

// serve writes the published frame to c. The gate is held until the write
// returns so the producer cannot swap the buffer underneath it.
func (d *Dispatcher) serve(c Client) {
	d.s.gate.Lock()
	defer d.s.gate.Unlock()
	start := time.Now()

	cur := d.s.buffers.view()
	if len(cur.Data) == 0 {
		return
	}

	payload := cur.Data
	if cur.Format != FormatJPEG {
		jpg, err := d.convert(&cur)
		if err != nil {
			d.s.convFailures.Add(1)
			d.s.metrics.ConversionFailed()
			d.logger.Warn("conversion failed, skipping turn", "client", c.ID(), "format", cur.Format, "error", err)
			return
		}
		payload = jpg
	}

	if err := c.WriteFrame(payload); err != nil {
		d.logger.Debug("write failed", "client", c.ID(), "error", err)
		return
	}
	d.s.served.Add(1)
	d.s.metrics.FrameServed(time.Since(start))
}

func (d *Dispatcher) convert(f *Frame) ([]byte, error) {
	if d.cache != nil && d.cacheSeq == f.Seq {
		return d.cache, nil
	}
	out, err := d.s.encode(f)
	if err != nil {
		return nil, err
	}
	d.cacheSeq, d.cache = f.Seq, out
	d.logger.Debug("frame converted", "from", f.Format, "raw_bytes", f.Len(), "jpeg_bytes", len(out))
	return out, nil
}
