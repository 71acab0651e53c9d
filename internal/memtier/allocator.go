// Package memtier hands out frame storage from two memory tiers: a small fast
// tier with a fixed byte budget and a large slow tier bounded either by a
// configured limit or by what the host reports as available.
//
// Allocation failure in both tiers is fatal. The returned error is classified
// with errors.WrapFatal so the caller can stop and let supervision restart the
// process instead of streaming from a half-allocated buffer pair.
package memtier

import (
	"fmt"
	"log/slog"
	"sync"

	"mjpeg-stream-server/internal/errors"
)

// Tier identifies which memory tier backs a Block.
type Tier int

const (
	// TierFast is the small, fast tier (internal RAM on the target boards).
	TierFast Tier = iota
	// TierSlow is the large, slower tier (external RAM).
	TierSlow
)

// String returns the tier name used in logs and config.
func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierSlow:
		return "slow"
	default:
		return "unknown"
	}
}

// ParseTier maps a config value to a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "fast", "dram":
		return TierFast, nil
	case "slow", "psram":
		return TierSlow, nil
	}
	return 0, errors.WrapInvalid(fmt.Errorf("unknown tier %q", s), "memtier", "ParseTier", "parse tier")
}

// Block is a single allocation. Its length is fixed; growing means
// allocating a new Block.
type Block struct {
	buf  []byte
	tier Tier
}

// Bytes returns the backing storage.
func (b *Block) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.buf
}

// Len returns the block capacity in bytes.
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return len(b.buf)
}

// Tier returns the tier the block was carved from.
func (b *Block) Tier() Tier { return b.tier }

// Probe reports the number of bytes currently available in the slow tier.
type Probe func() (uint64, error)

// Stats is a snapshot of tier accounting.
type Stats struct {
	FastBudget    int64 `json:"fast_budget"`
	FastUsed      int64 `json:"fast_used"`
	SlowLimit     int64 `json:"slow_limit"`
	SlowUsed      int64 `json:"slow_used"`
	SlowAvailable int64 `json:"slow_available"`
	Allocations   int64 `json:"allocations"`
}

// Allocator tracks usage of both tiers. Safe for concurrent use.
type Allocator struct {
	mu sync.Mutex

	fastBudget int64
	fastUsed   int64
	slowLimit  int64
	slowUsed   int64
	allocs     int64

	probe  Probe
	logger *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithFastBudget sets the fast tier size in bytes.
func WithFastBudget(n int64) Option {
	return func(a *Allocator) { a.fastBudget = n }
}

// WithSlowLimit bounds the slow tier. Zero means "ask the probe".
func WithSlowLimit(n int64) Option {
	return func(a *Allocator) { a.slowLimit = n }
}

// WithProbe replaces the host memory probe used when no slow limit is set.
func WithProbe(p Probe) Option {
	return func(a *Allocator) { a.probe = p }
}

// WithLogger injects a logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// New creates an Allocator. Without options it has a 256 KiB fast tier and a
// slow tier sized by the host's available memory.
func New(opts ...Option) *Allocator {
	a := &Allocator{
		fastBudget: 256 << 10,
		probe:      HostAvailable,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "memtier")
	return a
}

// Allocate frees prev and returns a new Block of size bytes.
//
// When size exceeds two thirds of the free fast tier the request goes straight
// to the slow tier. Otherwise the fast tier is tried first and the slow tier
// is the fallback. A request neither tier can satisfy returns a fatal error.
func (a *Allocator) Allocate(prev *Block, size int) (*Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.freeLocked(prev)

	req := int64(size)
	fastFree := a.fastBudget - a.fastUsed

	var (
		blk *Block
		err error
	)
	if req > fastFree*2/3 {
		blk, err = a.takeSlowLocked(req)
	} else {
		blk = a.takeFastLocked(req)
		if blk == nil {
			blk, err = a.takeSlowLocked(req)
		}
	}
	if blk == nil {
		return nil, a.exhausted(size, err)
	}
	return blk, nil
}

// AllocateIn frees prev and allocates size bytes from the preferred tier,
// falling back to the other one. Used for sensor-owned storage where the
// board configuration picks the tier.
func (a *Allocator) AllocateIn(preferred Tier, prev *Block, size int) (*Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.freeLocked(prev)

	req := int64(size)
	var (
		blk *Block
		err error
	)
	if preferred == TierSlow {
		blk, err = a.takeSlowLocked(req)
		if blk == nil {
			blk = a.takeFastLocked(req)
		}
	} else {
		blk = a.takeFastLocked(req)
		if blk == nil {
			blk, err = a.takeSlowLocked(req)
		}
	}
	if blk == nil {
		return nil, a.exhausted(size, err)
	}
	return blk, nil
}

// Free returns a block to its tier. Freeing nil is a no-op.
func (a *Allocator) Free(b *Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(b)
}

// FastAvailable returns the free bytes of the fast tier.
func (a *Allocator) FastAvailable() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fastBudget - a.fastUsed
}

// SlowAvailable returns the free bytes of the slow tier.
func (a *Allocator) SlowAvailable() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	avail, _ := a.slowAvailableLocked()
	return avail
}

// Stats returns a snapshot of tier accounting.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	avail, _ := a.slowAvailableLocked()
	return Stats{
		FastBudget:    a.fastBudget,
		FastUsed:      a.fastUsed,
		SlowLimit:     a.slowLimit,
		SlowUsed:      a.slowUsed,
		SlowAvailable: avail,
		Allocations:   a.allocs,
	}
}

func (a *Allocator) freeLocked(b *Block) {
	if b == nil || b.buf == nil {
		return
	}
	n := int64(len(b.buf))
	switch b.tier {
	case TierFast:
		a.fastUsed -= n
	case TierSlow:
		a.slowUsed -= n
	}
	b.buf = nil
}

func (a *Allocator) takeFastLocked(req int64) *Block {
	if req > a.fastBudget-a.fastUsed {
		return nil
	}
	a.fastUsed += req
	a.allocs++
	return &Block{buf: make([]byte, req), tier: TierFast}
}

func (a *Allocator) takeSlowLocked(req int64) (*Block, error) {
	avail, err := a.slowAvailableLocked()
	if err != nil {
		return nil, err
	}
	if avail <= req {
		return nil, nil
	}
	a.slowUsed += req
	a.allocs++
	return &Block{buf: make([]byte, req), tier: TierSlow}, nil
}

func (a *Allocator) slowAvailableLocked() (int64, error) {
	if a.slowLimit > 0 {
		return a.slowLimit - a.slowUsed, nil
	}
	if a.probe == nil {
		return 0, nil
	}
	avail, err := a.probe()
	if err != nil {
		return 0, errors.Wrap(err, "memtier", "probe", "query host memory")
	}
	return int64(avail), nil
}

func (a *Allocator) exhausted(size int, cause error) error {
	a.logger.Error("memory exhausted in both tiers",
		"requested", size,
		"fast_free", a.fastBudget-a.fastUsed,
		"slow_used", a.slowUsed,
		"cause", cause)
	err := errors.ErrResourceExhausted
	if cause != nil {
		err = fmt.Errorf("%w: %v", errors.ErrResourceExhausted, cause)
	}
	return errors.WrapFatal(err, "memtier", "Allocate", fmt.Sprintf("allocate %d bytes", size))
}
