package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaz8081/blelight/internal/ble"
	"github.com/chaz8081/blelight/internal/ble/protocol"
	"github.com/chaz8081/blelight/internal/color"
	"github.com/chaz8081/blelight/internal/events"
)

// PipelineOptions configures the color write pipeline.
type PipelineOptions struct {
	SettleDelay time.Duration // wait after a wake-up before taking the slot
	MaxRate     float64       // max writes per second, 0 for no limit
	Bus         *events.Bus
	Logger      *slog.Logger
}

// Pipeline streams colors to the bound characteristic. It holds at most
// one pending color: Submit overwrites it, and the single worker started
// by Run takes it, so a burst of submissions during a slow write ends in
// exactly one follow-up write of the latest color.
type Pipeline struct {
	settle  time.Duration
	limiter *rate.Limiter
	bus     *events.Bus
	logger  *slog.Logger

	mu         sync.Mutex
	bound      bool
	target     ble.Characteristic // nil when unbound or degraded
	pending    color.Color
	hasPending bool

	wake    chan struct{}
	running atomic.Bool
}

// NewPipeline creates an unbound pipeline. Call Run to start its worker.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Pipeline{
		settle: opts.SettleDelay,
		bus:    opts.Bus,
		logger: opts.Logger,
		wake:   make(chan struct{}, 1),
	}
	if opts.MaxRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.MaxRate), 1)
	}
	return p
}

// Submit replaces the pending color with c and wakes the worker. It never
// blocks. It returns false, dropping c, when no writable characteristic
// is bound.
func (p *Pipeline) Submit(c color.Color) bool {
	p.mu.Lock()
	if p.target == nil {
		bound := p.bound
		p.mu.Unlock()
		p.logger.Debug("[pipeline] dropping color, nothing to write to", "color", c.Hex(), "bound", bound)
		return false
	}
	replaced := p.hasPending
	p.pending = c
	p.hasPending = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	p.bus.Publish(events.ColorSubmittedEvent{Color: c, Replaced: replaced})
	return true
}

// Bind attaches the pipeline to a live characteristic. A nil target
// binds in degraded mode, where submissions are silently dropped.
func (p *Pipeline) Bind(target ble.Characteristic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bound = true
	p.target = target
	p.hasPending = false
	if target == nil {
		p.logger.Warn("[pipeline] bound without a color characteristic, submissions will be ignored")
	}
}

// Unbind detaches the pipeline and discards the pending color.
func (p *Pipeline) Unbind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasPending {
		p.logger.Debug("[pipeline] discarding pending color", "color", p.pending.Hex())
	}
	p.bound = false
	p.target = nil
	p.hasPending = false
}

// Run is the pipeline's only writer. It returns when ctx is done. A
// second concurrent Run returns immediately.
func (p *Pipeline) Run(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Error("[pipeline] worker already running")
		return
	}
	defer p.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		if p.settle > 0 {
			t := time.NewTimer(p.settle)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}

		c, target, ok := p.take()
		if !ok {
			continue
		}
		p.write(target, c)
	}
}

// take empties the slot and returns what was in it.
func (p *Pipeline) take() (color.Color, ble.Characteristic, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasPending || p.target == nil {
		return color.Black, nil, false
	}
	p.hasPending = false
	return p.pending, p.target, true
}

func (p *Pipeline) write(target ble.Characteristic, c color.Color) {
	start := time.Now()
	if err := target.Write(protocol.MarshalColor(c)); err != nil {
		err = ble.WrapFault(err, ble.KindWrite, "write-color", "Color write failed")
		p.logger.Warn("[pipeline] write failed", "color", c.Hex(), "error", err, "kind", ble.KindOf(err))
		p.bus.Publish(events.WriteFailedEvent{Color: c, Error: err.Error()})
		return
	}
	elapsed := time.Since(start)
	p.logger.Debug("[pipeline] color written", "color", c.Hex(), "took", elapsed)
	p.bus.Publish(events.ColorWrittenEvent{Color: c, Duration: elapsed})
}
