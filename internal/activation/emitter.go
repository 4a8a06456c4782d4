package activation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oriphim/watcher/internal/logging"
	"github.com/oriphim/watcher/internal/redact"
)

const (
	defaultQueueSize       = 1000
	defaultShutdownTimeout = 2 * time.Second
)

// Sink consumes verdict events (stdout, file, webhook).
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// Metrics is a point-in-time copy of emitter counters.
type Metrics struct {
	enqueued uint64
	dropped  uint64
	success  map[string]uint64
	failure  map[string]uint64
}

func (m Metrics) Enqueued() uint64 { return m.enqueued }
func (m Metrics) Dropped() uint64  { return m.dropped }

func (m Metrics) SinkSuccess(name string) uint64 { return m.success[name] }
func (m Metrics) SinkFailure(name string) uint64 { return m.failure[name] }

type sinkCounters struct {
	ok   atomic.Uint64
	fail atomic.Uint64
}

// EmitterConfig controls worker and queue sizing.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// Emitter fans verdict events out to sinks from a bounded queue. Emit never
// blocks the validation path: a full queue drops the event and counts it.
type Emitter struct {
	sinks    []Sink
	counters map[string]*sinkCounters
	logger   *zap.Logger
	grace    time.Duration

	enqueued atomic.Uint64
	dropped  atomic.Uint64

	// mu guards queue against a send racing close.
	mu     sync.RWMutex
	queue  chan *Event
	closed bool

	// cancel aborts in-flight deliveries once the shutdown grace expires.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEmitter starts cfg.Workers delivery goroutines over sinks.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	workers := max(cfg.Workers, 1)
	grace := cfg.ShutdownTimeout
	if grace <= 0 {
		grace = defaultShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Emitter{
		sinks:    sinks,
		counters: make(map[string]*sinkCounters, len(sinks)),
		logger:   logging.OrNop(cfg.Logger).Named("activation"),
		grace:    grace,
		queue:    make(chan *Event, size),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, s := range sinks {
		e.counters[s.Name()] = &sinkCounters{}
	}

	e.wg.Add(workers)
	for range workers {
		go func() {
			defer e.wg.Done()
			for ev := range e.queue {
				e.fanOut(ev)
			}
		}()
	}
	return e
}

// Emit queues ev for delivery. It is a no-op on a nil emitter.
func (e *Emitter) Emit(_ context.Context, ev *Event) {
	if e == nil || ev == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- ev:
		e.enqueued.Add(1)
	default:
		e.dropped.Add(1)
		e.logger.Debug("activation queue full, event dropped", zap.String("request_id", ev.RequestID))
	}
}

// Close stops intake, drains what is queued within the shutdown grace (or
// until ctx ends), then closes every sink. Safe to call more than once.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, stop := context.WithTimeout(ctx, e.grace)
	defer stop()

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-waitCtx.Done():
		e.logger.Warn("activation drain incomplete", zap.Int("pending", len(e.queue)))
	}
	e.cancel()

	for _, s := range e.sinks {
		if err := s.Close(waitCtx); err != nil {
			e.logger.Warn("sink close failed", redact.Field("sink", s.Name()), redact.Error(err))
		}
	}
}

// MetricsSnapshot copies the current counters.
func (e *Emitter) MetricsSnapshot() Metrics {
	if e == nil {
		return Metrics{}
	}
	m := Metrics{
		enqueued: e.enqueued.Load(),
		dropped:  e.dropped.Load(),
		success:  make(map[string]uint64, len(e.counters)),
		failure:  make(map[string]uint64, len(e.counters)),
	}
	for name, c := range e.counters {
		m.success[name] = c.ok.Load()
		m.failure[name] = c.fail.Load()
	}
	return m
}

func (e *Emitter) fanOut(ev *Event) {
	if e.ctx.Err() != nil {
		e.dropped.Add(1)
		return
	}
	for _, s := range e.sinks {
		c := e.counters[s.Name()]
		err := s.Deliver(e.ctx, ev)
		if err == nil {
			c.ok.Add(1)
			continue
		}
		c.fail.Add(1)
		e.logger.Warn("sink delivery failed",
			redact.Field("sink", s.Name()),
			zap.String("request_id", ev.RequestID),
			redact.Error(err))
	}
}
