package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
type Config struct {
	// BufferSize is the queue capacity; events beyond it are dropped.
	BufferSize int
	// MaxBatchEvents flushes once this many events are pending.
	MaxBatchEvents int
	// MaxBatchWait flushes pending events after this long.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
)

// Hub queues events and fans batches out to its sinks. Emit never blocks.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
}

// NewHub starts a hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Emit enqueues evt. Invalid events and events arriving while the queue is
// full are dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
	}
}

// Dropped returns how many events were lost to a full queue.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close flushes pending events, closes the sinks and waits for the background
// goroutine, or for ctx.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stop)
	})
	select {
	case <-h.done:
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
	var firstErr error
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close progress sink: %w", err)
		}
	}
	if n := h.dropped.Load(); n > 0 {
		h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", n))
	}
	return firstErr
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		case <-ticker.C:
			batch = h.flush(batch)
		case <-h.stop:
			for {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
				default:
					h.flush(batch)
					return
				}
			}
		}
	}
}

func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}
