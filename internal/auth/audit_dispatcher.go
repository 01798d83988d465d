package auth

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples request handling from sink latency. Events are
// queued on a buffered channel and delivered by one consumer goroutine; the
// queue is closed on shutdown and the consumer drains it by ranging to the
// end. A nil dispatcher (audit disabled) is valid and drops everything.
type auditDispatcher struct {
	sink  AuditSink
	queue chan AuditEvent
	// block makes Emit wait for buffer space instead of shedding. Off by
	// default; login paths should never stall on a slow sink.
	block bool

	mu     sync.RWMutex
	closed bool

	consumed sync.WaitGroup
	shed     atomic.Uint64
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	depth := cfg.BufferSize
	if depth < 1 {
		depth = 1
	}

	d := &auditDispatcher{
		sink:  sink,
		queue: make(chan AuditEvent, depth),
		block: !cfg.DropIfFull,
	}
	d.consumed.Add(1)
	go d.consume()
	return d
}

func (d *auditDispatcher) consume() {
	defer d.consumed.Done()
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues one event. Holding the read lock across the send lets Close
// wait out in-flight emits before closing the queue.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.block {
		if ctx == nil {
			d.queue <- event
			return
		}
		select {
		case d.queue <- event:
		case <-ctx.Done():
			d.shed.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	default:
		d.shed.Add(1)
	}
}

// Close seals the queue and blocks until the consumer has delivered every
// event queued before the call. Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.consumed.Wait()
}

// Dropped reports how many events were shed because the buffer was full or
// the caller's context expired first.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.shed.Load()
}
