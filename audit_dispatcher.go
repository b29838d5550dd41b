package authcore

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher moves audit events off the request path onto a single
// worker goroutine. When DropIfFull is set a full queue drops the event and
// bumps the drop counter rather than blocking the caller.
type auditDispatcher struct {
	sink       AuditSink
	dropIfFull bool

	queue    chan AuditEvent
	stopping chan struct{}
	finished chan struct{}

	mu       sync.RWMutex
	stopped  bool
	inflight sync.WaitGroup
	stopOnce sync.Once

	drops atomic.Uint64
}

// newAuditDispatcher returns nil when auditing is disabled; every method is
// safe on a nil receiver.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}

	d := &auditDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan AuditEvent, size),
		stopping:   make(chan struct{}),
		finished:   make(chan struct{}),
	}
	go d.work()
	return d
}

// work exits once the queue is closed and empty.
func (d *auditDispatcher) work() {
	defer close(d.finished)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit enqueues event. Events sent after Close are ignored.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || !d.enter() {
		return
	}
	defer d.inflight.Done()

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.drops.Add(1)
		}
		return
	}

	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}
	select {
	case d.queue <- event:
	case <-cancelled:
	case <-d.stopping:
	}
}

// enter registers an in-flight send unless the dispatcher is stopping.
func (d *auditDispatcher) enter() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	d.inflight.Add(1)
	return true
}

// Close stops intake, waits for pending sends, then flushes the queue to the
// sink before returning.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()

		close(d.stopping)
		d.inflight.Wait()
		close(d.queue)
		<-d.finished
	})
}

// Dropped counts events discarded because the queue was full.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.drops.Load()
}
