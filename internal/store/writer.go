package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// write is one queued upsert or delete.
type write struct {
	kind   Kind
	id     string
	snap   []byte
	delete bool
}

// Writer is the write-behind queue between the simulation and a Gateway.
// Enqueue never blocks a tick: a full queue sheds the oldest semantics by
// dropping the new write and counting it. A single goroutine drains the
// queue with bounded retry; Drain flushes everything still queued at
// shutdown, bounded by the caller's context.
type Writer struct {
	gw         Gateway
	queue      chan write
	maxRetries int

	mu      sync.Mutex
	dropped uint64
	failed  uint64

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewWriter starts the drain goroutine. gw may be nil, in which case every
// write is a no-op and the simulation runs purely in memory.
func NewWriter(gw Gateway, queueSize, maxRetries int) *Writer {
	if queueSize < 1 {
		queueSize = 256
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	w := &Writer{
		gw:         gw,
		queue:      make(chan write, queueSize),
		maxRetries: maxRetries,
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.drainLoop()
	return w
}

// Enqueue queues an entity snapshot for upsert. The snapshot value is
// marshalled here so the caller can hand over a copy-out struct and move on.
func (w *Writer) Enqueue(kind Kind, id string, v any) {
	if w.gw == nil {
		return
	}
	snap, err := json.Marshal(v)
	if err != nil {
		slog.Error("snapshot marshal failed", "kind", kind, "id", id, "error", err)
		return
	}
	w.push(write{kind: kind, id: id, snap: snap})
}

// EnqueueDelete queues an entity removal.
func (w *Writer) EnqueueDelete(kind Kind, id string) {
	if w.gw == nil {
		return
	}
	w.push(write{kind: kind, id: id, delete: true})
}

func (w *Writer) push(wr write) {
	select {
	case <-w.stopped:
		return
	default:
	}
	select {
	case w.queue <- wr:
	default:
		w.mu.Lock()
		w.dropped++
		n := w.dropped
		w.mu.Unlock()
		if n%100 == 1 {
			slog.Warn("write-behind queue full, dropping", "kind", wr.kind, "total_dropped", n)
		}
	}
}

func (w *Writer) drainLoop() {
	defer close(w.done)
	for {
		select {
		case wr := <-w.queue:
			w.apply(context.Background(), wr)
		case <-w.stopped:
			return
		}
	}
}

// apply performs one write with bounded retry and backoff. Failure is
// logged and swallowed; the in-memory state stays authoritative.
func (w *Writer) apply(ctx context.Context, wr write) {
	var err error
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		if wr.delete {
			err = w.gw.Delete(ctx, wr.kind, wr.id)
		} else {
			err = w.gw.Upsert(ctx, wr.kind, wr.id, wr.snap)
		}
		if err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	w.mu.Lock()
	w.failed++
	w.mu.Unlock()
	slog.Error("persistence write failed", "kind", wr.kind, "id", wr.id, "error", err)
}

// Drain stops accepting new writes, flushes the queue, and returns. Partial
// flush on context expiry is acceptable; the remainder is counted.
func (w *Writer) Drain(ctx context.Context) {
	w.stopOnce.Do(func() { close(w.stopped) })
	<-w.done

	if w.gw == nil {
		return
	}
	flushed := 0
	for {
		select {
		case wr := <-w.queue:
			w.apply(ctx, wr)
			flushed++
		case <-ctx.Done():
			slog.Warn("drain timed out", "flushed", flushed, "remaining", len(w.queue))
			return
		default:
			slog.Info("write-behind drained", "flushed", flushed)
			return
		}
	}
}

// Stats reports shed and failed write counts.
func (w *Writer) Stats() (dropped, failed uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped, w.failed
}
