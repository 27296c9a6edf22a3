package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeGateway records applied writes and can be told to fail.
type fakeGateway struct {
	mu       sync.Mutex
	upserts  map[string][]byte // "kind/id" -> snapshot
	deletes  []string
	failures int // fail this many calls before succeeding
	calls    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{upserts: make(map[string][]byte)}
}

func (g *fakeGateway) LoadAll(ctx context.Context, kind Kind) ([]Record, error) { return nil, nil }

func (g *fakeGateway) Upsert(ctx context.Context, kind Kind, id string, snapshot []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failures > 0 {
		g.failures--
		return errors.New("transient failure")
	}
	g.upserts[string(kind)+"/"+id] = snapshot
	return nil
}

func (g *fakeGateway) Delete(ctx context.Context, kind Kind, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.deletes = append(g.deletes, string(kind)+"/"+id)
	return nil
}

func (g *fakeGateway) Close() error { return nil }

func (g *fakeGateway) snapshot(key string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.upserts[key]
	return b, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held")
}

func TestEnqueueAppliesAsynchronously(t *testing.T) {
	gw := newFakeGateway()
	w := NewWriter(gw, 16, 1)
	defer w.Drain(context.Background())

	w.Enqueue(KindBeacon, "b1", map[string]int{"charge": 50})
	waitFor(t, func() bool {
		_, ok := gw.snapshot("beacon/b1")
		return ok
	})

	snap, _ := gw.snapshot("beacon/b1")
	var decoded map[string]int
	if err := json.Unmarshal(snap, &decoded); err != nil {
		t.Fatalf("stored snapshot not valid json: %v", err)
	}
	if decoded["charge"] != 50 {
		t.Fatalf("stored snapshot = %v", decoded)
	}
}

func TestEnqueueDeleteReachesGateway(t *testing.T) {
	gw := newFakeGateway()
	w := NewWriter(gw, 16, 1)
	w.EnqueueDelete(KindGuardian, "g1")
	w.Drain(context.Background())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.deletes) != 1 || gw.deletes[0] != "guardian/g1" {
		t.Fatalf("deletes = %v", gw.deletes)
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.failures = 2
	w := NewWriter(gw, 16, 3)
	defer w.Drain(context.Background())

	w.Enqueue(KindEvent, "e1", "payload")
	waitFor(t, func() bool {
		_, ok := gw.snapshot("event/e1")
		return ok
	})
	if _, failed := w.Stats(); failed != 0 {
		t.Fatalf("failed = %d, want 0 after successful retry", failed)
	}
}

func TestExhaustedRetriesCountAsFailed(t *testing.T) {
	gw := newFakeGateway()
	gw.failures = 10
	w := NewWriter(gw, 16, 2)
	w.Enqueue(KindEvent, "e1", "payload")
	w.Drain(context.Background())

	if _, failed := w.Stats(); failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	if _, ok := gw.snapshot("event/e1"); ok {
		t.Fatalf("write applied despite exhausted retries")
	}
}

func TestDrainFlushesQueuedWrites(t *testing.T) {
	gw := newFakeGateway()
	w := NewWriter(gw, 64, 1)
	for i := 0; i < 20; i++ {
		w.Enqueue(KindWarmth, string(rune('a'+i)), i)
	}
	w.Drain(context.Background())

	gw.mu.Lock()
	applied := len(gw.upserts)
	gw.mu.Unlock()
	if applied != 20 {
		t.Fatalf("applied = %d writes after drain, want 20", applied)
	}

	// Enqueue after drain is a silent no-op.
	w.Enqueue(KindWarmth, "late", 1)
	if dropped, _ := w.Stats(); dropped != 0 {
		t.Fatalf("post-drain enqueue counted as drop")
	}
}

func TestNilGatewayIsInert(t *testing.T) {
	w := NewWriter(nil, 4, 1)
	w.Enqueue(KindBeacon, "b1", struct{}{})
	w.EnqueueDelete(KindBeacon, "b1")
	w.Drain(context.Background())
	dropped, failed := w.Stats()
	if dropped != 0 || failed != 0 {
		t.Fatalf("stats = %d/%d, want zeroes", dropped, failed)
	}
}

func TestUnmarshallableSnapshotIsDroppedAtEnqueue(t *testing.T) {
	gw := newFakeGateway()
	w := NewWriter(gw, 4, 1)
	w.Enqueue(KindBeacon, "b1", make(chan int)) // json.Marshal rejects channels
	w.Drain(context.Background())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.calls != 0 {
		t.Fatalf("gateway called for an unmarshallable snapshot")
	}
}
