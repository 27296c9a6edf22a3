package entropy

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNilClientFallsBackToCrypto(t *testing.T) {
	var c *Client
	for i := 0; i < 100; i++ {
		v := c.Float()
		if v < 0 || v >= 1 {
			t.Fatalf("draw %d = %v, want [0, 1)", i, v)
		}
	}
}

func TestFloatNeverWaitsOnRefill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"result":{"random":{"data":[0.125,0.125,0.125]}}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key")
	c.endpoint = srv.URL

	start := time.Now()
	v := c.Float()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Float blocked %v on an empty pool", elapsed)
	}
	if v < 0 || v >= 1 {
		t.Fatalf("fallback draw = %v, want [0, 1)", v)
	}

	// The background refill lands eventually and draws switch to the pool.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Float() == 0.125 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pool never refilled from the server batch")
}

func TestRefillFailureBacksOff(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"error":{"message":"key exhausted"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key")
	c.endpoint = srv.URL

	c.Float()
	deadline := time.Now().Add(2 * time.Second)
	for requests.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if requests.Load() != 1 {
		t.Fatalf("refill requests = %d, want 1", requests.Load())
	}

	// Failure arms the retry delay; further draws stay off the network.
	for i := 0; i < 50; i++ {
		c.Float()
	}
	time.Sleep(50 * time.Millisecond)
	if got := requests.Load(); got != 1 {
		t.Fatalf("refill requests after failure = %d, want 1", got)
	}
}
