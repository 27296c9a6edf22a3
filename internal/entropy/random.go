// Package entropy supplies the random draws behind world-event spawning.
// When a random.org API key is configured the draws come from a pooled
// true-randomness client; otherwise crypto/rand serves as the fallback.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	rpcEndpoint = "https://api.random.org/json-rpc/4/invoke"
	batchSize   = 100
	lowWater    = 10
	retryDelay  = time.Minute
)

// Client draws decimal fractions from random.org in batches and hands them
// out one at a time. The pool refills on a background goroutine; a draw
// never waits on the network and degrades silently to crypto/rand when the
// pool runs dry.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client

	mu          sync.Mutex
	pool        []float64
	refilling   bool
	nextAttempt time.Time
}

// NewClient creates a random.org client, or nil when no key is configured.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: rpcEndpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Float returns one draw in [0, 1). Safe on a nil receiver. A low pool kicks
// off an asynchronous refill; the call itself only ever touches the pool or
// the crypto fallback.
func (c *Client) Float() float64 {
	if c == nil {
		return cryptoFloat()
	}

	c.mu.Lock()
	if len(c.pool) < lowWater && !c.refilling && time.Now().After(c.nextAttempt) {
		c.refilling = true
		go c.refill()
	}
	if len(c.pool) == 0 {
		c.mu.Unlock()
		return cryptoFloat()
	}
	v := c.pool[0]
	c.pool = c.pool[1:]
	c.mu.Unlock()
	return v
}

func (c *Client) refill() {
	batch, err := c.fetchBatch()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refilling = false
	if err != nil {
		slog.Debug("random.org refill failed", "error", err)
		c.nextAttempt = time.Now().Add(retryDelay)
		return
	}
	c.pool = append(c.pool, batch...)
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int       `json:"id"`
}

type rpcParams struct {
	APIKey        string `json:"apiKey"`
	N             int    `json:"n"`
	DecimalPlaces int    `json:"decimalPlaces"`
}

type rpcResponse struct {
	Result struct {
		Random struct {
			Data []float64 `json:"data"`
		} `json:"random"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) fetchBatch() ([]float64, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "generateDecimalFractions",
		Params:  rpcParams{APIKey: c.apiKey, N: batchSize, DecimalPlaces: 6},
		ID:      1,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("random.org: %s", parsed.Error.Message)
	}
	slog.Debug("random.org pool refilled", "count", len(parsed.Result.Random.Data))
	return parsed.Result.Random.Data, nil
}

// cryptoFloat generates a uniform float64 in [0, 1) from crypto/rand.
func cryptoFloat() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Should never happen; 0.5 is the safe middle.
		return 0.5
	}
	// Use only 53 bits for an exactly uniform mantissa.
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

// FloatFrom adapts a possibly-nil client into the draw function the event
// scheduler takes.
func FloatFrom(c *Client) float64 {
	return c.Float()
}
