// Package engine provides the tick loop that drives every simulation
// subsystem. One goroutine steps a monotonic counter at the fast interval;
// slower layers fire on modulo boundaries, so within a process no two tick
// handlers ever overlap.
package engine

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Clock abstracts time so tests can step ticks synchronously instead of
// sleeping on wall-clock timers.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock is the production clock.
type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// Task is one named periodic handler. Every multiple of Every fast ticks the
// handler runs with the current tick counter and wall time.
type Task struct {
	Name  string
	Every uint64
	Fn    func(tick uint64, now time.Time)
}

// Ticker owns the named periodic tasks and their lifecycle.
type Ticker struct {
	Interval time.Duration
	Clock    Clock

	mu      sync.Mutex
	tick    uint64
	tasks   []Task
	paused  bool
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewTicker creates a ticker stepping at the given base interval.
func NewTicker(interval time.Duration) *Ticker {
	return &Ticker{
		Interval: interval,
		Clock:    RealClock{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds a task. Every must be at least 1 (in fast ticks). Tasks
// registered after Run has started are picked up on the next tick.
func (t *Ticker) Register(task Task) {
	if task.Every == 0 {
		task.Every = 1
	}
	t.mu.Lock()
	t.tasks = append(t.tasks, task)
	t.mu.Unlock()
}

// SetPaused pauses or resumes tick processing. The loop keeps running but
// skips task execution, so resume is instant.
func (t *Ticker) SetPaused(p bool) {
	t.mu.Lock()
	t.paused = p
	t.mu.Unlock()
	slog.Info("ticker pause state", "paused", p)
}

// Paused reports whether the ticker is currently paused.
func (t *Ticker) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Tick returns the current tick counter.
func (t *Ticker) Tick() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tick
}

// Run starts the loop in its own goroutine. Call Stop to halt it.
func (t *Ticker) Run() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	slog.Info("ticker started", "interval", t.Interval)
	go func() {
		defer close(t.done)
		for {
			select {
			case <-t.stop:
				slog.Info("ticker stopped", "tick", t.Tick())
				return
			default:
			}

			start := t.Clock.Now()
			t.Step()

			elapsed := t.Clock.Now().Sub(start)
			if elapsed < t.Interval {
				t.Clock.Sleep(t.Interval - elapsed)
			}
		}
	}()
}

// Step advances exactly one fast tick, running every due task. Exposed so
// tests drive the simulation deterministically.
func (t *Ticker) Step() {
	t.mu.Lock()
	if t.paused {
		t.mu.Unlock()
		return
	}
	t.tick++
	tick := t.tick
	tasks := make([]Task, len(t.tasks))
	copy(tasks, t.tasks)
	t.mu.Unlock()

	now := t.Clock.Now()
	for _, task := range tasks {
		if tick%task.Every != 0 {
			continue
		}
		runTask(task, tick, now)
	}
}

// runTask isolates a panicking handler: the offending task is logged and
// skipped, the loop continues.
func runTask(task Task, tick uint64, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tick task panicked",
				"task", task.Name,
				"tick", tick,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task.Fn(tick, now)
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}
