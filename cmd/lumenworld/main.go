// Command lumenworld runs the realtime world-state simulation engine: the
// tick-driven subsystems behind the shared social/exploration world.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/talgya/lumenworld/internal/api"
	"github.com/talgya/lumenworld/internal/beacon"
	"github.com/talgya/lumenworld/internal/bus"
	"github.com/talgya/lumenworld/internal/config"
	"github.com/talgya/lumenworld/internal/engine"
	"github.com/talgya/lumenworld/internal/entropy"
	"github.com/talgya/lumenworld/internal/event"
	"github.com/talgya/lumenworld/internal/guardian"
	"github.com/talgya/lumenworld/internal/progress"
	"github.com/talgya/lumenworld/internal/store"
	"github.com/talgya/lumenworld/internal/warmth"
	"github.com/talgya/lumenworld/internal/weather"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Lumenworld — shared world simulation engine")

	cfg, err := config.Load("configs/world.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// ── Persistence ───────────────────────────────────────────────────
	// The simulation is authoritative in memory; a missing database means
	// we run without durability, not that we stop.
	var gw store.Gateway
	os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755)
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		slog.Warn("database unavailable, running in-memory only", "error", err)
	} else {
		gw = db
		defer db.Close()
		slog.Info("database opened", "path", cfg.Store.Path)
	}
	writer := store.NewWriter(gw, cfg.Store.QueueSize, cfg.Store.MaxRetries)

	// ── Components ────────────────────────────────────────────────────
	notifications := bus.New()
	entropySrc := entropy.NewClient(os.Getenv("RANDOM_ORG_KEY"))

	beacons := beacon.NewRegistry(cfg.Beacons, notifications, writer)
	warmthSim := warmth.NewSimulator(cfg.Warmth, notifications, writer)
	events := event.NewScheduler(cfg.Events, notifications, writer,
		func() float64 { return entropy.FloatFrom(entropySrc) })
	tracker := progress.NewTracker(cfg.Progression, notifications, writer, events)
	events.SetRewardSink(tracker)
	guardians := guardian.NewDirector(cfg.Guardians, writer, warmthSim, "genesis", time.Now().UnixNano())

	restore(gw, beacons, warmthSim, events, guardians, tracker)

	// ── Weather (optional) ────────────────────────────────────────────
	if wc := weather.NewClient(os.Getenv("OPENWEATHER_API_KEY"), os.Getenv("OPENWEATHER_LOCATION")); wc != nil {
		slog.Info("weather modifiers enabled")
		go pollWeather(wc, warmthSim)
	}

	// ── Ticker ────────────────────────────────────────────────────────
	fastDt := float64(cfg.Ticks.FastMs) / 1000
	slowDt := float64(cfg.Ticks.SlowMs) / 1000

	ticker := engine.NewTicker(cfg.Ticks.Fast())
	ticker.Register(engine.Task{Name: "guardians", Every: 1, Fn: func(tick uint64, _ time.Time) {
		guardians.Tick(tick, fastDt)
	}})
	ticker.Register(engine.Task{Name: "beacon_decay", Every: cfg.Ticks.SlowEvery(), Fn: func(tick uint64, _ time.Time) {
		beacons.DecayTick(tick, slowDt)
	}})
	ticker.Register(engine.Task{Name: "warmth", Every: cfg.Ticks.SlowEvery(), Fn: func(tick uint64, _ time.Time) {
		warmthSim.Tick(tick, slowDt)
	}})
	ticker.Register(engine.Task{Name: "event_expiry", Every: cfg.Ticks.SlowEvery(), Fn: func(tick uint64, now time.Time) {
		events.ExpiryTick(tick, now)
	}})
	ticker.Register(engine.Task{Name: "event_spawn", Every: cfg.Ticks.ScheduleEvery(), Fn: func(tick uint64, now time.Time) {
		events.ScheduleTick(tick, now)
	}})

	// ── HTTP API ──────────────────────────────────────────────────────
	apiServer := &api.Server{
		Ticker:    ticker,
		Bus:       notifications,
		Beacons:   beacons,
		Warmth:    warmthSim,
		Events:    events,
		Guardians: guardians,
		Progress:  tracker,
		Port:      cfg.API.Port,
		AdminKey:  os.Getenv("LUMENWORLD_ADMIN_KEY"),
	}
	apiServer.Start()

	// ── Run ───────────────────────────────────────────────────────────
	ticker.Run()
	fmt.Printf("Lumenworld is alive on :%d — Ctrl+C to stop.\n", cfg.API.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	// Stop the timers first, then flush every dirty entity, bounded by the
	// configured timeout. Partial flush is acceptable.
	ticker.Stop()
	beacons.FlushAll()
	warmthSim.FlushAll()
	events.FlushAll()
	guardians.FlushAll()
	tracker.FlushAll()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Store.FlushTimeout)*time.Second)
	defer cancel()
	writer.Drain(ctx)
	notifications.Close()

	fmt.Println("Simulation stopped. World state flushed.")
}

// restore seeds each registry from the persistence gateway. Load failures
// are logged, not fatal; a corrupt record is skipped.
func restore(gw store.Gateway, beacons *beacon.Registry, warmthSim *warmth.Simulator,
	events *event.Scheduler, guardians *guardian.Director, tracker *progress.Tracker) {
	if gw == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	loadInto(ctx, gw, store.KindBeacon, func(all []*beacon.Beacon) { beacons.Restore(all) })
	loadInto(ctx, gw, store.KindWarmth, func(all []*warmth.State) { warmthSim.Restore(all) })
	loadInto(ctx, gw, store.KindEvent, func(all []*event.WorldEvent) { events.Restore(all, time.Now()) })
	loadInto(ctx, gw, store.KindGuardian, func(all []*guardian.Bot) { guardians.Restore(all) })
	loadInto(ctx, gw, store.KindProgress, func(all []*progress.PlayerProgress) { tracker.Restore(all) })
}

// loadInto decodes every record of one kind and hands the batch to the
// registry's Restore.
func loadInto[T any](ctx context.Context, gw store.Gateway, kind store.Kind, restore func([]*T)) {
	recs, err := gw.LoadAll(ctx, kind)
	if err != nil {
		slog.Warn("cold-start load failed", "kind", kind, "error", err)
		return
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v := new(T)
		if err := json.Unmarshal(rec.Snapshot, v); err != nil {
			slog.Warn("skipping corrupt record", "kind", kind, "id", rec.ID, "error", err)
			continue
		}
		out = append(out, v)
	}
	restore(out)
	if len(out) > 0 {
		slog.Info("state restored", "kind", kind, "count", len(out))
	}
}

// pollWeather refreshes the ambient weather modifier off the tick path.
func pollWeather(wc *weather.Client, sim *warmth.Simulator) {
	for {
		conditions, err := wc.Fetch()
		if err != nil {
			slog.Debug("weather fetch failed", "error", err)
		} else {
			sim.SetWeather(weather.MapToModifier(conditions))
		}
		time.Sleep(5 * time.Minute)
	}
}
