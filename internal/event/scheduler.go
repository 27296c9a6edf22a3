// Package event runs the global timed world events: probabilistic spawning
// from templates, collective goal tracking, time-based expiry into a bounded
// history, and the multiplicative reward modifiers active events compose.
package event

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/lumenworld/internal/bus"
	"github.com/talgya/lumenworld/internal/config"
	"github.com/talgya/lumenworld/internal/store"
	"github.com/talgya/lumenworld/internal/world"
)

// ErrNotFound is returned when an operation references an unknown event id.
var ErrNotFound = errors.New("event not found")

// WorldEvent is one active or archived event instance.
type WorldEvent struct {
	ID                 string              `json:"id"`
	Type               string              `json:"type"`
	Realm              string              `json:"realm"`
	StartTime          time.Time           `json:"start_time"`
	EndTime            time.Time           `json:"end_time"`
	Progress           float64             `json:"progress"`
	Counters           map[string]float64  `json:"counters"`
	GoalKey            string              `json:"goal_key,omitempty"`
	GoalTarget         float64             `json:"goal_target,omitempty"`
	GoalReached        bool                `json:"goal_reached"`
	Participants       map[string]struct{} `json:"-"`
	ParticipantIDs     []string            `json:"participants"` // persisted form
	XPMultiplier       float64             `json:"xp_multiplier"`
	StardustMultiplier float64             `json:"stardust_multiplier"`
	CompletionXP       float64             `json:"completion_xp"`
	CompletionStardust float64             `json:"completion_stardust"`
	Ended              bool                `json:"ended"`
}

// Snapshot is the copy-out view of an event.
type Snapshot struct {
	ID                 string             `json:"id"`
	Type               string             `json:"type"`
	Realm              string             `json:"realm"`
	StartTime          time.Time          `json:"start_time"`
	EndTime            time.Time          `json:"end_time"`
	Progress           float64            `json:"progress"`
	Counters           map[string]float64 `json:"counters,omitempty"`
	GoalReached        bool               `json:"goal_reached"`
	ParticipantCount   int                `json:"participant_count"`
	Participants       []string           `json:"participants"`
	XPMultiplier       float64            `json:"xp_multiplier"`
	StardustMultiplier float64            `json:"stardust_multiplier"`
	Ended              bool               `json:"ended"`
}

// RewardSink receives flat completion rewards when an event ends. The
// progression tracker implements it.
type RewardSink interface {
	AwardXP(playerID, realm string, amount float64)
	AwardStardust(playerID, realm string, amount float64)
}

// Scheduler owns the active event set and its history ring.
type Scheduler struct {
	cfg     config.Events
	bus     *bus.Bus
	writer  *store.Writer
	rewards RewardSink

	// rand draws one float in [0,1) per template check. Injected so tests
	// can force or forbid spawns.
	rand func() float64

	mu      sync.Mutex
	active  map[string]*WorldEvent
	history []Snapshot
}

// NewScheduler creates a scheduler. rand must not be nil.
func NewScheduler(cfg config.Events, b *bus.Bus, w *store.Writer, rand func() float64) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 16
	}
	return &Scheduler{
		cfg:    cfg,
		bus:    b,
		writer: w,
		rand:   rand,
		active: make(map[string]*WorldEvent),
	}
}

// SetRewardSink wires the completion reward receiver.
func (s *Scheduler) SetRewardSink(r RewardSink) {
	s.mu.Lock()
	s.rewards = r
	s.mu.Unlock()
}

// Restore seeds still-running events from persisted state at cold start.
// Events whose end time has already passed are dropped into history.
func (s *Scheduler) Restore(events []*WorldEvent, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.Participants = make(map[string]struct{}, len(e.ParticipantIDs))
		for _, pid := range e.ParticipantIDs {
			e.Participants[pid] = struct{}{}
		}
		if e.Counters == nil {
			e.Counters = make(map[string]float64)
		}
		if e.Ended || !now.Before(e.EndTime) {
			e.Ended = true
			s.pushHistoryLocked(snapshotOf(e))
			continue
		}
		s.active[e.ID] = e
	}
}

// ScheduleTick is the hourly spawn pass: while fewer events are active than
// the concurrency cap, every template without a running instance gets an
// independent probability draw.
func (s *Scheduler) ScheduleTick(tick uint64, now time.Time) {
	// One draw per template, taken before the lock. The entropy source may
	// be slow and multiplier lookups must never queue behind it.
	draws := make([]float64, len(s.cfg.Templates))
	for i := range draws {
		draws[i] = s.rand()
	}

	var started []Snapshot

	s.mu.Lock()
	runningTypes := make(map[string]bool, len(s.active))
	for _, e := range s.active {
		runningTypes[e.Type] = true
	}

	for i, tpl := range s.cfg.Templates {
		if len(s.active) >= s.cfg.MaxConcurrent {
			break
		}
		if tpl.Type == "" || tpl.DurationMin <= 0 {
			slog.Warn("skipping malformed event template", "type", tpl.Type, "duration_min", tpl.DurationMin)
			continue
		}
		if runningTypes[tpl.Type] {
			continue
		}
		if draws[i] >= tpl.Probability {
			continue
		}
		e := instantiate(tpl, now)
		s.active[e.ID] = e
		runningTypes[e.Type] = true
		started = append(started, snapshotOf(e))
	}
	s.mu.Unlock()

	for _, snap := range started {
		slog.Info("world event started", "type", snap.Type, "realm", snap.Realm, "ends", snap.EndTime)
		s.bus.Publish(bus.Notification{Type: bus.EventStarted, Realm: snap.Realm, Tick: tick, Payload: snap})
		s.persist(snap.ID)
	}
}

// ExpiryTick is the slow pass: any active event past its end time moves to
// history and emits event_ended.
func (s *Scheduler) ExpiryTick(tick uint64, now time.Time) {
	type ended struct {
		snap    Snapshot
		rewards []string
		xp      float64
		dust    float64
	}
	var done []ended

	s.mu.Lock()
	rewards := s.rewards
	for id, e := range s.active {
		if now.Before(e.EndTime) {
			continue
		}
		e.Ended = true
		snap := snapshotOf(e)
		s.pushHistoryLocked(snap)
		delete(s.active, id)

		d := ended{snap: snap}
		if e.GoalReached && (e.CompletionXP > 0 || e.CompletionStardust > 0) {
			d.xp = e.CompletionXP
			d.dust = e.CompletionStardust
			d.rewards = snap.Participants
		}
		done = append(done, d)
	}
	s.mu.Unlock()

	for _, d := range done {
		slog.Info("world event ended", "type", d.snap.Type, "goal_reached", d.snap.GoalReached,
			"participants", d.snap.ParticipantCount)
		s.bus.Publish(bus.Notification{Type: bus.EventEnded, Realm: d.snap.Realm, Tick: tick, Payload: d.snap})
		if rewards != nil {
			for _, pid := range d.rewards {
				if d.xp > 0 {
					rewards.AwardXP(pid, d.snap.Realm, d.xp)
				}
				if d.dust > 0 {
					rewards.AwardStardust(pid, d.snap.Realm, d.dust)
				}
			}
		}
		if s.writer != nil {
			s.writer.EnqueueDelete(store.KindEvent, d.snap.ID)
		}
	}
}

// UpdateProgress increments a named counter in the event's data. When the
// counter matches the goal key, progress is recomputed (monotonic); reaching
// 100 emits event_goal_reached once. Goal completion does not end the event.
func (s *Scheduler) UpdateProgress(eventID, key string, delta float64) (Snapshot, error) {
	if key == "" {
		return Snapshot{}, fmt.Errorf("empty progress key")
	}

	var goalNote *Snapshot

	s.mu.Lock()
	e, ok := s.active[eventID]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, ErrNotFound
	}
	e.Counters[key] += delta
	if key == e.GoalKey && e.GoalTarget > 0 {
		p := world.Clamp(e.Counters[key]/e.GoalTarget*100, 0, 100)
		if p > e.Progress {
			e.Progress = p
		}
		if e.Progress >= 100 && !e.GoalReached {
			e.GoalReached = true
			snap := snapshotOf(e)
			goalNote = &snap
		}
	}
	snap := snapshotOf(e)
	s.mu.Unlock()

	if goalNote != nil {
		slog.Info("world event goal reached", "type", goalNote.Type, "id", goalNote.ID)
		s.bus.Publish(bus.Notification{Type: bus.EventGoalReached, Realm: goalNote.Realm, Payload: *goalNote})
	}
	s.persist(eventID)
	return snap, nil
}

// Join records a player as an event participant.
func (s *Scheduler) Join(eventID, playerID string) error {
	s.mu.Lock()
	e, ok := s.active[eventID]
	if ok {
		e.Participants[playerID] = struct{}{}
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.persist(eventID)
	return nil
}

// XPMultiplier returns the product of every active realm-matching event's
// XP bonus. No active events means 1.0.
func (s *Scheduler) XPMultiplier(realm string) float64 {
	return s.multiplier(realm, func(e *WorldEvent) float64 { return e.XPMultiplier })
}

// StardustMultiplier is the currency counterpart of XPMultiplier.
func (s *Scheduler) StardustMultiplier(realm string) float64 {
	return s.multiplier(realm, func(e *WorldEvent) float64 { return e.StardustMultiplier })
}

func (s *Scheduler) multiplier(realm string, pick func(*WorldEvent) float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := 1.0
	for _, e := range s.active {
		if !realmMatches(e.Realm, realm) {
			continue
		}
		if v := pick(e); v > 0 {
			m *= v
		}
	}
	return m
}

// ActiveEvents returns snapshots of active events visible from the realm.
func (s *Scheduler) ActiveEvents(realm string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]Snapshot, 0, len(s.active))
	for _, e := range s.active {
		if realmMatches(e.Realm, realm) {
			snaps = append(snaps, snapshotOf(e))
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].StartTime.Before(snaps[j].StartTime) })
	return snaps
}

// History returns the archived events, most recent last.
func (s *Scheduler) History() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.history))
	copy(out, s.history)
	return out
}

// ActiveCount returns the number of active events.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// FlushAll enqueues every active event for persistence.
func (s *Scheduler) FlushAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.persist(id)
	}
}

func (s *Scheduler) pushHistoryLocked(snap Snapshot) {
	s.history = append(s.history, snap)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
}

func (s *Scheduler) persist(id string) {
	if s.writer == nil {
		return
	}
	s.mu.Lock()
	e, ok := s.active[id]
	var cp WorldEvent
	if ok {
		cp = *e
		cp.Counters = make(map[string]float64, len(e.Counters))
		for k, v := range e.Counters {
			cp.Counters[k] = v
		}
		cp.ParticipantIDs = participantIDs(e)
		cp.Participants = nil
	}
	s.mu.Unlock()
	if ok {
		s.writer.Enqueue(store.KindEvent, id, &cp)
	}
}

func instantiate(tpl config.EventTemplate, now time.Time) *WorldEvent {
	xp := tpl.XPMultiplier
	if xp <= 0 {
		xp = 1.0
	}
	dust := tpl.StardustMultiplier
	if dust <= 0 {
		dust = 1.0
	}
	realm := tpl.Realm
	if realm == "" {
		realm = world.RealmAll
	}
	return &WorldEvent{
		ID:                 uuid.NewString(),
		Type:               tpl.Type,
		Realm:              realm,
		StartTime:          now,
		EndTime:            now.Add(time.Duration(tpl.DurationMin) * time.Minute),
		Counters:           make(map[string]float64),
		GoalKey:            tpl.GoalKey,
		GoalTarget:         tpl.GoalTarget,
		Participants:       make(map[string]struct{}),
		XPMultiplier:       xp,
		StardustMultiplier: dust,
		CompletionXP:       tpl.CompletionXP,
		CompletionStardust: tpl.CompletionStardust,
	}
}

func realmMatches(eventRealm, realm string) bool {
	return eventRealm == world.RealmAll || realm == world.RealmAll || eventRealm == realm
}

func participantIDs(e *WorldEvent) []string {
	ids := make([]string, 0, len(e.Participants))
	for pid := range e.Participants {
		ids = append(ids, pid)
	}
	sort.Strings(ids)
	return ids
}

func snapshotOf(e *WorldEvent) Snapshot {
	counters := make(map[string]float64, len(e.Counters))
	for k, v := range e.Counters {
		counters[k] = v
	}
	return Snapshot{
		ID:                 e.ID,
		Type:               e.Type,
		Realm:              e.Realm,
		StartTime:          e.StartTime,
		EndTime:            e.EndTime,
		Progress:           e.Progress,
		Counters:           counters,
		GoalReached:        e.GoalReached,
		ParticipantCount:   len(e.Participants),
		Participants:       participantIDs(e),
		XPMultiplier:       e.XPMultiplier,
		StardustMultiplier: e.StardustMultiplier,
		Ended:              e.Ended,
	}
}
