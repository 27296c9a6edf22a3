package event

import (
	"testing"
	"time"

	"github.com/talgya/lumenworld/internal/bus"
	"github.com/talgya/lumenworld/internal/config"
)

func always() float64 { return 0.0 }
func never() float64  { return 0.999999 }

func testScheduler(cfg config.Events, rand func() float64) (*Scheduler, *bus.Bus) {
	b := bus.New()
	return NewScheduler(cfg, b, nil, rand), b
}

func drain(ch <-chan bus.Notification) []bus.Notification {
	var out []bus.Notification
	for {
		select {
		case n := <-ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

type recordingSink struct {
	xp   map[string]float64
	dust map[string]float64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{xp: make(map[string]float64), dust: make(map[string]float64)}
}

func (r *recordingSink) AwardXP(playerID, realm string, amount float64) { r.xp[playerID] += amount }
func (r *recordingSink) AwardStardust(playerID, realm string, amount float64) {
	r.dust[playerID] += amount
}

func TestScheduleSpawnsWhenDrawSucceeds(t *testing.T) {
	cfg := config.Events{
		Templates: []config.EventTemplate{
			{Type: "meteor_shower", Realm: "all", Probability: 1.0, DurationMin: 30, XPMultiplier: 1.5},
		},
		MaxConcurrent: 2,
	}
	s, nb := testScheduler(cfg, always)
	ch, cancel := nb.Subscribe(bus.EventStarted, 8)
	defer cancel()

	s.ScheduleTick(1, time.Now())
	if got := s.ActiveCount(); got != 1 {
		t.Fatalf("active count = %d, want 1", got)
	}
	notes := drain(ch)
	if len(notes) != 1 {
		t.Fatalf("event_started emitted %d times, want 1", len(notes))
	}

	active := s.ActiveEvents("all")
	if len(active) != 1 || active[0].Type != "meteor_shower" {
		t.Fatalf("active events = %+v", active)
	}
	if active[0].ID == "" {
		t.Fatalf("spawned event has empty id")
	}
}

func TestScheduleRespectsFailedDraw(t *testing.T) {
	cfg := config.Events{
		Templates:     []config.EventTemplate{{Type: "aurora", Probability: 0.1, DurationMin: 30}},
		MaxConcurrent: 2,
	}
	s, _ := testScheduler(cfg, never)
	s.ScheduleTick(1, time.Now())
	if got := s.ActiveCount(); got != 0 {
		t.Fatalf("active count = %d, want 0 after failed draw", got)
	}
}

func TestScheduleOneInstancePerType(t *testing.T) {
	cfg := config.Events{
		Templates:     []config.EventTemplate{{Type: "aurora", Probability: 1.0, DurationMin: 60}},
		MaxConcurrent: 5,
	}
	s, _ := testScheduler(cfg, always)
	now := time.Now()
	s.ScheduleTick(1, now)
	s.ScheduleTick(2, now.Add(time.Minute))
	if got := s.ActiveCount(); got != 1 {
		t.Fatalf("active count = %d, want 1 (one instance per type)", got)
	}
}

func TestScheduleHonorsConcurrencyCap(t *testing.T) {
	cfg := config.Events{
		Templates: []config.EventTemplate{
			{Type: "a", Probability: 1.0, DurationMin: 60},
			{Type: "b", Probability: 1.0, DurationMin: 60},
			{Type: "c", Probability: 1.0, DurationMin: 60},
		},
		MaxConcurrent: 2,
	}
	s, _ := testScheduler(cfg, always)
	s.ScheduleTick(1, time.Now())
	if got := s.ActiveCount(); got != 2 {
		t.Fatalf("active count = %d, want cap of 2", got)
	}
}

func TestScheduleSkipsMalformedTemplate(t *testing.T) {
	cfg := config.Events{
		Templates: []config.EventTemplate{
			{Type: "", Probability: 1.0, DurationMin: 60},
			{Type: "broken", Probability: 1.0, DurationMin: 0},
			{Type: "fine", Probability: 1.0, DurationMin: 60},
		},
		MaxConcurrent: 5,
	}
	s, _ := testScheduler(cfg, always)
	s.ScheduleTick(1, time.Now())
	active := s.ActiveEvents("all")
	if len(active) != 1 || active[0].Type != "fine" {
		t.Fatalf("active events = %+v, want only the well-formed template", active)
	}
}

func TestMultipliersCompose(t *testing.T) {
	cfg := config.Events{
		Templates: []config.EventTemplate{
			{Type: "a", Realm: "all", Probability: 1.0, DurationMin: 60, XPMultiplier: 1.5, StardustMultiplier: 2.0},
			{Type: "b", Realm: "genesis", Probability: 1.0, DurationMin: 60, XPMultiplier: 2.0},
			{Type: "c", Realm: "elsewhere", Probability: 1.0, DurationMin: 60, XPMultiplier: 10.0},
		},
		MaxConcurrent: 5,
	}
	s, _ := testScheduler(cfg, always)
	s.ScheduleTick(1, time.Now())

	if got := s.XPMultiplier("genesis"); got != 3.0 {
		t.Fatalf("xp multiplier for genesis = %v, want 1.5 x 2.0 = 3.0", got)
	}
	// Template b carries no stardust bonus, which defaults to 1.0.
	if got := s.StardustMultiplier("genesis"); got != 2.0 {
		t.Fatalf("stardust multiplier for genesis = %v, want 2.0", got)
	}
	if got := s.XPMultiplier("elsewhere"); got != 1.5*10.0 {
		t.Fatalf("xp multiplier for elsewhere = %v, want 15.0", got)
	}
}

func TestMultiplierWithNoEventsIsOne(t *testing.T) {
	s, _ := testScheduler(config.Events{MaxConcurrent: 1}, never)
	if got := s.XPMultiplier("genesis"); got != 1.0 {
		t.Fatalf("xp multiplier with no events = %v, want 1.0", got)
	}
}

func TestGoalProgressMonotonicAndEmitsOnce(t *testing.T) {
	cfg := config.Events{
		Templates: []config.EventTemplate{
			{Type: "warm_front", Probability: 1.0, DurationMin: 60, GoalKey: "beacons_lit", GoalTarget: 10},
		},
		MaxConcurrent: 1,
	}
	s, nb := testScheduler(cfg, always)
	ch, cancel := nb.Subscribe(bus.EventGoalReached, 8)
	defer cancel()

	s.ScheduleTick(1, time.Now())
	id := s.ActiveEvents("all")[0].ID

	snap, err := s.UpdateProgress(id, "beacons_lit", 4)
	if err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if snap.Progress != 40 {
		t.Fatalf("progress = %v, want 40", snap.Progress)
	}

	// Unrelated counters never move goal progress.
	snap, _ = s.UpdateProgress(id, "players_online", 100)
	if snap.Progress != 40 {
		t.Fatalf("progress moved on unrelated counter: %v", snap.Progress)
	}

	snap, _ = s.UpdateProgress(id, "beacons_lit", 20)
	if snap.Progress != 100 || !snap.GoalReached {
		t.Fatalf("progress = %v goal=%v, want 100/true", snap.Progress, snap.GoalReached)
	}
	if n := len(drain(ch)); n != 1 {
		t.Fatalf("event_goal_reached emitted %d times, want 1", n)
	}

	// Further increments past the goal stay silent and clamped.
	snap, _ = s.UpdateProgress(id, "beacons_lit", 50)
	if snap.Progress != 100 {
		t.Fatalf("progress exceeded 100: %v", snap.Progress)
	}
	if n := len(drain(ch)); n != 0 {
		t.Fatalf("event_goal_reached re-emitted")
	}
}

func TestUpdateProgressUnknownEvent(t *testing.T) {
	s, _ := testScheduler(config.Events{MaxConcurrent: 1}, never)
	if _, err := s.UpdateProgress("nope", "k", 1); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExpiryMovesToHistoryAndRewardsParticipants(t *testing.T) {
	cfg := config.Events{
		Templates: []config.EventTemplate{
			{Type: "eclipse", Probability: 1.0, DurationMin: 30,
				GoalKey: "offerings", GoalTarget: 2, CompletionXP: 500, CompletionStardust: 50},
		},
		MaxConcurrent: 1,
		HistorySize:   4,
	}
	s, nb := testScheduler(cfg, always)
	sink := newRecordingSink()
	s.SetRewardSink(sink)
	ch, cancel := nb.Subscribe(bus.EventEnded, 8)
	defer cancel()

	start := time.Now()
	s.ScheduleTick(1, start)
	id := s.ActiveEvents("all")[0].ID
	if err := s.Join(id, "p1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Join(id, "p2"); err != nil {
		t.Fatalf("join: %v", err)
	}
	s.UpdateProgress(id, "offerings", 2)

	// Not due yet.
	s.ExpiryTick(2, start.Add(10*time.Minute))
	if got := s.ActiveCount(); got != 1 {
		t.Fatalf("event expired early")
	}

	s.ExpiryTick(3, start.Add(31*time.Minute))
	if got := s.ActiveCount(); got != 0 {
		t.Fatalf("active count = %d after expiry, want 0", got)
	}
	if n := len(drain(ch)); n != 1 {
		t.Fatalf("event_ended emitted %d times, want 1", n)
	}

	hist := s.History()
	if len(hist) != 1 || hist[0].ID != id || !hist[0].Ended {
		t.Fatalf("history = %+v", hist)
	}
	for _, pid := range []string{"p1", "p2"} {
		if sink.xp[pid] != 500 {
			t.Fatalf("xp for %s = %v, want 500", pid, sink.xp[pid])
		}
		if sink.dust[pid] != 50 {
			t.Fatalf("stardust for %s = %v, want 50", pid, sink.dust[pid])
		}
	}
}

func TestExpiryNoRewardsWithoutGoal(t *testing.T) {
	cfg := config.Events{
		Templates: []config.EventTemplate{
			{Type: "eclipse", Probability: 1.0, DurationMin: 30,
				GoalKey: "offerings", GoalTarget: 100, CompletionXP: 500},
		},
		MaxConcurrent: 1,
	}
	s, _ := testScheduler(cfg, always)
	sink := newRecordingSink()
	s.SetRewardSink(sink)

	start := time.Now()
	s.ScheduleTick(1, start)
	id := s.ActiveEvents("all")[0].ID
	s.Join(id, "p1")
	s.ExpiryTick(2, start.Add(time.Hour))

	if len(sink.xp) != 0 {
		t.Fatalf("rewards paid without goal reached: %+v", sink.xp)
	}
}

func TestHistoryRingBounded(t *testing.T) {
	cfg := config.Events{
		Templates:     []config.EventTemplate{{Type: "aurora", Probability: 1.0, DurationMin: 1}},
		MaxConcurrent: 1,
		HistorySize:   3,
	}
	s, _ := testScheduler(cfg, always)
	now := time.Now()
	for i := 0; i < 6; i++ {
		s.ScheduleTick(uint64(i), now)
		now = now.Add(2 * time.Minute)
		s.ExpiryTick(uint64(i), now)
	}
	if got := len(s.History()); got != 3 {
		t.Fatalf("history length = %d, want bounded at 3", got)
	}
}

func TestRestoreSplitsLiveAndExpired(t *testing.T) {
	s, _ := testScheduler(config.Events{MaxConcurrent: 4, HistorySize: 8}, never)
	now := time.Now()
	s.Restore([]*WorldEvent{
		{ID: "live", Type: "aurora", Realm: "all", EndTime: now.Add(time.Hour),
			ParticipantIDs: []string{"p1"}, XPMultiplier: 2.0, StardustMultiplier: 1.0},
		{ID: "stale", Type: "eclipse", Realm: "all", EndTime: now.Add(-time.Hour),
			XPMultiplier: 1.0, StardustMultiplier: 1.0},
	}, now)

	if got := s.ActiveCount(); got != 1 {
		t.Fatalf("active count = %d, want 1", got)
	}
	if got := s.XPMultiplier("all"); got != 2.0 {
		t.Fatalf("restored multiplier = %v, want 2.0", got)
	}
	hist := s.History()
	if len(hist) != 1 || hist[0].ID != "stale" {
		t.Fatalf("history = %+v, want the expired event", hist)
	}
	// Restored participant sets survive the round trip.
	if err := s.Join("live", "p2"); err != nil {
		t.Fatalf("join restored event: %v", err)
	}
	active := s.ActiveEvents("all")
	if active[0].ParticipantCount != 2 {
		t.Fatalf("participant count = %d, want 2", active[0].ParticipantCount)
	}
}

func TestSlowDrawDoesNotStallMultipliers(t *testing.T) {
	cfg := config.Events{
		Templates:     []config.EventTemplate{{Type: "aurora", Probability: 0.5, DurationMin: 30}},
		MaxConcurrent: 2,
	}
	slowDraw := func() float64 {
		time.Sleep(300 * time.Millisecond)
		return 0.999999
	}
	s, _ := testScheduler(cfg, slowDraw)

	done := make(chan struct{})
	go func() {
		s.ScheduleTick(1, time.Now())
		close(done)
	}()

	// Give the tick time to be inside its draw, then measure a lookup.
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	if got := s.XPMultiplier("all"); got != 1.0 {
		t.Fatalf("multiplier = %v, want 1.0", got)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("XPMultiplier took %v behind an in-flight draw", elapsed)
	}
	<-done
}
