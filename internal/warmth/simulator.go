// Package warmth simulates the per-player warmth/darkness scalar pair.
// Every slow tick a player's assigned zone pushes both values, nearby
// players and carried light push back, and a baseline pull drags darkness
// toward the zone's ambient level. Threshold crossings are edge-triggered
// onto the bus.
package warmth

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/talgya/lumenworld/internal/bus"
	"github.com/talgya/lumenworld/internal/config"
	"github.com/talgya/lumenworld/internal/store"
	"github.com/talgya/lumenworld/internal/weather"
	"github.com/talgya/lumenworld/internal/world"
)

// CooldownError reports a warmth source still on cooldown, with enough
// context for the caller to surface a retry time.
type CooldownError struct {
	SourceID  string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("source %s on cooldown for %s", e.SourceID, e.Remaining.Round(time.Second))
}

// NotTrackedError reports an operation on a player the simulator does not
// know about.
type NotTrackedError struct {
	PlayerID string
}

func (e *NotTrackedError) Error() string {
	return fmt.Sprintf("player %s is not tracked", e.PlayerID)
}

// State is the authoritative per-player record.
type State struct {
	PlayerID     string               `json:"player_id"`
	Realm        string               `json:"realm"`
	Zone         string               `json:"zone"`
	Position     world.Vec2           `json:"position"`
	Warmth       float64              `json:"warmth"`
	Darkness     float64              `json:"darkness"`
	CarriedLight int                  `json:"carried_light"`
	Cooldowns    map[string]time.Time `json:"cooldowns"`

	// Edge-trigger latches. Consumed stays set while darkness holds at or
	// above the threshold; Depleted likewise for warmth at zero.
	Consumed bool `json:"consumed"`
	Depleted bool `json:"depleted"`
}

// Snapshot is the copy-out view handed to the transport layer.
type Snapshot struct {
	PlayerID     string     `json:"player_id"`
	Realm        string     `json:"realm"`
	Zone         string     `json:"zone"`
	Position     world.Vec2 `json:"position"`
	Warmth       float64    `json:"warmth"`
	Darkness     float64    `json:"darkness"`
	CarriedLight int        `json:"carried_light"`
	Consumed     bool       `json:"consumed"`
	Effects      Effects    `json:"effects"`
}

// SourceResult reports an applied warmth source.
type SourceResult struct {
	WarmthGained     float64
	DarknessRelieved float64
	Snapshot         Snapshot
}

// Simulator owns every tracked player's warmth state.
type Simulator struct {
	cfg    config.Warmth
	bus    *bus.Bus
	writer *store.Writer

	mu      sync.Mutex
	players map[string]*State
	zones   map[string]config.Zone
	weather weather.Modifier
}

// NewSimulator builds the zone table from config; the default zone is
// guaranteed present even when config omits it.
func NewSimulator(cfg config.Warmth, b *bus.Bus, w *store.Writer) *Simulator {
	zones := make(map[string]config.Zone, len(cfg.Zones))
	for _, z := range cfg.Zones {
		zones[z.Name] = z
	}
	if _, ok := zones[cfg.DefaultZone]; !ok {
		zones[cfg.DefaultZone] = config.Zone{Name: cfg.DefaultZone, LightMultiplier: 1.0}
	}
	return &Simulator{
		cfg:     cfg,
		bus:     b,
		writer:  w,
		players: make(map[string]*State),
		zones:   zones,
		weather: weather.Neutral(),
	}
}

// Restore seeds tracked players from persisted state at cold start.
func (s *Simulator) Restore(states []*State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		if st.Cooldowns == nil {
			st.Cooldowns = make(map[string]time.Time)
		}
		if _, ok := s.zones[st.Zone]; !ok {
			st.Zone = s.cfg.DefaultZone
		}
		s.players[st.PlayerID] = st
	}
}

// Register starts tracking a player. Warmth starts full, darkness at the
// zone baseline.
func (s *Simulator) Register(playerID, realm string) Snapshot {
	s.mu.Lock()
	st, ok := s.players[playerID]
	if !ok {
		zone := s.zones[s.cfg.DefaultZone]
		st = &State{
			PlayerID:  playerID,
			Realm:     realm,
			Zone:      zone.Name,
			Warmth:    100,
			Darkness:  zone.BaselineDarkness,
			Cooldowns: make(map[string]time.Time),
		}
		s.players[playerID] = st
	}
	snap := snapshotOf(st)
	s.mu.Unlock()
	return snap
}

// Remove stops tracking a player and flushes the final state to storage.
func (s *Simulator) Remove(playerID string) {
	s.mu.Lock()
	st, ok := s.players[playerID]
	var cp State
	if ok {
		cp = *st
		cp.Cooldowns = copyCooldowns(st.Cooldowns)
		delete(s.players, playerID)
	}
	s.mu.Unlock()

	if ok && s.writer != nil {
		s.writer.Enqueue(store.KindWarmth, playerID, &cp)
	}
}

// SetZone reassigns a player's zone; an unknown zone resolves to the
// default.
func (s *Simulator) SetZone(playerID, zone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.players[playerID]
	if !ok {
		return &NotTrackedError{PlayerID: playerID}
	}
	if _, known := s.zones[zone]; !known {
		zone = s.cfg.DefaultZone
	}
	st.Zone = zone
	return nil
}

// UpdatePosition records a client position report.
func (s *Simulator) UpdatePosition(playerID string, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.players[playerID]
	if !ok {
		return &NotTrackedError{PlayerID: playerID}
	}
	st.Position = world.Vec2{X: x, Y: y}
	return nil
}

// AddCarriedLight adjusts a player's carried light charges, clamped to the
// configured maximum.
func (s *Simulator) AddCarriedLight(playerID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.players[playerID]
	if !ok {
		return 0, &NotTrackedError{PlayerID: playerID}
	}
	st.CarriedLight += delta
	if st.CarriedLight < 0 {
		st.CarriedLight = 0
	}
	if st.CarriedLight > s.cfg.MaxCarriedLight {
		st.CarriedLight = s.cfg.MaxCarriedLight
	}
	return st.CarriedLight, nil
}

// SetWeather swaps in the current ambient weather modifier.
func (s *Simulator) SetWeather(m weather.Modifier) {
	s.mu.Lock()
	s.weather = m
	s.mu.Unlock()
}

// ApplyWarmthSource grants an instantaneous warmth gain and darkness
// reduction, scaled by the zone's light multiplier, subject to a per-source
// cooldown.
func (s *Simulator) ApplyWarmthSource(playerID, sourceID string, now time.Time) (SourceResult, error) {
	if sourceID == "" {
		return SourceResult{}, fmt.Errorf("empty source id")
	}

	s.mu.Lock()
	st, ok := s.players[playerID]
	if !ok {
		s.mu.Unlock()
		return SourceResult{}, &NotTrackedError{PlayerID: playerID}
	}

	cooldown := time.Duration(s.cfg.SourceCooldownSec * float64(time.Second))
	if last, used := st.Cooldowns[sourceID]; used {
		if remaining := cooldown - now.Sub(last); remaining > 0 {
			s.mu.Unlock()
			return SourceResult{}, &CooldownError{SourceID: sourceID, Remaining: remaining}
		}
	}

	zone := s.zones[st.Zone]
	gain := s.cfg.SourceWarmthGain * zone.LightMultiplier
	relief := s.cfg.SourceDarkRelief * zone.LightMultiplier

	st.Warmth = world.Clamp(st.Warmth+gain, 0, 100)
	st.Darkness = world.Clamp(st.Darkness-relief, 0, 100)
	st.Cooldowns[sourceID] = now
	if st.Warmth > 0 {
		st.Depleted = false
	}
	if st.Darkness < s.cfg.ConsumedThreshold {
		st.Consumed = false
	}

	res := SourceResult{WarmthGained: gain, DarknessRelieved: relief, Snapshot: snapshotOf(st)}
	s.mu.Unlock()

	s.persist(playerID)
	return res, nil
}

// Tick advances every tracked player by dt seconds.
func (s *Simulator) Tick(tick uint64, dt float64) {
	var notes []bus.Notification

	s.mu.Lock()
	positions := make([]world.Vec2, 0, len(s.players))
	owners := make([]*State, 0, len(s.players))
	for _, st := range s.players {
		positions = append(positions, st.Position)
		owners = append(owners, st)
	}

	for i, st := range owners {
		zone := s.zones[st.Zone]

		nearby := 0
		for j, pos := range positions {
			if i == j || owners[j].Realm != st.Realm {
				continue
			}
			if world.Distance(st.Position, pos) <= s.cfg.NearbyRadius {
				nearby++
			}
		}
		if nearby > 5 {
			nearby = 5
		}

		nearbyBonus := s.cfg.NearbyBonus * float64(nearby)
		lightBonus := s.cfg.CarriedLightBonus * float64(st.CarriedLight)
		warmthRate := zone.WarmthRate * s.weather.WarmthRateScale
		darknessRate := zone.DarknessRate * s.weather.DarknessRateScale

		st.Warmth = world.Clamp(
			st.Warmth+(warmthRate+nearbyBonus+lightBonus)*dt,
			0, 100)
		st.Darkness = world.Clamp(
			st.Darkness+
				(darknessRate-nearbyBonus-lightBonus)*dt+
				(zone.BaselineDarkness-st.Darkness)*s.cfg.BaselinePull*dt,
			0, 100)

		if st.Darkness >= s.cfg.ConsumedThreshold {
			if !st.Consumed {
				st.Consumed = true
				notes = append(notes, bus.Notification{
					Type: bus.ConsumedByDarkness, Realm: st.Realm, Tick: tick, Payload: snapshotOf(st),
				})
			}
		} else {
			st.Consumed = false
		}

		if st.Warmth <= 0 {
			if !st.Depleted {
				st.Depleted = true
				notes = append(notes, bus.Notification{
					Type: bus.WarmthDepleted, Realm: st.Realm, Tick: tick, Payload: snapshotOf(st),
				})
			}
		} else {
			st.Depleted = false
		}
	}
	s.mu.Unlock()

	for _, n := range notes {
		s.bus.Publish(n)
	}
}

// GetFullState returns one player's snapshot including derived effects.
func (s *Simulator) GetFullState(playerID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.players[playerID]
	if !ok {
		return Snapshot{}, &NotTrackedError{PlayerID: playerID}
	}
	return snapshotOf(st), nil
}

// TrackedPlayers returns the ids of every tracked player, sorted.
func (s *Simulator) TrackedPlayers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlayerCount returns how many players are tracked.
func (s *Simulator) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// PlayerPositions returns a copy of every tracked player's realm and
// position; the guardian director reads this for social gravity.
func (s *Simulator) PlayerPositions() map[string]world.Vec2 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]world.Vec2, len(s.players))
	for id, st := range s.players {
		out[id] = st.Position
	}
	return out
}

// FlushAll enqueues every tracked player for persistence.
func (s *Simulator) FlushAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.persist(id)
	}
}

// ForceDarkness pins a player's darkness value. Admin/test hook.
func (s *Simulator) ForceDarkness(playerID string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.players[playerID]
	if !ok {
		return &NotTrackedError{PlayerID: playerID}
	}
	st.Darkness = world.Clamp(v, 0, 100)
	return nil
}

func (s *Simulator) persist(id string) {
	if s.writer == nil {
		return
	}
	s.mu.Lock()
	st, ok := s.players[id]
	var cp State
	if ok {
		cp = *st
		cp.Cooldowns = copyCooldowns(st.Cooldowns)
	}
	s.mu.Unlock()
	if ok {
		s.writer.Enqueue(store.KindWarmth, id, &cp)
	}
}

func snapshotOf(st *State) Snapshot {
	return Snapshot{
		PlayerID:     st.PlayerID,
		Realm:        st.Realm,
		Zone:         st.Zone,
		Position:     st.Position,
		Warmth:       st.Warmth,
		Darkness:     st.Darkness,
		CarriedLight: st.CarriedLight,
		Consumed:     st.Consumed,
		Effects:      EffectsFor(st.Darkness),
	}
}

func copyCooldowns(src map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
