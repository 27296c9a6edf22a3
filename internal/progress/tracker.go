// Package progress accumulates per-player XP and stardust, applying the
// reward multipliers of whatever world events are active at award time, and
// advances players through the configured tier thresholds.
package progress

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/talgya/lumenworld/internal/bus"
	"github.com/talgya/lumenworld/internal/config"
	"github.com/talgya/lumenworld/internal/store"
)

// ErrTierLocked guards a claim on a tier the player has not reached.
var ErrTierLocked = errors.New("tier not yet reached")

// ErrAlreadyClaimed guards a repeated tier reward claim.
var ErrAlreadyClaimed = errors.New("tier reward already claimed")

// ErrUnknownPlayer is returned for queries on players with no progress.
var ErrUnknownPlayer = errors.New("unknown player")

// Multipliers is the slice of the event scheduler the tracker consumes.
type Multipliers interface {
	XPMultiplier(realm string) float64
	StardustMultiplier(realm string) float64
}

// PlayerProgress is the authoritative per-player record.
type PlayerProgress struct {
	PlayerID     string       `json:"player_id"`
	Realm        string       `json:"realm"`
	XP           float64      `json:"xp"`
	Stardust     float64      `json:"stardust"`
	Tier         int          `json:"tier"`
	ClaimedTiers map[int]bool `json:"claimed_tiers"`
}

// Snapshot is the copy-out view.
type Snapshot struct {
	PlayerID     string  `json:"player_id"`
	Realm        string  `json:"realm"`
	XP           float64 `json:"xp"`
	Stardust     float64 `json:"stardust"`
	Tier         int     `json:"tier"`
	ClaimedTiers []int   `json:"claimed_tiers"`
}

// Tracker owns every player's progression.
type Tracker struct {
	cfg    config.Progression
	bus    *bus.Bus
	writer *store.Writer
	mult   Multipliers

	mu      sync.Mutex
	players map[string]*PlayerProgress
}

// NewTracker creates an empty tracker. mult may be nil (no event bonuses).
func NewTracker(cfg config.Progression, b *bus.Bus, w *store.Writer, mult Multipliers) *Tracker {
	if len(cfg.TierThresholds) == 0 {
		cfg.TierThresholds = []float64{0}
	}
	return &Tracker{
		cfg:     cfg,
		bus:     b,
		writer:  w,
		mult:    mult,
		players: make(map[string]*PlayerProgress),
	}
}

// Restore seeds progression from persisted state at cold start.
func (t *Tracker) Restore(players []*PlayerProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range players {
		if p.ClaimedTiers == nil {
			p.ClaimedTiers = make(map[int]bool)
		}
		t.players[p.PlayerID] = p
	}
}

// AwardXP adds XP scaled by the active event multiplier for the realm.
// Crossing a tier threshold emits tier_up; the tier is monotonic.
func (t *Tracker) AwardXP(playerID, realm string, amount float64) {
	if amount <= 0 {
		return
	}
	if t.mult != nil {
		amount *= t.mult.XPMultiplier(realm)
	}

	var note *Snapshot

	t.mu.Lock()
	p := t.getLocked(playerID, realm)
	p.XP += amount
	newTier := t.tierForLocked(p.XP)
	if newTier > p.Tier {
		p.Tier = newTier
		snap := snapshotOf(p)
		note = &snap
	}
	t.mu.Unlock()

	if note != nil {
		t.bus.Publish(bus.Notification{Type: bus.TierUp, Realm: realm, Payload: *note})
	}
	t.persist(playerID)
}

// AwardStardust adds currency scaled by the stardust multiplier.
func (t *Tracker) AwardStardust(playerID, realm string, amount float64) {
	if amount <= 0 {
		return
	}
	if t.mult != nil {
		amount *= t.mult.StardustMultiplier(realm)
	}
	t.mu.Lock()
	p := t.getLocked(playerID, realm)
	p.Stardust += amount
	t.mu.Unlock()
	t.persist(playerID)
}

// ClaimTierReward marks a tier reward claimed. The tier must be reached and
// unclaimed.
func (t *Tracker) ClaimTierReward(playerID string, tier int) error {
	if tier < 0 || tier >= len(t.cfg.TierThresholds) {
		return fmt.Errorf("invalid tier %d", tier)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.players[playerID]
	if !ok {
		return ErrUnknownPlayer
	}
	if p.Tier < tier {
		return ErrTierLocked
	}
	if p.ClaimedTiers[tier] {
		return ErrAlreadyClaimed
	}
	p.ClaimedTiers[tier] = true
	return nil
}

// Get returns one player's snapshot.
func (t *Tracker) Get(playerID string) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.players[playerID]
	if !ok {
		return Snapshot{}, ErrUnknownPlayer
	}
	return snapshotOf(p), nil
}

// FlushAll enqueues every player for persistence.
func (t *Tracker) FlushAll() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.players))
	for id := range t.players {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.persist(id)
	}
}

func (t *Tracker) getLocked(playerID, realm string) *PlayerProgress {
	p, ok := t.players[playerID]
	if !ok {
		p = &PlayerProgress{
			PlayerID:     playerID,
			Realm:        realm,
			ClaimedTiers: make(map[int]bool),
		}
		t.players[playerID] = p
	}
	return p
}

// tierForLocked returns the highest tier whose threshold the XP meets.
func (t *Tracker) tierForLocked(xp float64) int {
	tier := 0
	for i, threshold := range t.cfg.TierThresholds {
		if xp >= threshold {
			tier = i
		}
	}
	return tier
}

func (t *Tracker) persist(id string) {
	if t.writer == nil {
		return
	}
	t.mu.Lock()
	p, ok := t.players[id]
	var cp PlayerProgress
	if ok {
		cp = *p
		cp.ClaimedTiers = make(map[int]bool, len(p.ClaimedTiers))
		for k, v := range p.ClaimedTiers {
			cp.ClaimedTiers[k] = v
		}
	}
	t.mu.Unlock()
	if ok {
		t.writer.Enqueue(store.KindProgress, id, &cp)
	}
}

func snapshotOf(p *PlayerProgress) Snapshot {
	claimed := make([]int, 0, len(p.ClaimedTiers))
	for tier, yes := range p.ClaimedTiers {
		if yes {
			claimed = append(claimed, tier)
		}
	}
	sort.Ints(claimed)
	return Snapshot{
		PlayerID:     p.PlayerID,
		Realm:        p.Realm,
		XP:           p.XP,
		Stardust:     p.Stardust,
		Tier:         p.Tier,
		ClaimedTiers: claimed,
	}
}
