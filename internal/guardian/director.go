// Package guardian maintains the small population of autonomous guardian
// bots: population control against a floor, wander/social/containment
// steering, scripted sing and speech actions, and the per-player bond
// ledger with linear decay.
package guardian

import (
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/lumenworld/internal/config"
	"github.com/talgya/lumenworld/internal/store"
	"github.com/talgya/lumenworld/internal/world"
)

// ErrNotFound is returned when an operation references an unknown bot id.
var ErrNotFound = errors.New("guardian not found")

// PlayerLocator supplies current player positions for social gravity. The
// warmth simulator implements it.
type PlayerLocator interface {
	PlayerPositions() map[string]world.Vec2
	PlayerCount() int
}

// Director owns the bot population.
type Director struct {
	cfg     config.Guardians
	writer  *store.Writer
	locator PlayerLocator
	realm   string

	rng   *rand.Rand
	noise opensimplex.Noise

	mu   sync.Mutex
	bots []*Bot

	// noiseT advances every fast tick; each bot samples the track at its
	// own offset.
	noiseT float64
}

// NewDirector creates a director for one realm. The seed drives both the
// rng and the wander noise so bot motion is reproducible in tests.
func NewDirector(cfg config.Guardians, w *store.Writer, locator PlayerLocator, realm string, seed int64) *Director {
	return &Director{
		cfg:     cfg,
		writer:  w,
		locator: locator,
		realm:   realm,
		rng:     rand.New(rand.NewSource(seed)),
		noise:   opensimplex.New(seed),
	}
}

// Restore seeds the population from persisted bots at cold start.
func (d *Director) Restore(bots []*Bot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range bots {
		if b.Bonds == nil {
			b.Bonds = make(map[string]float64)
		}
		b.noiseOffset = d.rng.Float64() * 1000
		d.bots = append(d.bots, b)
	}
}

// Tick advances the whole population by dt seconds.
func (d *Director) Tick(tick uint64, dt float64) {
	d.mu.Lock()
	players := d.locator.PlayerPositions()
	d.noiseT += dt

	d.populationControlLocked(tick, len(players))

	center := world.Vec2{X: d.cfg.WorldCenterX, Y: d.cfg.WorldCenterY}
	for _, b := range d.bots {
		d.steerLocked(b, players, center, dt)
		d.actLocked(b, dt)
		d.decayBondsLocked(b)
	}
	d.mu.Unlock()
}

// populationControlLocked spawns below the floor and removes above it; at
// exactly the floor it does neither.
func (d *Director) populationControlLocked(tick uint64, playerCount int) {
	pop := playerCount + len(d.bots)
	switch {
	case pop < d.cfg.PopulationFloor:
		if d.rng.Float64() < d.cfg.SpawnChance {
			b := d.spawnLocked(tick)
			slog.Info("guardian spawned", "name", b.Name, "population", pop+1)
		}
	case pop > d.cfg.PopulationFloor:
		if len(d.bots) > 0 && d.rng.Float64() < d.cfg.RemoveChance {
			// Newest bot leaves first.
			b := d.bots[len(d.bots)-1]
			d.bots = d.bots[:len(d.bots)-1]
			slog.Info("guardian departed", "name", b.Name, "population", pop-1)
			if d.writer != nil {
				d.writer.EnqueueDelete(store.KindGuardian, b.ID)
			}
		}
	}
}

func (d *Director) spawnLocked(tick uint64) *Bot {
	center := world.Vec2{X: d.cfg.WorldCenterX, Y: d.cfg.WorldCenterY}
	angle := d.rng.Float64() * 2 * math.Pi
	b := &Bot{
		ID:          uuid.NewString(),
		Name:        guardianNames[d.rng.Intn(len(guardianNames))],
		Realm:       d.realm,
		Position:    world.OnRing(center, d.cfg.SpawnRingRadius, angle),
		Heading:     d.rng.Float64() * 2 * math.Pi,
		Bonds:       make(map[string]float64),
		noiseOffset: d.rng.Float64() * 1000,
		SpawnedTick: tick,
	}
	d.bots = append(d.bots, b)
	d.persistLocked(b)
	return b
}

// steerLocked applies wander, social gravity, and containment, then
// integrates velocity with friction.
func (d *Director) steerLocked(b *Bot, players map[string]world.Vec2, center world.Vec2, dt float64) {
	// Wander: a smooth noise track perturbs the heading.
	turn := d.noise.Eval2(b.noiseOffset, d.noiseT*0.3)
	b.Heading += turn * d.cfg.WanderStrength * dt

	force := world.Vec2{X: math.Cos(b.Heading), Y: math.Sin(b.Heading)}.Scale(d.cfg.WanderStrength)

	// Social gravity: bonded players inside the comfort band pull, scaled
	// by bond strength and distance.
	for pid, strength := range b.Bonds {
		if strength < d.cfg.SocialMinBond {
			continue
		}
		pos, online := players[pid]
		if !online {
			continue
		}
		dist := world.Distance(b.Position, pos)
		if dist <= d.cfg.SocialNearBand || dist >= d.cfg.SocialFarBand {
			continue
		}
		pull := d.cfg.SocialStrength * (strength / 100) * (1 - dist/d.cfg.SocialFarBand)
		force = force.Add(pos.Sub(b.Position).Normalized().Scale(pull))
	}

	// Containment: beyond the radius, spring back toward the center.
	if overshoot := world.Distance(b.Position, center) - d.cfg.ContainmentRadius; overshoot > 0 {
		force = force.Add(center.Sub(b.Position).Normalized().Scale(overshoot * 0.1))
		b.Heading = math.Atan2(center.Y-b.Position.Y, center.X-b.Position.X)
	}

	b.Velocity = b.Velocity.Add(force.Scale(dt)).Scale(d.cfg.Friction)
	b.Position = b.Position.Add(b.Velocity.Scale(dt))
}

// actLocked gates singing and speech on independent idle timers. Each
// trigger resets only its own timer.
func (d *Director) actLocked(b *Bot, dt float64) {
	b.singIdle += dt
	b.speakIdle += dt

	if b.Singing {
		b.PulseIntensity -= dt * 0.5
		if b.PulseIntensity <= 0 {
			b.Singing = false
			b.PulseIntensity = 0
			b.Emote = ""
		}
	} else if b.singIdle >= d.cfg.SingIdleSec && d.rng.Float64() < d.cfg.SingChance {
		b.Singing = true
		b.PulseIntensity = 1.0
		b.Emote = "sing"
		b.singIdle = 0
	}

	if b.SpeechTicks > 0 {
		b.SpeechTicks--
		if b.SpeechTicks == 0 {
			b.Speech = ""
		}
	} else if b.speakIdle >= d.cfg.SpeakIdleSec && d.rng.Float64() < d.cfg.SpeakChance {
		b.Speech = guardianPhrases[d.rng.Intn(len(guardianPhrases))]
		b.SpeechTicks = d.cfg.SpeechTicks
		b.speakIdle = 0
	}
}

// decayBondsLocked applies the per-tick linear decay and prunes dead bonds.
func (d *Director) decayBondsLocked(b *Bot) {
	for pid := range b.Bonds {
		b.Bonds[pid] -= d.cfg.BondDecayPerTick
		if b.Bonds[pid] <= 0 {
			delete(b.Bonds, pid)
		}
	}
}

// Strengthen raises the bond between a bot and a player, clamped to 100.
// Called when an interaction occurred (external trigger).
func (d *Director) Strengthen(botID, playerID string, amount float64) (float64, error) {
	d.mu.Lock()
	var target *Bot
	for _, b := range d.bots {
		if b.ID == botID {
			target = b
			break
		}
	}
	if target == nil {
		d.mu.Unlock()
		return 0, ErrNotFound
	}
	target.Bonds[playerID] = world.Clamp(target.Bonds[playerID]+amount, 0, 100)
	strength := target.Bonds[playerID]
	d.persistLocked(target)
	d.mu.Unlock()
	return strength, nil
}

// ActiveGuardians returns copy-out snapshots of the population.
func (d *Director) ActiveGuardians() []Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snaps := make([]Snapshot, 0, len(d.bots))
	for _, b := range d.bots {
		snaps = append(snaps, snapshotOf(b))
	}
	return snaps
}

// Count returns the current bot population.
func (d *Director) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bots)
}

// FlushAll enqueues every bot for persistence.
func (d *Director) FlushAll() {
	d.mu.Lock()
	for _, b := range d.bots {
		d.persistLocked(b)
	}
	d.mu.Unlock()
}

// persistLocked enqueues a deep copy; the writer owns the copy.
func (d *Director) persistLocked(b *Bot) {
	if d.writer == nil {
		return
	}
	cp := *b
	cp.Bonds = make(map[string]float64, len(b.Bonds))
	for k, v := range b.Bonds {
		cp.Bonds[k] = v
	}
	d.writer.Enqueue(store.KindGuardian, b.ID, &cp)
}
