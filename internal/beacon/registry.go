// Package beacon maintains the per-realm chargeable beacons: player
// contributions raise charge toward the lit and permanent thresholds, the
// slow tick decays it back down, and threshold crossings go out on the bus.
package beacon

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/talgya/lumenworld/internal/bus"
	"github.com/talgya/lumenworld/internal/config"
	"github.com/talgya/lumenworld/internal/store"
	"github.com/talgya/lumenworld/internal/world"
)

// ErrNotFound is returned when an operation references an unknown beacon id.
var ErrNotFound = errors.New("beacon not found")

// Beacon is the authoritative in-memory entity. Contributors maps player id
// to cumulative contributed charge; it is never handed out live.
type Beacon struct {
	ID             string             `json:"id"`
	Realm          string             `json:"realm"`
	Cell           world.GridCell     `json:"cell"`
	Charge         float64            `json:"charge"`
	Contributors   map[string]float64 `json:"contributors"`
	LitBy          string             `json:"lit_by,omitempty"`
	Protectors     []string           `json:"protectors,omitempty"`
	PermanentlyLit bool               `json:"permanently_lit"`
	CreatedAt      time.Time          `json:"created_at"`
}

// lit reports whether the beacon currently counts as lit.
func (b *Beacon) lit(threshold float64) bool {
	return b.PermanentlyLit || b.Charge >= threshold
}

// Snapshot is the serializable copy-out view of a beacon.
type Snapshot struct {
	ID             string         `json:"id"`
	Realm          string         `json:"realm"`
	Cell           world.GridCell `json:"cell"`
	Charge         float64        `json:"charge"`
	Lit            bool           `json:"lit"`
	PermanentlyLit bool           `json:"permanently_lit"`
	LitBy          string         `json:"lit_by,omitempty"`
	Contributors   []Contribution `json:"contributors"`
	ProtectorCount int            `json:"protector_count"`
}

// Contribution is one ledger entry in a snapshot, sorted by player id.
type Contribution struct {
	PlayerID string  `json:"player_id"`
	Amount   float64 `json:"amount"`
}

// ChargeResult reports the outcome of one charge contribution.
type ChargeResult struct {
	Beacon       Snapshot
	WasLit       bool
	WasPermanent bool
	XPAwarded    float64
}

// Registry owns every beacon in the process.
type Registry struct {
	cfg    config.Beacons
	bus    *bus.Bus
	writer *store.Writer

	mu      sync.Mutex
	beacons map[string]*Beacon
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.Beacons, b *bus.Bus, w *store.Writer) *Registry {
	return &Registry{
		cfg:     cfg,
		bus:     b,
		writer:  w,
		beacons: make(map[string]*Beacon),
	}
}

// Restore seeds the registry from persisted beacons at cold start.
func (r *Registry) Restore(beacons []*Beacon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range beacons {
		if b.Contributors == nil {
			b.Contributors = make(map[string]float64)
		}
		r.beacons[b.ID] = b
	}
}

// GetOrCreate quantizes (x, y) onto the grid and returns the beacon snapshot
// at that cell, creating an uncharged beacon on first touch.
func (r *Registry) GetOrCreate(realm string, x, y float64) Snapshot {
	cell := world.Quantize(x, y, r.cfg.GridCellSize)
	id := cell.Key(realm)

	r.mu.Lock()
	b, ok := r.beacons[id]
	if !ok {
		b = &Beacon{
			ID:           id,
			Realm:        realm,
			Cell:         cell,
			Contributors: make(map[string]float64),
			CreatedAt:    time.Now(),
		}
		r.beacons[id] = b
	}
	snap := r.snapshotLocked(b)
	r.mu.Unlock()

	if !ok {
		r.persist(snap.ID)
	}
	return snap
}

// Charge adds amount to the beacon's charge, clamped to max, and records the
// contribution. The first crossing of the light threshold records litBy and
// emits beacon_lit; the first crossing of the permanent threshold sets the
// sticky flag and emits beacon_permanent.
func (r *Registry) Charge(beaconID, playerID string, amount float64) (ChargeResult, error) {
	if amount < 0 {
		return ChargeResult{}, fmt.Errorf("negative charge amount %.2f", amount)
	}

	r.mu.Lock()
	b, ok := r.beacons[beaconID]
	if !ok {
		r.mu.Unlock()
		return ChargeResult{}, ErrNotFound
	}

	wasLitBefore := b.lit(r.cfg.LightThreshold)
	b.Charge = world.Clamp(b.Charge+amount, 0, r.cfg.MaxCharge)
	b.Contributors[playerID] += amount

	res := ChargeResult{
		XPAwarded: amount * r.cfg.ChargeXPPerPoint,
	}
	if !wasLitBefore && b.lit(r.cfg.LightThreshold) {
		res.WasLit = true
		b.LitBy = playerID
		res.XPAwarded += r.cfg.LightBonusXP
	}
	if !b.PermanentlyLit && b.Charge >= r.cfg.PermanentThreshold {
		b.PermanentlyLit = true
		res.WasPermanent = true
	}
	res.Beacon = r.snapshotLocked(b)
	realm := b.Realm
	r.mu.Unlock()

	if res.WasLit {
		r.bus.Publish(bus.Notification{Type: bus.BeaconLit, Realm: realm, Payload: res.Beacon})
	}
	if res.WasPermanent {
		r.bus.Publish(bus.Notification{Type: bus.BeaconPermanent, Realm: realm, Payload: res.Beacon})
	}
	r.persist(beaconID)
	return res, nil
}

// Protect adds playerID to the protector list. Only lit beacons can be
// protected; re-protecting is a no-op and reports AlreadyProtecting.
func (r *Registry) Protect(beaconID, playerID string) (alreadyProtecting bool, err error) {
	r.mu.Lock()
	b, ok := r.beacons[beaconID]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotFound
	}
	if !b.lit(r.cfg.LightThreshold) {
		r.mu.Unlock()
		return false, fmt.Errorf("beacon %s is not lit", beaconID)
	}
	for _, p := range b.Protectors {
		if p == playerID {
			r.mu.Unlock()
			return true, nil
		}
	}
	b.Protectors = append(b.Protectors, playerID)
	r.mu.Unlock()

	r.persist(beaconID)
	return false, nil
}

// DecayTick applies one second worth of decay. Permanent beacons never
// decay; everything else drops toward zero, and the crossing to zero emits
// beacon_darkened.
func (r *Registry) DecayTick(tick uint64, dt float64) {
	type darkened struct {
		realm string
		snap  Snapshot
	}
	var dark []darkened
	var dirty []string

	r.mu.Lock()
	for id, b := range r.beacons {
		if b.PermanentlyLit || b.Charge <= 0 {
			continue
		}
		b.Charge -= r.cfg.DecayPerSecond * dt
		if b.Charge <= 0 {
			b.Charge = 0
			dark = append(dark, darkened{realm: b.Realm, snap: r.snapshotLocked(b)})
		}
		dirty = append(dirty, id)
	}
	r.mu.Unlock()

	for _, d := range dark {
		r.bus.Publish(bus.Notification{Type: bus.BeaconDarkened, Realm: d.realm, Tick: tick, Payload: d.snap})
	}
	for _, id := range dirty {
		r.persist(id)
	}
}

// IsPositionProtected reports whether (x, y) lies within the protection
// radius of any currently lit beacon in the realm.
func (r *Registry) IsPositionProtected(realm string, x, y float64) bool {
	pos := world.Vec2{X: x, Y: y}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.beacons {
		if b.Realm != realm || !b.lit(r.cfg.LightThreshold) {
			continue
		}
		if world.Distance(pos, b.Cell.Center(r.cfg.GridCellSize)) <= r.cfg.ProtectionRadius {
			return true
		}
	}
	return false
}

// BeaconsInRealm returns copy-out snapshots of every beacon in the realm.
func (r *Registry) BeaconsInRealm(realm string) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := make([]Snapshot, 0)
	for _, b := range r.beacons {
		if b.Realm == realm {
			snaps = append(snaps, r.snapshotLocked(b))
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// Get returns one beacon snapshot by id.
func (r *Registry) Get(beaconID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.beacons[beaconID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return r.snapshotLocked(b), nil
}

// Count returns the number of beacons tracked.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.beacons)
}

// FlushAll enqueues every beacon for persistence (used at shutdown).
func (r *Registry) FlushAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.beacons))
	for id := range r.beacons {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.persist(id)
	}
}

// snapshotLocked builds a copy-out view; caller holds the lock.
func (r *Registry) snapshotLocked(b *Beacon) Snapshot {
	contribs := make([]Contribution, 0, len(b.Contributors))
	for pid, amt := range b.Contributors {
		contribs = append(contribs, Contribution{PlayerID: pid, Amount: amt})
	}
	sort.Slice(contribs, func(i, j int) bool { return contribs[i].PlayerID < contribs[j].PlayerID })
	return Snapshot{
		ID:             b.ID,
		Realm:          b.Realm,
		Cell:           b.Cell,
		Charge:         b.Charge,
		Lit:            b.lit(r.cfg.LightThreshold),
		PermanentlyLit: b.PermanentlyLit,
		LitBy:          b.LitBy,
		Contributors:   contribs,
		ProtectorCount: len(b.Protectors),
	}
}

// persist enqueues a deep copy of the beacon's current state. The copy is
// taken under the lock, the enqueue happens after it is released.
func (r *Registry) persist(id string) {
	if r.writer == nil {
		return
	}
	r.mu.Lock()
	stored, ok := r.beacons[id]
	var cp Beacon
	if ok {
		cp = *stored
		cp.Contributors = make(map[string]float64, len(stored.Contributors))
		for k, v := range stored.Contributors {
			cp.Contributors[k] = v
		}
		cp.Protectors = append([]string(nil), stored.Protectors...)
	}
	r.mu.Unlock()
	if ok {
		r.writer.Enqueue(store.KindBeacon, id, &cp)
	}
}
