// Package config loads world tuning from YAML with compiled-in defaults.
// All simulation rates, thresholds, and probabilities live here so they can
// be tuned without rebuilding.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full tuning tree for one simulation process.
type Config struct {
	Ticks       Ticks       `yaml:"ticks"`
	Beacons     Beacons     `yaml:"beacons"`
	Warmth      Warmth      `yaml:"warmth"`
	Events      Events      `yaml:"events"`
	Guardians   Guardians   `yaml:"guardians"`
	Progression Progression `yaml:"progression"`
	Store       Store       `yaml:"store"`
	API         API         `yaml:"api"`
}

// Ticks defines the scheduling layers. Slow and schedule intervals must be
// whole multiples of the fast interval; the ticker runs one loop at the fast
// interval and derives the others by modulo.
type Ticks struct {
	FastMs     int `yaml:"fast_ms"`     // bot/position layer
	SlowMs     int `yaml:"slow_ms"`     // decay/simulation layer
	ScheduleMs int `yaml:"schedule_ms"` // event spawn checks
}

// Fast returns the base tick interval.
func (t Ticks) Fast() time.Duration { return time.Duration(t.FastMs) * time.Millisecond }

// SlowEvery returns how many fast ticks make one slow tick.
func (t Ticks) SlowEvery() uint64 { return uint64(t.SlowMs / t.FastMs) }

// ScheduleEvery returns how many fast ticks make one schedule tick.
func (t Ticks) ScheduleEvery() uint64 { return uint64(t.ScheduleMs / t.FastMs) }

// Beacons tunes the beacon registry.
type Beacons struct {
	GridCellSize       float64 `yaml:"grid_cell_size"`
	MaxCharge          float64 `yaml:"max_charge"`
	LightThreshold     float64 `yaml:"light_threshold"`
	PermanentThreshold float64 `yaml:"permanent_threshold"`
	DecayPerSecond     float64 `yaml:"decay_per_second"`
	ProtectionRadius   float64 `yaml:"protection_radius"`
	ChargeXPPerPoint   float64 `yaml:"charge_xp_per_point"`
	LightBonusXP       float64 `yaml:"light_bonus_xp"`
}

// Zone is one ambient warmth/darkness region.
type Zone struct {
	Name             string  `yaml:"name"`
	WarmthRate       float64 `yaml:"warmth_rate"`       // per second
	DarknessRate     float64 `yaml:"darkness_rate"`     // per second
	BaselineDarkness float64 `yaml:"baseline_darkness"` // pull target
	LightMultiplier  float64 `yaml:"light_multiplier"`  // scales warmth sources
}

// Warmth tunes the per-player warmth/darkness simulation.
type Warmth struct {
	Zones             []Zone  `yaml:"zones"`
	DefaultZone       string  `yaml:"default_zone"`
	BaselinePull      float64 `yaml:"baseline_pull"` // per second
	NearbyBonus       float64 `yaml:"nearby_bonus"`  // per nearby player per second
	NearbyRadius      float64 `yaml:"nearby_radius"`
	CarriedLightBonus float64 `yaml:"carried_light_bonus"` // per carried charge per second
	MaxCarriedLight   int     `yaml:"max_carried_light"`
	ConsumedThreshold float64 `yaml:"consumed_threshold"`
	SourceCooldownSec float64 `yaml:"source_cooldown_sec"`
	SourceWarmthGain  float64 `yaml:"source_warmth_gain"`
	SourceDarkRelief  float64 `yaml:"source_dark_relief"`
}

// EventTemplate describes one spawnable world event kind.
type EventTemplate struct {
	Type               string  `yaml:"type"`
	Realm              string  `yaml:"realm"`       // "all" or a realm name
	Probability        float64 `yaml:"probability"` // independent draw per schedule check
	DurationMin        int     `yaml:"duration_min"`
	XPMultiplier       float64 `yaml:"xp_multiplier"`
	StardustMultiplier float64 `yaml:"stardust_multiplier"`
	GoalKey            string  `yaml:"goal_key,omitempty"`
	GoalTarget         float64 `yaml:"goal_target,omitempty"`
	CompletionXP       float64 `yaml:"completion_xp"`
	CompletionStardust float64 `yaml:"completion_stardust"`
}

// Events tunes the world event scheduler.
type Events struct {
	Templates     []EventTemplate `yaml:"templates"`
	MaxConcurrent int             `yaml:"max_concurrent"`
	HistorySize   int             `yaml:"history_size"`
}

// Guardians tunes the bot director.
type Guardians struct {
	PopulationFloor   int     `yaml:"population_floor"`
	SpawnChance       float64 `yaml:"spawn_chance"`  // per fast tick while under floor
	RemoveChance      float64 `yaml:"remove_chance"` // per fast tick while over floor
	WorldCenterX      float64 `yaml:"world_center_x"`
	WorldCenterY      float64 `yaml:"world_center_y"`
	SpawnRingRadius   float64 `yaml:"spawn_ring_radius"`
	ContainmentRadius float64 `yaml:"containment_radius"`
	Friction          float64 `yaml:"friction"`
	WanderStrength    float64 `yaml:"wander_strength"`
	SocialMinBond     float64 `yaml:"social_min_bond"`
	SocialNearBand    float64 `yaml:"social_near_band"` // closer than this: no pull
	SocialFarBand     float64 `yaml:"social_far_band"`  // farther than this: no pull
	SocialStrength    float64 `yaml:"social_strength"`
	BondDecayPerTick  float64 `yaml:"bond_decay_per_tick"`
	SingIdleSec       float64 `yaml:"sing_idle_sec"`
	SingChance        float64 `yaml:"sing_chance"`
	SpeakIdleSec      float64 `yaml:"speak_idle_sec"`
	SpeakChance       float64 `yaml:"speak_chance"`
	SpeechTicks       int     `yaml:"speech_ticks"`
}

// Progression tunes player XP tiers.
type Progression struct {
	TierThresholds []float64 `yaml:"tier_thresholds"`
}

// Store tunes the persistence gateway.
type Store struct {
	Path         string `yaml:"path"`
	QueueSize    int    `yaml:"queue_size"`
	MaxRetries   int    `yaml:"max_retries"`
	FlushTimeout int    `yaml:"flush_timeout_sec"`
}

// API tunes the transport snapshot surface.
type API struct {
	Port int `yaml:"port"`
}

// Load reads tuning from a YAML file. A missing file returns defaults; a
// malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("world.yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects tick layouts the modulo scheduler cannot express.
func (c Config) Validate() error {
	t := c.Ticks
	if t.FastMs <= 0 {
		return fmt.Errorf("ticks.fast_ms must be positive, got %d", t.FastMs)
	}
	if t.SlowMs <= 0 {
		return fmt.Errorf("ticks.slow_ms must be positive, got %d", t.SlowMs)
	}
	if t.SlowMs%t.FastMs != 0 {
		return fmt.Errorf("ticks.slow_ms (%d) must be a multiple of fast_ms (%d)", t.SlowMs, t.FastMs)
	}
	if t.ScheduleMs%t.SlowMs != 0 {
		return fmt.Errorf("ticks.schedule_ms (%d) must be a multiple of slow_ms (%d)", t.ScheduleMs, t.SlowMs)
	}
	if c.Events.MaxConcurrent < 1 {
		return fmt.Errorf("events.max_concurrent must be at least 1")
	}
	return nil
}

// Default returns the compiled-in tuning used when no world.yaml exists.
func Default() Config {
	return Config{
		Ticks: Ticks{
			FastMs:     50,
			SlowMs:     1000,
			ScheduleMs: 3600000,
		},
		Beacons: Beacons{
			GridCellSize:       25,
			MaxCharge:          100,
			LightThreshold:     50,
			PermanentThreshold: 100,
			DecayPerSecond:     0.5,
			ProtectionRadius:   40,
			ChargeXPPerPoint:   2,
			LightBonusXP:       50,
		},
		Warmth: Warmth{
			Zones: []Zone{
				{Name: "neutral", WarmthRate: 0, DarknessRate: 0.2, BaselineDarkness: 20, LightMultiplier: 1.0},
				{Name: "aurora_glade", WarmthRate: 1.5, DarknessRate: -0.5, BaselineDarkness: 5, LightMultiplier: 1.5},
				{Name: "dusk_hollow", WarmthRate: -0.8, DarknessRate: 1.2, BaselineDarkness: 60, LightMultiplier: 0.8},
				{Name: "ember_reach", WarmthRate: 0.6, DarknessRate: 0.1, BaselineDarkness: 15, LightMultiplier: 1.2},
			},
			DefaultZone:       "neutral",
			BaselinePull:      0.05,
			NearbyBonus:       0.4,
			NearbyRadius:      30,
			CarriedLightBonus: 0.3,
			MaxCarriedLight:   5,
			ConsumedThreshold: 95,
			SourceCooldownSec: 30,
			SourceWarmthGain:  15,
			SourceDarkRelief:  10,
		},
		Events: Events{
			MaxConcurrent: 2,
			HistorySize:   64,
			Templates: []EventTemplate{
				{Type: "meteor_shower", Realm: RealmAll, Probability: 0.10, DurationMin: 20, XPMultiplier: 1.5, StardustMultiplier: 1.0, GoalKey: "meteors_caught", GoalTarget: 500, CompletionXP: 200, CompletionStardust: 50},
				{Type: "aurora", Realm: RealmAll, Probability: 0.08, DurationMin: 45, XPMultiplier: 1.2, StardustMultiplier: 1.5},
				{Type: "eclipse", Realm: RealmAll, Probability: 0.04, DurationMin: 15, XPMultiplier: 2.0, StardustMultiplier: 1.0},
				{Type: "warm_front", Realm: "genesis", Probability: 0.06, DurationMin: 30, XPMultiplier: 1.0, StardustMultiplier: 1.2},
			},
		},
		Guardians: Guardians{
			PopulationFloor:   6,
			SpawnChance:       0.02,
			RemoveChance:      0.01,
			SpawnRingRadius:   220,
			ContainmentRadius: 300,
			Friction:          0.92,
			WanderStrength:    4.0,
			SocialMinBond:     20,
			SocialNearBand:    25,
			SocialFarBand:     140,
			SocialStrength:    2.5,
			BondDecayPerTick:  0.002,
			SingIdleSec:       20,
			SingChance:        0.01,
			SpeakIdleSec:      60,
			SpeakChance:       0.005,
			SpeechTicks:       80,
		},
		Progression: Progression{
			TierThresholds: []float64{0, 100, 300, 700, 1500, 3000},
		},
		Store: Store{
			Path:         "data/lumenworld.db",
			QueueSize:    1024,
			MaxRetries:   3,
			FlushTimeout: 10,
		},
		API: API{Port: 8080},
	}
}

// RealmAll mirrors world.RealmAll without importing it; config sits below
// every other package.
const RealmAll = "all"
