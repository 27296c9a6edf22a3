package guardian

import (
	"sort"

	"github.com/talgya/lumenworld/internal/world"
)

// Bot is one autonomous guardian. Bonds maps player id to strength 0–100;
// entries at or below zero are pruned, never retained.
type Bot struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Realm    string     `json:"realm"`
	Position world.Vec2 `json:"position"`
	Velocity world.Vec2 `json:"velocity"`
	Heading  float64    `json:"heading"` // radians

	Bonds map[string]float64 `json:"bonds"`

	// Ephemeral presentation state.
	Singing        bool    `json:"singing"`
	PulseIntensity float64 `json:"pulse_intensity"`
	Emote          string  `json:"emote,omitempty"`
	Speech         string  `json:"speech,omitempty"`
	SpeechTicks    int     `json:"speech_ticks"`

	// Idle accumulators in seconds; each action resets only its own.
	singIdle  float64
	speakIdle float64

	// Per-bot noise track offset so wander paths decorrelate.
	noiseOffset float64

	SpawnedTick uint64 `json:"spawned_tick"`
}

// BondView is one bond ledger entry in a snapshot.
type BondView struct {
	PlayerID string  `json:"player_id"`
	Strength float64 `json:"strength"`
}

// Snapshot is the copy-out view of a bot.
type Snapshot struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Realm          string     `json:"realm"`
	Position       world.Vec2 `json:"position"`
	Velocity       world.Vec2 `json:"velocity"`
	Singing        bool       `json:"singing"`
	PulseIntensity float64    `json:"pulse_intensity"`
	Emote          string     `json:"emote,omitempty"`
	Speech         string     `json:"speech,omitempty"`
	Bonds          []BondView `json:"bonds"`
}

func snapshotOf(b *Bot) Snapshot {
	bonds := make([]BondView, 0, len(b.Bonds))
	for pid, strength := range b.Bonds {
		bonds = append(bonds, BondView{PlayerID: pid, Strength: strength})
	}
	sort.Slice(bonds, func(i, j int) bool { return bonds[i].PlayerID < bonds[j].PlayerID })
	return Snapshot{
		ID:             b.ID,
		Name:           b.Name,
		Realm:          b.Realm,
		Position:       b.Position,
		Velocity:       b.Velocity,
		Singing:        b.Singing,
		PulseIntensity: b.PulseIntensity,
		Emote:          b.Emote,
		Speech:         b.Speech,
		Bonds:          bonds,
	}
}

// Guardian name pool; spawns draw from it at random.
var guardianNames = []string{
	"Eola", "Talin", "Serin", "Veya", "Orun", "Lysa", "Quen",
	"Ashi", "Rilke", "Noor", "Ember", "Sol", "Wisp", "Kaelo",
	"Ondra", "Miri", "Thessa", "Ylva", "Cairn", "Fenna",
}

// Phrases guardians occasionally speak. Short, ambient, no player names.
var guardianPhrases = []string{
	"the light remembers you",
	"stay near the beacons tonight",
	"I heard singing beyond the ridge",
	"the darkness is thinner here",
	"walk with me a while",
	"there were more of us once",
	"the stars fell early this season",
	"keep your flame close",
}
