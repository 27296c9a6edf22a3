package warmth

// Effects is the discrete gameplay penalty set derived from a player's
// current darkness. The transport layer forwards it verbatim; nothing here
// feeds back into the simulation.
type Effects struct {
	MovementPenalty    float64 `json:"movement_penalty"`    // 0 = none, 1 = immobile
	VisionRange        float64 `json:"vision_range"`        // world units
	InteractionPenalty float64 `json:"interaction_penalty"` // 0 = none
	AmbientAudio       bool    `json:"ambient_audio"`       // darkness drone on
}

// effectBand maps a darkness floor to its effects.
type effectBand struct {
	minDarkness float64
	effects     Effects
}

// Bands ordered low to high; lookup picks the highest floor not exceeding
// the darkness value.
var effectBands = []effectBand{
	{0, Effects{MovementPenalty: 0, VisionRange: 120, InteractionPenalty: 0, AmbientAudio: false}},
	{40, Effects{MovementPenalty: 0.10, VisionRange: 90, InteractionPenalty: 0.10, AmbientAudio: false}},
	{60, Effects{MovementPenalty: 0.25, VisionRange: 60, InteractionPenalty: 0.25, AmbientAudio: true}},
	{80, Effects{MovementPenalty: 0.50, VisionRange: 30, InteractionPenalty: 0.50, AmbientAudio: true}},
	{95, Effects{MovementPenalty: 0.80, VisionRange: 10, InteractionPenalty: 1.0, AmbientAudio: true}},
}

// EffectsFor returns the effect band for a darkness value; the highest
// matching threshold wins.
func EffectsFor(darkness float64) Effects {
	eff := effectBands[0].effects
	for _, band := range effectBands {
		if darkness >= band.minDarkness {
			eff = band.effects
		}
	}
	return eff
}
