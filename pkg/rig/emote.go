package rig

import "math"

// Emote is a transient head gesture layered over the steady pose.
type Emote int

const (
	EmoteNone Emote = iota
	EmoteNod
	EmoteShake
)

// String returns the tool-facing emote name.
func (e Emote) String() string {
	switch e {
	case EmoteNod:
		return "nod"
	case EmoteShake:
		return "shake"
	default:
		return "none"
	}
}

// ParseEmote maps a tool argument onto an Emote.
func ParseEmote(s string) (Emote, bool) {
	switch s {
	case "nod":
		return EmoteNod, true
	case "shake":
		return EmoteShake, true
	default:
		return EmoteNone, false
	}
}

// Offset is the additive contribution of an overlay at one instant.
type Offset struct {
	Pitch float64 // radians about the head's X axis
	Yaw   float64 // radians about the head's Y axis
	Lid   float64 // eyelid weight, both eyes
}

// evaluate returns the overlay offset at progress p ∈ [0,1].
func (e Emote) evaluate(cfg Config, p float64) Offset {
	if e == EmoteNone {
		return Offset{}
	}
	p = clamp(p, 0, 1)
	wave := math.Sin(2 * math.Pi * cfg.EmoteCycles * p)
	off := Offset{Lid: lidSweep(p, cfg.LidOpenEnd, cfg.LidCloseStart)}
	switch e {
	case EmoteNod:
		off.Pitch = cfg.NodAngle * wave
	case EmoteShake:
		off.Yaw = cfg.ShakeAngle * wave
	}
	return off
}

// lidSweep is 0→1 over [0, openEnd], 1 until closeStart, then 1→0.
func lidSweep(p, openEnd, closeStart float64) float64 {
	switch {
	case p <= 0 || p >= 1:
		return 0
	case p < openEnd:
		return p / openEnd
	case p <= closeStart:
		return 1
	default:
		return (1 - p) / (1 - closeStart)
	}
}
