package rig

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/teslashibe/go-avatar/pkg/scene"
)

// BonePose is a bone's world placement. Rotation is (x, y, z, w).
type BonePose struct {
	Name     string     `json:"name"`
	Position [3]float64 `json:"position"`
	Rotation [4]float64 `json:"rotation"`
}

// Pose is the rig state composed on one frame, shaped for renderers.
type Pose struct {
	Time       time.Time          `json:"time"`
	Head       *BonePose          `json:"head,omitempty"`
	Eyes       []BonePose         `json:"eyes"`
	Morphs     map[string]float64 `json:"morphs"`
	Mouth      float64            `json:"mouth"`
	Happiness  float64            `json:"happiness"`
	Emote      string             `json:"emote"`
	EyeTarget  [3]float64         `json:"eyeTarget"`
	HeadTarget [3]float64         `json:"headTarget"`
}

func bonePose(name string, t scene.Transform) BonePose {
	return BonePose{
		Name:     name,
		Position: t.Position,
		Rotation: [4]float64{t.Rotation.V.X(), t.Rotation.V.Y(), t.Rotation.V.Z(), t.Rotation.W},
	}
}

func (p Pose) clone() Pose {
	out := p
	if p.Head != nil {
		h := *p.Head
		out.Head = &h
	}
	out.Eyes = append([]BonePose(nil), p.Eyes...)
	out.Morphs = make(map[string]float64, len(p.Morphs))
	for k, v := range p.Morphs {
		out.Morphs[k] = v
	}
	return out
}

func vec(v mgl64.Vec3) [3]float64 { return v }
