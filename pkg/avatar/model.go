package avatar

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/teslashibe/go-avatar/pkg/rig"
	"github.com/teslashibe/go-avatar/pkg/scene"
)

// DefaultModel returns a minimal head with two eyes and a face mesh carrying
// every morph target the rig drives. It stands in when no glTF file is
// configured.
func DefaultModel() *scene.MemoryModel {
	m := rig.DefaultConfig().Morphs
	face := scene.NewMorphMesh("face",
		m.Mouth, m.CalmClosed, m.AngryClosed, m.HappyOpen, m.AngryOpen, m.LeftLid, m.RightLid)

	return scene.NewMemoryModel(nil, []scene.Bone{
		scene.NewNode("head", scene.Transform{Position: mgl64.Vec3{0, 1, 0}}),
		scene.NewNode("eye.L", scene.Transform{Position: mgl64.Vec3{-0.1, 1.1, 0.1}}),
		scene.NewNode("eye.R", scene.Transform{Position: mgl64.Vec3{0.1, 1.1, 0.1}}),
	}, face)
}
