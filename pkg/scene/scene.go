// Package scene defines the handles the rig writes into every frame: named
// bones, meshes with morph targets and the camera used for ray casting.
// The renderer owns the real objects; this package only describes them and
// provides an in-memory model plus a glTF loader.
package scene

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"
)

// Transform is a world-space placement.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Identity returns a transform at the origin with no rotation.
func Identity() Transform {
	return Transform{Rotation: mgl64.QuatIdent()}
}

// Bone is a named skeleton joint positioned in world space.
type Bone interface {
	Name() string
	World() Transform
	SetWorld(Transform)
}

// Mesh is a mesh with named morph targets.
type Mesh interface {
	Name() string
	MorphTargets() []string
	// SetMorphWeight sets a weight and reports whether the target exists.
	SetMorphWeight(target string, weight float64) bool
	MorphWeight(target string) (float64, bool)
}

// Ray is a half-line in world space. Dir is unit length.
type Ray struct {
	Origin mgl64.Vec3
	Dir    mgl64.Vec3
}

// Camera turns normalised device coordinates into world rays.
type Camera interface {
	Ray(ndcX, ndcY float64) Ray
}

// Model is a loaded avatar.
type Model interface {
	Bone(name string) (Bone, bool)
	Bones() []Bone
	Meshes() []Mesh
	Camera() Camera
}

// Loader resolves a model identifier to a Model.
type Loader interface {
	Load(ctx context.Context, id string) (Model, error)
}
