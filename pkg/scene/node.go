package scene

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Node is an in-memory Bone.
type Node struct {
	name string

	mu    sync.RWMutex
	world Transform
}

// NewNode creates a node at t.
func NewNode(name string, t Transform) *Node {
	if t.Rotation == (mgl64.Quat{}) {
		t.Rotation = mgl64.QuatIdent()
	}
	return &Node{name: name, world: t}
}

// Name implements Bone.
func (n *Node) Name() string { return n.name }

// World implements Bone.
func (n *Node) World() Transform {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.world
}

// SetWorld implements Bone.
func (n *Node) SetWorld(t Transform) {
	n.mu.Lock()
	n.world = t
	n.mu.Unlock()
}

// MorphMesh is an in-memory Mesh.
type MorphMesh struct {
	name    string
	targets []string

	mu      sync.RWMutex
	weights map[string]float64
}

// NewMorphMesh creates a mesh with the given target names, all weighted 0.
func NewMorphMesh(name string, targets ...string) *MorphMesh {
	m := &MorphMesh{
		name:    name,
		targets: append([]string(nil), targets...),
		weights: make(map[string]float64, len(targets)),
	}
	for _, t := range targets {
		m.weights[t] = 0
	}
	return m
}

// Name implements Mesh.
func (m *MorphMesh) Name() string { return m.name }

// MorphTargets implements Mesh.
func (m *MorphMesh) MorphTargets() []string {
	return append([]string(nil), m.targets...)
}

// SetMorphWeight implements Mesh.
func (m *MorphMesh) SetMorphWeight(target string, w float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.weights[target]; !ok {
		return false
	}
	m.weights[target] = w
	return true
}

// MorphWeight implements Mesh.
func (m *MorphMesh) MorphWeight(target string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.weights[target]
	return w, ok
}

// Weights returns a copy of every weight.
func (m *MorphMesh) Weights() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.weights))
	for k, v := range m.weights {
		out[k] = v
	}
	return out
}

// MemoryModel is a Model assembled in code.
type MemoryModel struct {
	bones  map[string]Bone
	meshes []Mesh
	camera Camera
}

// NewMemoryModel creates a model. A nil camera uses DefaultCamera.
func NewMemoryModel(cam Camera, bones []Bone, meshes ...Mesh) *MemoryModel {
	if cam == nil {
		cam = DefaultCamera()
	}
	m := &MemoryModel{
		bones:  make(map[string]Bone, len(bones)),
		meshes: meshes,
		camera: cam,
	}
	for _, b := range bones {
		m.bones[b.Name()] = b
	}
	return m
}

// Bone implements Model.
func (m *MemoryModel) Bone(name string) (Bone, bool) {
	b, ok := m.bones[name]
	return b, ok
}

// Bones implements Model, sorted by name.
func (m *MemoryModel) Bones() []Bone {
	out := make([]Bone, 0, len(m.bones))
	for _, b := range m.bones {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Meshes implements Model.
func (m *MemoryModel) Meshes() []Mesh { return m.meshes }

// Camera implements Model.
func (m *MemoryModel) Camera() Camera { return m.camera }
