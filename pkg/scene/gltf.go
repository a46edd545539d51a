package scene

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
)

// GLTFLoader loads .glb/.gltf avatars from a directory.
type GLTFLoader struct {
	Dir    string
	Logger *slog.Logger
}

// Load implements Loader. id is a path relative to Dir.
func (l *GLTFLoader) Load(ctx context.Context, id string) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := id
	if l.Dir != "" && !filepath.IsAbs(id) {
		path = filepath.Join(l.Dir, id)
	}
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scene: open %s: %w", path, err)
	}
	m, err := FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("scene: %s: %w", path, err)
	}
	logger.Info("model loaded", "component", "scene.gltf", "path", path,
		"bones", len(m.bones), "meshes", len(m.meshes))
	return m, nil
}

// FromDocument builds a MemoryModel from a parsed glTF document. Every named
// node becomes a Bone carrying its world transform, every mesh instance
// becomes a MorphMesh named after its node, and the first perspective camera
// in the scene (if any) becomes the model camera.
func FromDocument(doc *gltf.Document) (*MemoryModel, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}
	var (
		bones  []Bone
		meshes []Mesh
		cam    Camera
	)

	visited := make(map[int]bool)
	var visit func(idx int, parent mgl64.Mat4)
	visit = func(idx int, parent mgl64.Mat4) {
		if idx < 0 || idx >= len(doc.Nodes) || visited[idx] {
			return
		}
		visited[idx] = true
		n := doc.Nodes[idx]
		world := parent.Mul4(localMatrix(n))

		if n.Name != "" {
			bones = append(bones, NewNode(n.Name, decompose(world)))
		}
		if n.Mesh != nil {
			mi := int(*n.Mesh)
			if mi < len(doc.Meshes) {
				name := n.Name
				if name == "" {
					name = doc.Meshes[mi].Name
				}
				meshes = append(meshes, morphMeshFrom(name, doc.Meshes[mi], n.Weights))
			}
		}
		if n.Camera != nil && cam == nil {
			ci := int(*n.Camera)
			if ci < len(doc.Cameras) && doc.Cameras[ci].Perspective != nil {
				cam = perspectiveFrom(doc.Cameras[ci].Perspective, decompose(world))
			}
		}
		for _, c := range n.Children {
			visit(int(c), world)
		}
	}

	for _, root := range sceneRoots(doc) {
		visit(root, mgl64.Ident4())
	}
	return NewMemoryModel(cam, bones, meshes...), nil
}

func sceneRoots(doc *gltf.Document) []int {
	var roots []int
	switch {
	case doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes):
		for _, n := range doc.Scenes[int(*doc.Scene)].Nodes {
			roots = append(roots, int(n))
		}
	case len(doc.Scenes) > 0:
		for _, n := range doc.Scenes[0].Nodes {
			roots = append(roots, int(n))
		}
	default:
		child := make(map[int]bool)
		for _, n := range doc.Nodes {
			for _, c := range n.Children {
				child[int(c)] = true
			}
		}
		for i := range doc.Nodes {
			if !child[i] {
				roots = append(roots, i)
			}
		}
	}
	return roots
}

func localMatrix(n *gltf.Node) mgl64.Mat4 {
	m := mgl64.Mat4(n.Matrix)
	if m != (mgl64.Mat4{}) && m != mgl64.Ident4() {
		return m
	}
	t := n.Translation
	r := n.Rotation
	s := n.Scale
	rot := mgl64.Quat{W: r[3], V: mgl64.Vec3{r[0], r[1], r[2]}}
	if rot == (mgl64.Quat{}) {
		rot = mgl64.QuatIdent()
	}
	if s == ([3]float64{}) {
		s = [3]float64{1, 1, 1}
	}
	return mgl64.Translate3D(t[0], t[1], t[2]).
		Mul4(rot.Normalize().Mat4()).
		Mul4(mgl64.Scale3D(s[0], s[1], s[2]))
}

// decompose drops scale and shear and returns position plus rotation.
func decompose(m mgl64.Mat4) Transform {
	c0 := m.Col(0).Vec3().Normalize()
	c1 := m.Col(1).Vec3().Normalize()
	c2 := m.Col(2).Vec3().Normalize()
	rot := mgl64.Mat4ToQuat(mgl64.Mat3FromCols(c0, c1, c2).Mat4())
	return Transform{
		Position: m.Col(3).Vec3(),
		Rotation: rot.Normalize(),
	}
}

func morphMeshFrom(name string, mesh *gltf.Mesh, nodeWeights []float64) *MorphMesh {
	count := 0
	for _, p := range mesh.Primitives {
		if len(p.Targets) > count {
			count = len(p.Targets)
		}
	}
	names := targetNames(mesh.Extras)
	targets := make([]string, count)
	for i := range targets {
		if i < len(names) {
			targets[i] = names[i]
		} else {
			targets[i] = fmt.Sprintf("target_%d", i)
		}
	}
	mm := NewMorphMesh(name, targets...)

	weights := nodeWeights
	if len(weights) == 0 {
		weights = mesh.Weights
	}
	for i, w := range weights {
		if i < len(targets) {
			mm.SetMorphWeight(targets[i], w)
		}
	}
	return mm
}

// targetNames reads the conventional extras.targetNames array exporters
// write morph target names into.
func targetNames(extras any) []string {
	m, ok := extras.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["targetNames"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		s, _ := v.(string)
		names = append(names, s)
	}
	return names
}

func perspectiveFrom(p *gltf.Perspective, at Transform) *PerspectiveCamera {
	cam := DefaultCamera()
	cam.Position = at.Position
	cam.Target = at.Position.Add(at.Rotation.Rotate(mgl64.Vec3{0, 0, -1}))
	cam.Up = at.Rotation.Rotate(mgl64.Vec3{0, 1, 0})
	if p.Yfov > 0 {
		cam.FovY = p.Yfov
	}
	if p.AspectRatio != nil && *p.AspectRatio > 0 {
		cam.Aspect = *p.AspectRatio
	}
	if p.Znear > 0 {
		cam.Near = p.Znear
	}
	if p.Zfar != nil && *p.Zfar > cam.Near {
		cam.Far = *p.Zfar
	}
	return cam
}
