package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// PerspectiveCamera is a pinhole camera.
type PerspectiveCamera struct {
	Position mgl64.Vec3
	Target   mgl64.Vec3
	Up       mgl64.Vec3
	FovY     float64 // radians
	Aspect   float64
	Near     float64
	Far      float64
}

// DefaultCamera sits 5 units in front of the origin looking down -Z with a
// 75 degree vertical field of view.
func DefaultCamera() *PerspectiveCamera {
	return &PerspectiveCamera{
		Position: mgl64.Vec3{0, 0, 5},
		Target:   mgl64.Vec3{0, 0, 0},
		Up:       mgl64.Vec3{0, 1, 0},
		FovY:     mgl64.DegToRad(75),
		Aspect:   1,
		Near:     0.1,
		Far:      1000,
	}
}

// View returns the view matrix.
func (c *PerspectiveCamera) View() mgl64.Mat4 {
	return mgl64.LookAtV(c.Position, c.Target, c.Up)
}

// Projection returns the projection matrix.
func (c *PerspectiveCamera) Projection() mgl64.Mat4 {
	aspect := c.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	return mgl64.Perspective(c.FovY, aspect, c.Near, c.Far)
}

// Ray implements Camera by unprojecting the NDC point on the near and far
// planes.
func (c *PerspectiveCamera) Ray(ndcX, ndcY float64) Ray {
	inv := c.Projection().Mul4(c.View()).Inv()
	near := unproject(inv, mgl64.Vec4{ndcX, ndcY, -1, 1})
	far := unproject(inv, mgl64.Vec4{ndcX, ndcY, 1, 1})
	return Ray{Origin: c.Position, Dir: far.Sub(near).Normalize()}
}

func unproject(inv mgl64.Mat4, v mgl64.Vec4) mgl64.Vec3 {
	p := inv.Mul4x1(v)
	if p.W() == 0 {
		return p.Vec3()
	}
	return p.Vec3().Mul(1 / p.W())
}

// Plane is an infinite plane through Point with unit Normal.
type Plane struct {
	Point  mgl64.Vec3
	Normal mgl64.Vec3
}

// Intersect returns where r crosses the plane. Rays parallel to the plane or
// pointing away from it miss.
func (p Plane) Intersect(r Ray) (mgl64.Vec3, bool) {
	denom := p.Normal.Dot(r.Dir)
	if math.Abs(denom) < 1e-9 {
		return mgl64.Vec3{}, false
	}
	t := p.Point.Sub(r.Origin).Dot(p.Normal) / denom
	if t < 0 {
		return mgl64.Vec3{}, false
	}
	return r.Origin.Add(r.Dir.Mul(t)), true
}
