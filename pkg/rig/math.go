package rig

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// stepToward moves cur toward target by at most maxStep. It never
// overshoots.
func stepToward(cur, target mgl64.Vec3, maxStep float64) mgl64.Vec3 {
	d := target.Sub(cur)
	dist := d.Len()
	if dist <= maxStep || dist == 0 {
		return target
	}
	return cur.Add(d.Mul(maxStep / dist))
}

// lookRotation returns the rotation that points an object's +Z axis from
// eye toward target, keeping +Y as close to up as possible.
func lookRotation(eye, target mgl64.Vec3) mgl64.Quat {
	up := mgl64.Vec3{0, 1, 0}
	z := target.Sub(eye)
	if z.Len() < 1e-9 {
		z = mgl64.Vec3{0, 0, 1}
	}
	z = z.Normalize()
	x := up.Cross(z)
	if x.Len() < 1e-9 {
		// Looking straight up or down; nudge the reference axis.
		z = mgl64.Vec3{z.X() + 1e-4, z.Y(), z.Z()}.Normalize()
		x = up.Cross(z)
	}
	x = x.Normalize()
	y := z.Cross(x)
	return mgl64.Mat4ToQuat(mgl64.Mat3FromCols(x, y, z).Mat4()).Normalize()
}

// eulerXYZ builds a quaternion from intrinsic XYZ Euler angles.
func eulerXYZ(e [3]float64) mgl64.Quat {
	qx := mgl64.QuatRotate(e[0], mgl64.Vec3{1, 0, 0})
	qy := mgl64.QuatRotate(e[1], mgl64.Vec3{0, 1, 0})
	qz := mgl64.QuatRotate(e[2], mgl64.Vec3{0, 0, 1})
	return qx.Mul(qy).Mul(qz)
}

func bob(amplitude, periodSec, tSec float64) float64 {
	if periodSec <= 0 {
		return 0
	}
	return amplitude * math.Sin(2*math.Pi*tSec/periodSec)
}
