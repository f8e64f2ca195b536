package engine

import "math"

// Vec3 is a position in meters
type Vec3 struct {
	X float64 `yaml:"x" toml:"x" json:"x"`
	Y float64 `yaml:"y" toml:"y" json:"y"`
	Z float64 `yaml:"z" toml:"z" json:"z"`
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Unit returns v scaled to length 1, or false for the zero vector
func (v Vec3) Unit() ([3]float64, bool) {
	l := v.Len()
	if l == 0 {
		return [3]float64{}, false
	}
	return [3]float64{v.X / l, v.Y / l, v.Z / l}, true
}
