// Package geometry provides the 2D point math used by pose analysis.
//
// Coordinates are normalized image-space values in [0,1], with Y growing
// downward. Z is carried for completeness but ignored by every function here.
package geometry

import "math"

// Point is a normalized body landmark.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// AngleDegrees returns the angle at vertex b formed by the rays b→a and b→c,
// in degrees within [0,180]. A zero-length ray yields 0.
func AngleDegrees(a, b, c Point) float64 {
	abx, aby := a.X-b.X, a.Y-b.Y
	cbx, cby := c.X-b.X, c.Y-b.Y

	magAB := math.Hypot(abx, aby)
	magCB := math.Hypot(cbx, cby)
	if magAB == 0 || magCB == 0 {
		return 0
	}

	cos := (abx*cbx + aby*cby) / (magAB * magCB)
	// Floating-point overshoot can push |cos| past 1.
	cos = clamp(cos, -1, 1)

	return math.Acos(cos) * 180 / math.Pi
}

// Distance returns the 2D Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Point) Point {
	return Point{
		X: (a.X + b.X) / 2,
		Y: (a.Y + b.Y) / 2,
		Z: (a.Z + b.Z) / 2,
	}
}

// clamp restricts a value to a range.
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
