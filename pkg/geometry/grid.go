// Package geometry holds the grid and coordinate helpers shared by the canvas
// controller and the seed planner. Every function here is pure.
package geometry

import "math"

// Snap rounds value to the nearest multiple of gridUnit. Halves round away
// from zero. A non-positive gridUnit returns value unchanged.
func Snap(value, gridUnit float64) float64 {
	if gridUnit <= 0 {
		return value
	}
	// adding +0 folds a negative zero into zero.
	return math.Round(value/gridUnit)*gridUnit + 0
}

// ClampSize enforces minimum as a floor on both dimensions.
func ClampSize(width, height, minimum float64) (float64, float64) {
	return math.Max(width, minimum), math.Max(height, minimum)
}

// NormalizeRotation reduces degrees into [0, 360).
func NormalizeRotation(degrees float64) float64 {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return 0
	}
	r := math.Mod(degrees, 360)
	if r < 0 {
		r += 360
	}
	// tiny negative inputs can land exactly on 360 after the shift.
	if r >= 360 {
		r = 0
	}
	return r + 0
}
