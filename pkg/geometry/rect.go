package geometry

import "math"

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned box in canvas pixel-space, anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains reports whether other lies entirely inside r.
func (r Rect) Contains(other Rect) bool {
	return other.X >= r.X && other.Y >= r.Y &&
		other.X+other.Width <= r.X+r.Width &&
		other.Y+other.Height <= r.Y+r.Height
}

// ClampInto moves item so that it stays inside bounds. Items larger than the
// bounds are pinned to the top-left edge. An empty bounds leaves item untouched.
func ClampInto(item, bounds Rect) Rect {
	if bounds.Empty() {
		return item
	}
	maxX := bounds.X + bounds.Width - item.Width
	maxY := bounds.Y + bounds.Height - item.Height
	item.X = math.Max(bounds.X, math.Min(item.X, maxX))
	item.Y = math.Max(bounds.Y, math.Min(item.Y, maxY))
	return item
}

// RotatePoint rotates p clockwise by degrees around center (screen coordinates, y down).
func RotatePoint(p, center Point, degrees float64) Point {
	rad := degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)
	dx, dy := p.X-center.X, p.Y-center.Y
	return Point{
		X: center.X + dx*cos - dy*sin,
		Y: center.Y + dx*sin + dy*cos,
	}
}

// RotatedBounds returns the axis-aligned bounding box of r rotated by degrees
// around its top-left corner, which is how the canvas applies rotation.
func RotatedBounds(r Rect, degrees float64) Rect {
	origin := Point{X: r.X, Y: r.Y}
	corners := [4]Point{
		origin,
		{X: r.X + r.Width, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y + r.Height},
		{X: r.X, Y: r.Y + r.Height},
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		p := RotatePoint(c, origin, degrees)
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
