// Package world provides spatial primitives shared by the simulation
// subsystems: continuous positions, velocity vectors, and the coarse
// grid used to key beacons.
package world

import (
	"fmt"
	"math"
)

// RealmAll is the realm wildcard: state scoped to RealmAll applies everywhere.
const RealmAll = "all"

// Vec2 is a 2D vector in world units.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale returns v scaled by k.
func (v Vec2) Scale(k float64) Vec2 {
	return Vec2{X: v.X * k, Y: v.Y * k}
}

// Len returns the vector magnitude.
func (v Vec2) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

// Normalized returns a unit vector in v's direction, or the zero vector
// when v has no magnitude.
func (v Vec2) Normalized() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{X: v.X / l, Y: v.Y / l}
}

// Distance returns the euclidean distance between two points.
func Distance(a, b Vec2) float64 {
	return a.Sub(b).Len()
}

// OnRing returns the point on the circle of the given radius around center
// at the given angle (radians).
func OnRing(center Vec2, radius, angle float64) Vec2 {
	return Vec2{
		X: center.X + math.Cos(angle)*radius,
		Y: center.Y + math.Sin(angle)*radius,
	}
}

// GridCell is a quantized world position. Beacons are keyed by realm plus
// grid cell so nearby contributions land on the same beacon.
type GridCell struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
}

// Quantize maps a continuous position into a grid cell of the given size.
func Quantize(x, y, cellSize float64) GridCell {
	return GridCell{
		CX: int(math.Floor(x / cellSize)),
		CY: int(math.Floor(y / cellSize)),
	}
}

// Center returns the continuous-space center of the cell.
func (c GridCell) Center(cellSize float64) Vec2 {
	return Vec2{
		X: (float64(c.CX) + 0.5) * cellSize,
		Y: (float64(c.CY) + 0.5) * cellSize,
	}
}

// Key returns a stable string key for a realm-scoped cell, used as the
// beacon identity and the persistence row id.
func (c GridCell) Key(realm string) string {
	return fmt.Sprintf("%s:%d:%d", realm, c.CX, c.CY)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
