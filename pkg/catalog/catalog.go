// Package catalog is the static registry of furniture templates that can be
// placed on the layout canvas.
package catalog

import (
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown item type")

// Type tags an item kind. The set is closed; see All.
type Type string

const (
	Table      Type = "table"
	Chair      Type = "chair"
	DanceFloor Type = "dance-floor"
	Bar        Type = "bar"
	Stage      Type = "stage"
	Tent       Type = "tent"
)

// Template describes the defaults used when an item of a type is created.
type Template struct {
	Type   Type    `json:"type"`
	Name   string  `json:"name"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Color  string  `json:"color"`
	Icon   string  `json:"icon"`
	// Layer orders rendering; lower layers are drawn first.
	Layer int `json:"layer"`
}

var templates = []Template{
	{Type: Table, Name: "Table", Width: 60, Height: 60, Color: "#3b82f6", Icon: "table", Layer: 2},
	{Type: Chair, Name: "Chair", Width: 20, Height: 20, Color: "#10b981", Icon: "armchair", Layer: 3},
	{Type: DanceFloor, Name: "Dance Floor", Width: 120, Height: 120, Color: "#8b5cf6", Icon: "music", Layer: 1},
	{Type: Bar, Name: "Bar", Width: 100, Height: 40, Color: "#f59e0b", Icon: "utensils", Layer: 2},
	{Type: Stage, Name: "Stage", Width: 150, Height: 80, Color: "#ef4444", Icon: "music", Layer: 1},
	{Type: Tent, Name: "Tent", Width: 400, Height: 300, Color: "#6b7280", Icon: "users", Layer: 0},
}

var byType = func() map[Type]Template {
	m := make(map[Type]Template, len(templates))
	for _, t := range templates {
		m[t.Type] = t
	}
	return m
}()

// Lookup returns the template registered for t.
func Lookup(t Type) (Template, bool) {
	tpl, ok := byType[t]
	return tpl, ok
}

// MustLookup is Lookup for callers that already validated t.
func MustLookup(t Type) Template {
	tpl, ok := byType[t]
	if !ok {
		panic(fmt.Sprintf("catalog: no template for %q", t))
	}
	return tpl
}

// Valid reports whether t belongs to the closed set of item types.
func Valid(t Type) bool {
	_, ok := byType[t]
	return ok
}

// Parse converts a raw tag into a Type.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !Valid(t) {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// All returns every template in inventory order.
func All() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}
