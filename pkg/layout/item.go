// Package layout is the typed view of a shared layout document: a replicated
// map from item id to LayoutItem.
package layout

import (
	"errors"
	"fmt"

	"github.com/a-essam23/layoutsync/pkg/catalog"
	"github.com/a-essam23/layoutsync/pkg/geometry"
)

// MinSize is the smallest width or height an item may be committed with.
const MinSize = 20

var (
	ErrInvalidItem = errors.New("invalid layout item")
	ErrDuplicateID = errors.New("item id already exists")
	ErrTypeChanged = errors.New("item type is immutable")
	ErrNotFound    = errors.New("item not found")
)

// Item is one piece of furniture on the canvas and the unit of replication.
// Writes always replace the whole item.
type Item struct {
	ID       string       `json:"id" cbor:"id"`
	Type     catalog.Type `json:"type" cbor:"type"`
	X        float64      `json:"x" cbor:"x"`
	Y        float64      `json:"y" cbor:"y"`
	Width    float64      `json:"width" cbor:"w"`
	Height   float64      `json:"height" cbor:"h"`
	Rotation float64      `json:"rotation" cbor:"r"`
	Color    string       `json:"color" cbor:"c"`
	Label    string       `json:"label,omitempty" cbor:"l,omitempty"`
}

// Bounds returns the unrotated footprint of the item.
func (it Item) Bounds() geometry.Rect {
	return geometry.Rect{X: it.X, Y: it.Y, Width: it.Width, Height: it.Height}
}

// normalize clamps size to the floor and rotation into [0, 360) and rejects
// items that can never be valid.
func (it Item) normalize() (Item, error) {
	if it.ID == "" {
		return Item{}, fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if !catalog.Valid(it.Type) {
		return Item{}, fmt.Errorf("%w: %w %q", ErrInvalidItem, catalog.ErrUnknownType, it.Type)
	}
	it.Width, it.Height = geometry.ClampSize(it.Width, it.Height, MinSize)
	it.Rotation = geometry.NormalizeRotation(it.Rotation)
	return it, nil
}

// FromTemplate builds an item of type t with the registry defaults. The
// caller provides the id and position.
func FromTemplate(id string, t catalog.Type, x, y float64) (Item, error) {
	tpl, ok := catalog.Lookup(t)
	if !ok {
		return Item{}, fmt.Errorf("%w: %q", catalog.ErrUnknownType, t)
	}
	return Item{
		ID:     id,
		Type:   t,
		X:      x,
		Y:      y,
		Width:  tpl.Width,
		Height: tpl.Height,
		Color:  tpl.Color,
	}, nil
}
