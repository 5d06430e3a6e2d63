package canvas

import (
	"fmt"
	"math"
	"strings"

	"github.com/a-essam23/layoutsync/pkg/catalog"
	"github.com/a-essam23/layoutsync/pkg/geometry"
	"github.com/a-essam23/layoutsync/pkg/layout"
)

type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

func (d Direction) delta() (dx, dy float64) {
	switch d {
	case Up:
		return 0, -1
	case Down:
		return 0, 1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	}
	return 0, 0
}

// Box is a resize frame: the item's position plus scale factors applied to
// its committed size.
type Box struct {
	X      float64
	Y      float64
	ScaleX float64
	ScaleY float64
}

// place snaps a committed frame to the grid and keeps it on the canvas. Sizes
// are snapped too: items created elsewhere may carry off-grid dimensions.
func (c *Controller) place(item layout.Item) layout.Item {
	g := c.opts.GridUnit
	item.Width = c.snapSize(item.Width)
	item.Height = c.snapSize(item.Height)
	item.X = geometry.Snap(item.X, g)
	item.Y = geometry.Snap(item.Y, g)
	if r := item.Bounds(); !c.opts.Bounds.Contains(r) {
		r = geometry.ClampInto(r, c.opts.Bounds)
		item.X = gridInside(r.X, c.opts.Bounds.X, g)
		item.Y = gridInside(r.Y, c.opts.Bounds.Y, g)
	}
	return item
}

// gridInside rounds a clamped coordinate down onto the grid, or up when that
// would cross the canvas's leading edge.
func gridInside(v, edge, g float64) float64 {
	down := math.Floor(v/g) * g
	if down >= edge {
		return down
	}
	return math.Ceil(edge/g) * g
}

// snapSize snaps a dimension to the grid without going under the floor.
func (c *Controller) snapSize(v float64) float64 {
	s := geometry.Snap(v, c.opts.GridUnit)
	if s < c.opts.MinSize {
		s = geometry.Snap(c.opts.MinSize, c.opts.GridUnit)
		if s < c.opts.MinSize {
			s += c.opts.GridUnit
		}
	}
	return s
}

// --- Drag ---

// BeginDrag starts dragging id, selecting it first (pointer-down on an item).
func (c *Controller) BeginDrag(id string) error {
	item, ok := c.doc.Get(id)
	if !ok {
		return ErrUnknownItem
	}
	c.mu.Lock()
	if c.gesture != nil {
		c.mu.Unlock()
		return ErrGestureActive
	}
	c.selected = id
	c.mode = Dragging
	c.gesture = &gesture{id: id, base: item, preview: item, scaleX: 1, scaleY: 1}
	c.mu.Unlock()
	c.emit()
	return nil
}

// DragTo moves the preview only. Nothing is written until EndDrag.
func (c *Controller) DragTo(x, y float64) error {
	c.mu.Lock()
	if c.mode != Dragging || c.gesture == nil {
		c.mu.Unlock()
		return ErrNoGesture
	}
	c.gesture.preview.X = x
	c.gesture.preview.Y = y
	c.mu.Unlock()
	c.emit()
	return nil
}

// EndDrag commits the snapped, clamped drop position as one write.
func (c *Controller) EndDrag() error {
	c.mu.Lock()
	if c.mode != Dragging || c.gesture == nil {
		c.mu.Unlock()
		return ErrNoGesture
	}
	g := c.gesture
	c.gesture = nil
	c.mode = Selected
	c.mu.Unlock()

	return c.commit(g.id, func(item layout.Item) layout.Item {
		item.X, item.Y = g.preview.X, g.preview.Y
		return c.place(item)
	})
}

// --- Resize ---

// BeginResize starts resizing the selected item.
func (c *Controller) BeginResize() error {
	item, err := c.selectedItem()
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.gesture != nil || c.selected != item.ID {
		c.mu.Unlock()
		return ErrGestureActive
	}
	c.mode = Resizing
	c.gesture = &gesture{id: item.ID, base: item, preview: item, scaleX: 1, scaleY: 1}
	c.mu.Unlock()
	c.emit()
	return nil
}

// ResizeTo updates the preview frame. A frame below the size floor is refused
// and the previous frame kept; the result reports whether box was accepted.
func (c *Controller) ResizeTo(box Box) (bool, error) {
	c.mu.Lock()
	if c.mode != Resizing || c.gesture == nil {
		c.mu.Unlock()
		return false, ErrNoGesture
	}
	g := c.gesture
	if g.base.Width*box.ScaleX < c.opts.MinSize || g.base.Height*box.ScaleY < c.opts.MinSize {
		c.mu.Unlock()
		return false, nil
	}
	g.preview.X, g.preview.Y = box.X, box.Y
	g.scaleX, g.scaleY = box.ScaleX, box.ScaleY
	c.mu.Unlock()
	c.emit()
	return true, nil
}

// EndResize commits absolute snapped dimensions and resets the scale.
func (c *Controller) EndResize() error {
	c.mu.Lock()
	if c.mode != Resizing || c.gesture == nil {
		c.mu.Unlock()
		return ErrNoGesture
	}
	g := c.gesture
	c.gesture = nil
	c.mode = Selected
	c.mu.Unlock()

	return c.commit(g.id, func(item layout.Item) layout.Item {
		item.Width = c.snapSize(g.base.Width * g.scaleX)
		item.Height = c.snapSize(g.base.Height * g.scaleY)
		item.X, item.Y = g.preview.X, g.preview.Y
		return c.place(item)
	})
}

// CancelGesture drops the preview and keeps the selection.
func (c *Controller) CancelGesture() {
	c.mu.Lock()
	if c.gesture == nil {
		c.mu.Unlock()
		return
	}
	c.gesture = nil
	c.mode = Selected
	c.mu.Unlock()
	c.emit()
}

// --- Single-step edits ---

// Rotate turns the selected item by the rotation step.
func (c *Controller) Rotate() error {
	item, err := c.selectedItem()
	if err != nil {
		return err
	}
	item.Rotation = geometry.NormalizeRotation(item.Rotation + c.opts.RotationStep)
	return c.doc.Set(item)
}

// Nudge moves the selected item one grid unit, or NudgeMultiplier units when
// large is set.
func (c *Controller) Nudge(dir Direction, large bool) error {
	item, err := c.selectedItem()
	if err != nil {
		return err
	}
	step := c.opts.GridUnit
	if large {
		step *= c.opts.NudgeMultiplier
	}
	dx, dy := dir.delta()
	item.X += dx * step
	item.Y += dy * step
	return c.doc.Set(c.place(item))
}

// DeleteSelected removes the selected item and clears the selection.
func (c *Controller) DeleteSelected() error {
	c.mu.Lock()
	id := c.selected
	c.mu.Unlock()
	if id == "" {
		return ErrNoSelection
	}
	c.DeleteItem(id)
	return nil
}

// DeleteItem removes id. Deleting an unknown id is a no-op.
func (c *Controller) DeleteItem(id string) {
	c.mu.Lock()
	if c.selected == id {
		c.selected = ""
		c.gesture = nil
		c.mode = Idle
	}
	c.mu.Unlock()
	c.doc.Delete(id)
	c.emit()
}

// AddItem places a new item of type t from its template at a random on-canvas
// position, with grid-aligned dimensions.
func (c *Controller) AddItem(t catalog.Type) (layout.Item, error) {
	tpl, ok := catalog.Lookup(t)
	if !ok {
		return layout.Item{}, fmt.Errorf("%w: %q", catalog.ErrUnknownType, t)
	}
	id := c.opts.NewID(t)
	item := layout.Item{
		ID:     id,
		Type:   t,
		X:      100 + c.opts.Rand()*200,
		Y:      100 + c.opts.Rand()*200,
		Width:  c.snapSize(tpl.Width),
		Height: c.snapSize(tpl.Height),
		Color:  tpl.Color,
		Label:  tpl.Name + " " + shortID(id),
	}
	item = c.place(item)
	if err := c.doc.Create(item); err != nil {
		return layout.Item{}, err
	}
	return item, nil
}

func shortID(id string) string {
	if i := strings.LastIndexByte(id, '-'); i >= 0 && i+1 < len(id) {
		id = id[i+1:]
	}
	if len(id) > 6 {
		id = id[:6]
	}
	return id
}

// commit rewrites the latest committed version of id. The item may have
// changed remotely since the gesture began; only the gesture's fields win.
func (c *Controller) commit(id string, apply func(layout.Item) layout.Item) error {
	item, ok := c.doc.Get(id)
	if !ok {
		c.emit()
		return ErrUnknownItem
	}
	if err := c.doc.Set(apply(item)); err != nil {
		c.emit()
		return err
	}
	return nil
}
