// Package canvas is the headless editing controller of the layout canvas. It
// turns pointer and keyboard gestures into whole-item writes on the shared
// document and derives the render list from the document plus the local
// gesture preview. Selection and previews are local and never replicated.
package canvas

import (
	"errors"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/a-essam23/layoutsync/pkg/catalog"
	"github.com/a-essam23/layoutsync/pkg/geometry"
	"github.com/a-essam23/layoutsync/pkg/layout"
	"github.com/google/uuid"
)

var (
	ErrNoSelection   = errors.New("no item selected")
	ErrUnknownItem   = errors.New("unknown item")
	ErrGestureActive = errors.New("a gesture is already in progress")
	ErrNoGesture     = errors.New("no gesture in progress")
)

type Mode int

const (
	Idle Mode = iota
	Selected
	Dragging
	Resizing
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Selected:
		return "selected"
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return "unknown"
	}
}

type Options struct {
	GridUnit        float64
	MinSize         float64
	RotationStep    float64
	NudgeMultiplier float64
	// Bounds is the canvas area committed positions are clamped into.
	Bounds geometry.Rect
	// Rand returns values in [0, 1) for new item placement.
	Rand func() float64
	// NewID names a new item of type t.
	NewID  func(t catalog.Type) string
	Logger *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		GridUnit:        20,
		MinSize:         layout.MinSize,
		RotationStep:    45,
		NudgeMultiplier: 5,
		Bounds:          geometry.Rect{Width: 800, Height: 600},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.GridUnit <= 0 {
		o.GridUnit = d.GridUnit
	}
	if o.MinSize <= 0 {
		o.MinSize = d.MinSize
	}
	if o.RotationStep == 0 {
		o.RotationStep = d.RotationStep
	}
	if o.NudgeMultiplier <= 0 {
		o.NudgeMultiplier = d.NudgeMultiplier
	}
	if o.Bounds.Empty() {
		o.Bounds = d.Bounds
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.NewID == nil {
		o.NewID = func(t catalog.Type) string { return string(t) + "-" + uuid.NewString() }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// RenderedItem is an item as it should be drawn right now.
type RenderedItem struct {
	layout.Item
	Selected bool `json:"selected"`
	// Preview marks an item shown at its in-progress gesture frame rather
	// than its committed one.
	Preview bool    `json:"preview"`
	ScaleX  float64 `json:"scaleX"`
	ScaleY  float64 `json:"scaleY"`
	// Footprint is the axis-aligned area the item covers once rotated and
	// scaled, for hit testing.
	Footprint geometry.Rect `json:"footprint"`
}

type gesture struct {
	id      string
	base    layout.Item
	preview layout.Item
	scaleX  float64
	scaleY  float64
}

// Controller never holds its own lock while writing to the document: writes
// notify observers synchronously and the controller is one of them.
type Controller struct {
	doc    *layout.Document
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	mode      Mode
	selected  string
	gesture   *gesture
	committed []layout.Item
	hooks     map[int]func([]RenderedItem)
	nextHook  int

	unobserve func()
}

// New binds a controller to doc and derives the initial render list.
func New(doc *layout.Document, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		doc:    doc,
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "canvas"), slog.String("peerID", doc.Peer())),
		hooks:  make(map[int]func([]RenderedItem)),
	}
	c.unobserve = doc.Observe(c.refresh)
	c.committed = doc.Items()
	return c
}

// Close stops following the document.
func (c *Controller) Close() {
	c.unobserve()
}

func (c *Controller) Options() Options { return c.opts }

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Selection returns the selected id, if any.
func (c *Controller) Selection() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected != ""
}

// Render returns the committed items overlaid with the active gesture preview,
// in render order.
func (c *Controller) Render() []RenderedItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderLocked()
}

func (c *Controller) renderLocked() []RenderedItem {
	out := make([]RenderedItem, 0, len(c.committed))
	for _, item := range c.committed {
		r := RenderedItem{Item: item, Selected: item.ID == c.selected, ScaleX: 1, ScaleY: 1}
		if g := c.gesture; g != nil && g.id == item.ID {
			r.Item = g.preview
			r.Preview = true
			r.ScaleX, r.ScaleY = g.scaleX, g.scaleY
		}
		box := r.Item.Bounds()
		box.Width *= r.ScaleX
		box.Height *= r.ScaleY
		r.Footprint = geometry.RotatedBounds(box, r.Item.Rotation)
		out = append(out, r)
	}
	return out
}

// OnLayoutChange registers fn, called with the render list after every
// document change and every local gesture step. fn must not write to the
// document.
func (c *Controller) OnLayoutChange(fn func([]RenderedItem)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHook
	c.nextHook++
	c.hooks[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.hooks, id)
		c.mu.Unlock()
	}
}

// refresh re-derives the committed list. A selected item that disappeared
// (deleted by a peer) drops the selection and any gesture on it.
func (c *Controller) refresh() {
	items := c.doc.Items()

	c.mu.Lock()
	c.committed = items
	if c.selected != "" && !slices.ContainsFunc(items, func(it layout.Item) bool { return it.ID == c.selected }) {
		c.logger.Debug("Selected item removed by a peer", slog.String("itemID", c.selected))
		c.selected = ""
		c.gesture = nil
		c.mode = Idle
	}
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) emit() {
	c.mu.Lock()
	rendered := c.renderLocked()
	ids := slices.Sorted(maps.Keys(c.hooks))
	fns := make([]func([]RenderedItem), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.hooks[id])
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(rendered)
	}
}

// Select makes id the single selection, replacing any previous one.
func (c *Controller) Select(id string) error {
	if !c.doc.Has(id) {
		return ErrUnknownItem
	}
	c.mu.Lock()
	if c.gesture != nil {
		c.mu.Unlock()
		return ErrGestureActive
	}
	c.selected = id
	c.mode = Selected
	c.mu.Unlock()
	c.emit()
	return nil
}

// ClearSelection handles a click on empty canvas. Any gesture is abandoned.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.selected = ""
	c.gesture = nil
	c.mode = Idle
	c.mu.Unlock()
	c.emit()
}

// selectedItem returns the committed selected item. Callers must not hold mu.
func (c *Controller) selectedItem() (layout.Item, error) {
	c.mu.Lock()
	id, busy := c.selected, c.gesture != nil
	c.mu.Unlock()
	if id == "" {
		return layout.Item{}, ErrNoSelection
	}
	if busy {
		return layout.Item{}, ErrGestureActive
	}
	item, ok := c.doc.Get(id)
	if !ok {
		return layout.Item{}, ErrUnknownItem
	}
	return item, nil
}
