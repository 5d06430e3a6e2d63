// Package seed bulk-populates a layout document from an AI venue
// recommendation.
package seed

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/a-essam23/layoutsync/pkg/catalog"
	"github.com/a-essam23/layoutsync/pkg/layout"
	"github.com/tidwall/gjson"
)

// DefaultTables is used when a recommendation has no usable table count.
const DefaultTables = 6

const (
	tableOriginX = 120
	tableOriginY = 120
	tableSpacing = 80
)

// Recommendation is the part of an AI venue recommendation the planner uses.
type Recommendation struct {
	Tables int `json:"tables"`
}

// ParseRecommendation reads the table count out of a recommendation payload.
// Every other field is ignored.
func ParseRecommendation(data []byte) (Recommendation, error) {
	if !gjson.ValidBytes(data) {
		return Recommendation{}, errors.New("invalid recommendation json")
	}
	var rec Recommendation
	if v := gjson.GetBytes(data, "tables"); v.Type == gjson.Number {
		rec.Tables = int(v.Int())
	}
	return rec, nil
}

func (r Recommendation) tables() int {
	if r.Tables <= 0 {
		return DefaultTables
	}
	return r.Tables
}

// Plan returns the deterministic layout for rec: one tent, the tables in a
// square-ish grid, one dance floor and one bar. Ids are stable so that two
// peers planning the same recommendation write the same keys.
func Plan(rec Recommendation) []layout.Item {
	n := rec.tables()
	cols := int(math.Ceil(math.Sqrt(float64(n))))

	items := make([]layout.Item, 0, n+3)
	items = append(items, item("tent-1", catalog.Tent, 60, 60, "Main Tent"))
	for i := range n {
		row, col := i/cols, i%cols
		x := float64(tableOriginX + col*tableSpacing)
		y := float64(tableOriginY + row*tableSpacing)
		items = append(items, item("table-"+strconv.Itoa(i+1), catalog.Table, x, y, "Table "+strconv.Itoa(i+1)))
	}
	items = append(items,
		item("dance-floor-1", catalog.DanceFloor, 300, 120, "Dance Floor"),
		item("bar-1", catalog.Bar, 100, 300, "Bar"),
	)
	return items
}

func item(id string, t catalog.Type, x, y float64, label string) layout.Item {
	tpl := catalog.MustLookup(t)
	return layout.Item{
		ID:     id,
		Type:   t,
		X:      x,
		Y:      y,
		Width:  tpl.Width,
		Height: tpl.Height,
		Color:  tpl.Color,
		Label:  label,
	}
}

// Apply seeds doc with the plan for rec if doc is empty, as one transaction.
// It reports whether anything was written. Two peers seeding at the same time
// may both see an empty document; their writes then converge on the same ids.
func Apply(doc *layout.Document, rec Recommendation) (bool, error) {
	if !doc.Empty() {
		return false, nil
	}
	if err := write(doc, Plan(rec)); err != nil {
		return false, err
	}
	return true, nil
}

// Rearrange commits the plan for rec regardless of what doc holds. Items with
// other ids are left alone.
func Rearrange(doc *layout.Document, rec Recommendation) error {
	return write(doc, Plan(rec))
}

func write(doc *layout.Document, items []layout.Item) error {
	err := doc.Transact(func(tx *layout.Tx) error {
		for _, it := range items {
			if err := tx.Set(it); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed layout: %w", err)
	}
	return nil
}
