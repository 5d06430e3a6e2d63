package layout

import (
	"cmp"
	"fmt"
	"iter"
	"slices"

	"github.com/a-essam23/layoutsync/pkg/catalog"
	"github.com/a-essam23/layoutsync/pkg/codec"
	"github.com/a-essam23/layoutsync/pkg/crdt"
)

// Document is one room's shared layout. It is constructed per room session and
// passed explicitly to the canvas controller, the sync provider and the seed
// applier.
type Document struct {
	m *crdt.Map
}

// NewDocument returns an empty document whose local writes are stamped with peer.
func NewDocument(peer string) *Document {
	return &Document{m: crdt.New(peer)}
}

// Map exposes the underlying replicated map to transports.
func (d *Document) Map() *crdt.Map { return d.m }

func (d *Document) Peer() string { return d.m.Peer() }

// Transact runs fn as one atomic batch: peers receive it as a single update
// and observers are notified once. If fn returns an error nothing is written.
func (d *Document) Transact(fn func(tx *Tx) error) error {
	return d.m.Transact(nil, func(t *crdt.Txn) error {
		return fn(&Tx{t: t})
	})
}

// Set inserts item or replaces the item with the same id.
func (d *Document) Set(item Item) error {
	return d.Transact(func(tx *Tx) error { return tx.Set(item) })
}

// Create inserts item and fails with ErrDuplicateID if its id is taken.
func (d *Document) Create(item Item) error {
	return d.Transact(func(tx *Tx) error { return tx.Create(item) })
}

// Delete removes the item. Unknown ids are ignored.
func (d *Document) Delete(id string) {
	d.m.Delete(id)
}

func (d *Document) Get(id string) (Item, bool) {
	raw, ok := d.m.Get(id)
	if !ok {
		return Item{}, false
	}
	return decodeItem(raw)
}

func (d *Document) Has(id string) bool {
	_, ok := d.m.Get(id)
	return ok
}

func (d *Document) Len() int { return d.m.Len() }

func (d *Document) Empty() bool { return d.m.Len() == 0 }

// Entries yields the items present when Entries was called. Values that fail
// to decode are skipped.
func (d *Document) Entries() iter.Seq2[string, Item] {
	raw := d.m.Entries()
	return func(yield func(string, Item) bool) {
		for id, v := range raw {
			item, ok := decodeItem(v)
			if !ok {
				continue
			}
			if !yield(id, item) {
				return
			}
		}
	}
}

// Items returns a snapshot ordered for rendering: lower catalog layers first,
// then by id. Callers own the returned slice.
func (d *Document) Items() []Item {
	var items []Item
	for _, item := range d.Entries() {
		items = append(items, item)
	}
	SortForRender(items)
	return items
}

// Observe registers fn to run after every visible change, local or remote.
// fn must not write to the document.
func (d *Document) Observe(fn func()) func() {
	return d.m.Observe(fn)
}

// SortForRender orders items by catalog layer, then id.
func SortForRender(items []Item) {
	slices.SortFunc(items, func(a, b Item) int {
		la, lb := layerOf(a.Type), layerOf(b.Type)
		if c := cmp.Compare(la, lb); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func layerOf(t catalog.Type) int {
	if tpl, ok := catalog.Lookup(t); ok {
		return tpl.Layer
	}
	return 0
}

// Tx is the typed view of one document transaction.
type Tx struct {
	t *crdt.Txn
}

func (tx *Tx) Set(item Item) error {
	item, err := item.normalize()
	if err != nil {
		return err
	}
	if raw, ok := tx.t.Get(item.ID); ok {
		if cur, ok := decodeItem(raw); ok && cur.Type != item.Type {
			return fmt.Errorf("%w: %s is a %s", ErrTypeChanged, item.ID, cur.Type)
		}
	}
	data, err := codec.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	tx.t.Set(item.ID, data)
	return nil
}

func (tx *Tx) Create(item Item) error {
	if tx.t.Has(item.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
	}
	return tx.Set(item)
}

func (tx *Tx) Delete(id string) {
	tx.t.Delete(id)
}

func (tx *Tx) Get(id string) (Item, bool) {
	raw, ok := tx.t.Get(id)
	if !ok {
		return Item{}, false
	}
	return decodeItem(raw)
}

func decodeItem(raw []byte) (Item, bool) {
	var item Item
	if err := codec.Unmarshal(raw, &item); err != nil {
		return Item{}, false
	}
	return item, true
}
