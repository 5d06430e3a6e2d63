package crdt

import (
	"iter"
	"slices"
	"sort"
	"sync"
)

// Map is a last-writer-wins element map. It is safe for concurrent use.
//
// Transactions, merges and the notifications they trigger are serialized, so
// an observer never sees a partially applied batch. Observers and update
// handlers run synchronously on the goroutine that committed the change and
// must not write to the map.
type Map struct {
	peer string

	mu      sync.RWMutex // guards entries and clock
	entries map[string]Op
	clock   uint64

	txMu sync.Mutex // serializes commit, merge and notification

	hooksMu   sync.Mutex
	nextHook  int
	observers map[int]func()
	handlers  map[int]func(Update, any)
}

// New returns an empty map whose local writes are stamped with peer.
func New(peer string) *Map {
	return &Map{
		peer:      peer,
		entries:   make(map[string]Op),
		observers: make(map[int]func()),
		handlers:  make(map[int]func(Update, any)),
	}
}

func (m *Map) Peer() string { return m.peer }

// Clock returns the current Lamport clock.
func (m *Map) Clock() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock
}

// Transact runs fn and commits its writes as one update. When fn returns an
// error nothing is committed. origin is handed to update handlers so a
// transport can recognize its own writes.
func (m *Map) Transact(origin any, fn func(tx *Txn) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &Txn{m: m, pending: make(map[string]Op)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.done = true
	if len(tx.order) == 0 {
		return nil
	}

	m.mu.Lock()
	ops := make([]Op, 0, len(tx.order))
	for _, key := range tx.order {
		op, ok := tx.pending[key]
		if !ok {
			continue
		}
		m.clock++
		op.Stamp = Stamp{Clock: m.clock, Peer: m.peer}
		m.entries[key] = op
		ops = append(ops, op)
	}
	m.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	m.notify(Update{Ops: ops}, origin, true)
	return nil
}

// Set writes value at key in its own transaction.
func (m *Map) Set(key string, value []byte) {
	_ = m.Transact(nil, func(tx *Txn) error {
		tx.Set(key, value)
		return nil
	})
}

// Delete removes key in its own transaction. Deleting an absent key is a no-op.
func (m *Map) Delete(key string) {
	_ = m.Transact(nil, func(tx *Txn) error {
		tx.Delete(key)
		return nil
	})
}

// Get returns the live value at key. The returned slice must not be modified.
func (m *Map) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.entries[key]
	if !ok || op.Deleted {
		return nil, false
	}
	return op.Value, true
}

// Len returns the number of live keys.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, op := range m.entries {
		if !op.Deleted {
			n++
		}
	}
	return n
}

// Entries returns the live key/value pairs as they were when Entries was
// called. The sequence can be ranged over any number of times.
func (m *Map) Entries() iter.Seq2[string, []byte] {
	m.mu.RLock()
	snap := make([]Op, 0, len(m.entries))
	for _, op := range m.entries {
		if !op.Deleted {
			snap = append(snap, op)
		}
	}
	m.mu.RUnlock()
	sortOps(snap)

	return func(yield func(string, []byte) bool) {
		for _, op := range snap {
			if !yield(op.Key, op.Value) {
				return
			}
		}
	}
}

// State returns every entry, tombstones included, sorted by key. Merging it
// into any replica brings that replica at least up to this one.
func (m *Map) State() Update {
	m.mu.RLock()
	ops := make([]Op, 0, len(m.entries))
	for _, op := range m.entries {
		ops = append(ops, op)
	}
	m.mu.RUnlock()
	sortOps(ops)
	return Update{Ops: ops}
}

// Apply merges remote ops and returns the ones that changed local state, in
// the order they were applied. Ops that lose to the current entry, including
// duplicates, are dropped. Observers fire once if any live value changed.
func (m *Map) Apply(u Update, origin any) Update {
	if u.Empty() {
		return Update{}
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	var (
		changed []Op
		visible bool
	)
	for _, op := range u.Ops {
		if op.Stamp.Clock > m.clock {
			m.clock = op.Stamp.Clock
		}
		cur, exists := m.entries[op.Key]
		if exists && !op.supersedes(cur) {
			continue
		}
		if op.Deleted {
			op.Value = nil
		} else {
			op.Value = slices.Clone(op.Value)
		}
		m.entries[op.Key] = op
		changed = append(changed, op)
		if !op.Deleted || (exists && !cur.Deleted) {
			visible = true
		}
	}
	m.mu.Unlock()

	if len(changed) == 0 {
		return Update{}
	}
	out := Update{Ops: changed}
	m.notify(out, origin, visible)
	return out
}

// Observe registers fn to run after every visible change. The returned func
// removes it.
func (m *Map) Observe(fn func()) func() {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	id := m.nextHook
	m.nextHook++
	m.observers[id] = fn
	return func() {
		m.hooksMu.Lock()
		defer m.hooksMu.Unlock()
		delete(m.observers, id)
	}
}

// OnUpdate registers fn to receive every state-changing batch together with
// the origin that produced it. Tombstones that hide nothing are included.
func (m *Map) OnUpdate(fn func(u Update, origin any)) func() {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	id := m.nextHook
	m.nextHook++
	m.handlers[id] = fn
	return func() {
		m.hooksMu.Lock()
		defer m.hooksMu.Unlock()
		delete(m.handlers, id)
	}
}

func (m *Map) notify(u Update, origin any, visible bool) {
	m.hooksMu.Lock()
	handlers := sortedHooks(m.handlers)
	var observers []func()
	if visible {
		observers = sortedHooks(m.observers)
	}
	m.hooksMu.Unlock()

	for _, h := range handlers {
		h(u, origin)
	}
	for _, o := range observers {
		o()
	}
}

func sortedHooks[F any](hooks map[int]F) []F {
	ids := make([]int, 0, len(hooks))
	for id := range hooks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]F, len(ids))
	for i, id := range ids {
		out[i] = hooks[id]
	}
	return out
}
