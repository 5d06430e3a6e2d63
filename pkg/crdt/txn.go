package crdt

import "slices"

// Txn collects the writes of one Transact call. Several writes to the same
// key inside one transaction collapse into the last one.
type Txn struct {
	m       *Map
	pending map[string]Op
	order   []string
	done    bool
}

func (tx *Txn) Set(key string, value []byte) {
	tx.check()
	tx.stage(Op{Key: key, Value: slices.Clone(value)})
}

// Delete tombstones key if it is live. Deleting an absent key does nothing,
// and deleting a key set earlier in the same transaction drops that write
// when the key did not exist before.
func (tx *Txn) Delete(key string) {
	tx.check()
	if _, staged := tx.pending[key]; staged {
		if !tx.committedLive(key) {
			delete(tx.pending, key)
			return
		}
		tx.pending[key] = Op{Key: key, Deleted: true}
		return
	}
	if !tx.committedLive(key) {
		return
	}
	tx.stage(Op{Key: key, Deleted: true})
}

// Get reads through the transaction's own writes.
func (tx *Txn) Get(key string) ([]byte, bool) {
	if op, ok := tx.pending[key]; ok {
		if op.Deleted {
			return nil, false
		}
		return op.Value, true
	}
	return tx.m.Get(key)
}

func (tx *Txn) Has(key string) bool {
	_, ok := tx.Get(key)
	return ok
}

func (tx *Txn) stage(op Op) {
	if _, seen := tx.pending[op.Key]; !seen && !slices.Contains(tx.order, op.Key) {
		tx.order = append(tx.order, op.Key)
	}
	tx.pending[op.Key] = op
}

func (tx *Txn) committedLive(key string) bool {
	_, ok := tx.m.Get(key)
	return ok
}

func (tx *Txn) check() {
	if tx.done {
		panic("crdt: transaction used after commit")
	}
}
