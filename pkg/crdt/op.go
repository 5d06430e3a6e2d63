// Package crdt implements the replicated map behind a shared layout document:
// a last-writer-wins element map with tombstones, ordered by Lamport stamps.
//
// Values are opaque bytes. The relay merges and forwards them without knowing
// what they encode; typed access lives in the layout package.
package crdt

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/a-essam23/layoutsync/pkg/codec"
)

// Stamp orders writes. A higher Clock wins; equal clocks fall back to Peer.
type Stamp struct {
	Clock uint64 `cbor:"c"`
	Peer  string `cbor:"p"`
}

// Compare returns -1, 0 or +1 as s sorts before, equal to or after o.
func (s Stamp) Compare(o Stamp) int {
	if c := cmp.Compare(s.Clock, o.Clock); c != 0 {
		return c
	}
	return cmp.Compare(s.Peer, o.Peer)
}

// Op is one whole-value write to a key. A deleted op is a tombstone and
// carries no value.
type Op struct {
	Key     string `cbor:"k"`
	Value   []byte `cbor:"v,omitempty"`
	Deleted bool   `cbor:"d,omitempty"`
	Stamp   Stamp  `cbor:"s"`
}

// supersedes reports whether o replaces cur. Equal stamps on different ops only
// happen when a peer id is reused with a fresh clock; the tombstone, then the
// larger value, wins so replicas still agree. Identical ops never replace.
func (o Op) supersedes(cur Op) bool {
	if c := o.Stamp.Compare(cur.Stamp); c != 0 {
		return c > 0
	}
	if o.Deleted != cur.Deleted {
		return o.Deleted
	}
	return bytes.Compare(o.Value, cur.Value) > 0
}

// Update is a batch of ops produced by one transaction or one merge. It is
// the unit sent over the wire.
type Update struct {
	Ops []Op `cbor:"o"`
}

func (u Update) Empty() bool { return len(u.Ops) == 0 }

// Encode serializes the update with the codec framing.
func (u Update) Encode() ([]byte, error) {
	return codec.Marshal(u)
}

// DecodeUpdate parses bytes produced by Update.Encode.
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := codec.Unmarshal(data, &u); err != nil {
		return Update{}, err
	}
	return u, nil
}

func sortOps(ops []Op) {
	slices.SortFunc(ops, func(a, b Op) int {
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return a.Stamp.Compare(b.Stamp)
	})
}
