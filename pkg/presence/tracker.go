// Package presence tracks which collaborators are connected to a room, as
// reported by the relay through the sync provider.
package presence

import (
	"slices"
	"sync"

	"github.com/a-essam23/layoutsync/pkg/syncclient"
)

// Source is the part of syncclient.Provider the tracker listens to.
type Source interface {
	Peer() string
	Status() syncclient.Status
	OnStatus(fn func(syncclient.Status)) func()
	OnPeers(fn func(peers []string)) func()
}

var _ Source = (*syncclient.Provider)(nil)

// Tracker holds the set of other peers in the room. The local peer is never
// part of the set, and the set is cleared whenever the connection drops.
type Tracker struct {
	self string

	mu        sync.RWMutex
	peers     map[string]struct{}
	connected bool
	hooks     map[int]func()
	nextHook  int
}

func New(self string) *Tracker {
	return &Tracker{
		self:  self,
		peers: make(map[string]struct{}),
		hooks: make(map[int]func()),
	}
}

// Attach builds a tracker fed by src. The returned func detaches it.
func Attach(src Source) (*Tracker, func()) {
	t := New(src.Peer())
	offStatus := src.OnStatus(t.SetStatus)
	offPeers := src.OnPeers(t.SetPeers)
	t.SetStatus(src.Status())
	return t, func() {
		offStatus()
		offPeers()
	}
}

// SetStatus records the local connection status. Anything but connected
// clears the set.
func (t *Tracker) SetStatus(s syncclient.Status) {
	t.mu.Lock()
	connected := s == syncclient.StatusConnected
	changed := connected != t.connected
	t.connected = connected
	if !connected && len(t.peers) > 0 {
		clear(t.peers)
		changed = true
	}
	t.mu.Unlock()
	if changed {
		t.emit()
	}
}

// SetPeers replaces the set with a presence list from the relay.
func (t *Tracker) SetPeers(peers []string) {
	next := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		if p == "" || p == t.self {
			continue
		}
		next[p] = struct{}{}
	}

	t.mu.Lock()
	changed := len(next) != len(t.peers)
	if !changed {
		for p := range next {
			if _, ok := t.peers[p]; !ok {
				changed = true
				break
			}
		}
	}
	t.peers = next
	t.mu.Unlock()
	if changed {
		t.emit()
	}
}

// Online returns the other connected peers, sorted.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func (t *Tracker) IsOnline(peer string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[peer]
	return ok
}

// Connected reports whether the local peer is connected to the relay.
func (t *Tracker) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// OnChange registers fn, called after the set or the connected flag changes.
func (t *Tracker) OnChange(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextHook
	t.nextHook++
	t.hooks[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.hooks, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) emit() {
	t.mu.RLock()
	ids := make([]int, 0, len(t.hooks))
	for id := range t.hooks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.hooks[id])
	}
	t.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
