package syncclient

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

// OnStatus registers fn for status changes. fn runs on a provider goroutine
// and must not block. Returns an unsubscribe func.
func (p *Provider) OnStatus(fn func(Status)) func() {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	id := p.nextHook
	p.nextHook++
	p.statusHooks[id] = fn
	return func() {
		p.hookMu.Lock()
		delete(p.statusHooks, id)
		p.hookMu.Unlock()
	}
}

// OnPeers registers fn for the room's presence lists. A disconnect reports an
// empty list.
func (p *Provider) OnPeers(fn func(peers []string)) func() {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	id := p.nextHook
	p.nextHook++
	p.peerHooks[id] = fn
	return func() {
		p.hookMu.Lock()
		delete(p.peerHooks, id)
		p.hookMu.Unlock()
	}
}

func (p *Provider) setStatus(s Status) {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	p.mu.Unlock()

	p.logger.Debug("Status changed", slog.String("status", string(s)))
	p.hookMu.Lock()
	fns := snapshotHooks(p.statusHooks)
	p.hookMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (p *Provider) emitPeers(peers []string) {
	p.hookMu.Lock()
	fns := snapshotHooks(p.peerHooks)
	p.hookMu.Unlock()
	for _, fn := range fns {
		fn(slices.Clone(peers))
	}
}

// snapshotHooks returns the hooks in registration order.
func snapshotHooks[F any](m map[int]F) []F {
	ids := slices.Sorted(maps.Keys(m))
	fns := make([]F, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m[id])
	}
	return fns
}

// WaitStatus blocks until the provider reaches s or ctx ends.
func (p *Provider) WaitStatus(ctx context.Context, s Status) error {
	reached := make(chan struct{}, 1)
	unsubscribe := p.OnStatus(func(got Status) {
		if got == s {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if p.Status() == s {
		return nil
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
