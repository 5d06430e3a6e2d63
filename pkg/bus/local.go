package bus

import (
	"context"
	"sync"
)

const localBuffer = 1024

// LocalBus is an in-process Bus. It behaves like Redis pub/sub: delivery is
// asynchronous and a publisher receives its own messages.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*localSub]struct{}
	closed bool
}

type localSub struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *localSub) stop() {
	s.once.Do(func() { close(s.done) })
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[*localSub]struct{})}
}

var _ Bus = (*LocalBus)(nil)

func (b *LocalBus) Publish(ctx context.Context, channel string, msg []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*localSub, 0, len(b.subs[channel]))
	for sub := range b.subs[channel] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &localSub{ch: make(chan []byte, localBuffer), done: make(chan struct{})}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*localSub]struct{})
	}
	b.subs[channel][sub] = struct{}{}

	go func() {
		for {
			select {
			case msg := <-sub.ch:
				h(msg)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs[channel], sub)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
		sub.stop()
	}
	return cancel, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.stop()
		}
	}
	b.subs = nil
	return nil
}
