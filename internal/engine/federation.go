package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a-essam23/layoutsync/pkg/bus"
	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/a-essam23/layoutsync/pkg/pipeline"
	"github.com/a-essam23/layoutsync/pkg/protocol"
	"github.com/a-essam23/layoutsync/pkg/state"
)

// Federation links the rooms of several relay processes over a bus. Every
// relay holding a room subscribes to the room's channel, publishes the changes
// it merges locally, and merges what the others publish. Bus frames use the
// client envelope with the relay's instance id as peer.
type Federation struct {
	ctx        context.Context
	bus        bus.Bus
	instanceID string
	manager    state.Manager
	logger     *slog.Logger

	mu   sync.Mutex
	subs map[string]*roomSub
}

type roomSub struct {
	room   *state.Room
	cancel func()
}

var _ pipeline.Publisher = (*Federation)(nil)

// NewFederation builds a federation bound to ctx; subscriptions end with it.
func NewFederation(ctx context.Context, b bus.Bus, instanceID string, manager state.Manager, logger *slog.Logger) *Federation {
	return &Federation{
		ctx:        ctx,
		bus:        b,
		instanceID: instanceID,
		manager:    manager,
		logger:     logger.With(slog.String("component", "federation"), slog.String("instance", instanceID)),
		subs:       make(map[string]*roomSub),
	}
}

func (f *Federation) InstanceID() string { return f.instanceID }

// OpenRoom subscribes to a freshly created room and asks the other relays for
// their state.
func (f *Federation) OpenRoom(room *state.Room) error {
	roomID := room.ID
	cancel, err := f.bus.Subscribe(f.ctx, roomID, func(msg []byte) {
		f.handleBusMessage(roomID, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to room '%s': %w", roomID, err)
	}

	f.mu.Lock()
	if old, ok := f.subs[roomID]; ok {
		old.cancel()
	}
	f.subs[roomID] = &roomSub{room: room, cancel: cancel}
	f.mu.Unlock()

	room.MergeMu.Lock()
	defer room.MergeMu.Unlock()
	if err := f.publish(roomID, protocol.TypeSync, room.Doc.State()); err != nil {
		return err
	}
	f.logger.Debug("Room opened on bus", slog.String("roomID", roomID))
	return nil
}

// CloseRoom drops the subscription of a room that emptied. A room recreated
// under the same id meanwhile keeps its subscription.
func (f *Federation) CloseRoom(room *state.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[room.ID]
	if !ok || s.room != room {
		return
	}
	s.cancel()
	delete(f.subs, room.ID)
	f.logger.Debug("Room closed on bus", slog.String("roomID", room.ID))
}

// PublishUpdate is called with the room's merge lock held, so the bus sees a
// room's changes in merge order.
func (f *Federation) PublishUpdate(ctx context.Context, roomID string, u crdt.Update) {
	if err := f.publish(roomID, protocol.TypeUpdate, u); err != nil {
		f.logger.Error("Failed to publish update", slog.String("roomID", roomID), slog.Any("error", err))
	}
}

func (f *Federation) publish(roomID string, t protocol.Type, u crdt.Update) error {
	msg, err := protocol.EncodeUpdate(t, roomID, f.instanceID, u)
	if err != nil {
		return err
	}
	if err := f.bus.Publish(f.ctx, roomID, msg); err != nil {
		return fmt.Errorf("failed to publish %s for room '%s': %w", t, roomID, err)
	}
	return nil
}

func (f *Federation) handleBusMessage(roomID string, msg []byte) {
	if protocol.PeekPeer(msg) == f.instanceID {
		return
	}
	m, err := protocol.Decode(msg)
	if err != nil {
		f.logger.Warn("Dropping malformed bus message", slog.String("roomID", roomID), slog.Any("error", err))
		return
	}
	if m.Type != protocol.TypeSync && m.Type != protocol.TypeUpdate {
		return
	}
	u, err := m.DecodeUpdate()
	if err != nil {
		f.logger.Warn("Dropping bus message with bad update", slog.String("roomID", roomID), slog.Any("error", err))
		return
	}
	room, ok := f.manager.FindRoom(roomID)
	if !ok {
		return
	}

	room.MergeMu.Lock()
	defer room.MergeMu.Unlock()

	changed := room.Doc.Apply(u, f)
	if !changed.Empty() {
		out, err := protocol.EncodeUpdate(protocol.TypeUpdate, roomID, m.Peer, changed)
		if err != nil {
			f.logger.Error("Failed to encode federated update", slog.Any("error", err))
			return
		}
		pctx := &pipeline.Cargo{Logger: f.logger, Ctx: f.ctx, Room: room, StateManager: f.manager, Payload: msg, Message: m}
		notifyRoom(pctx, roomID, out, nil)
	}

	if m.Type == protocol.TypeSync {
		if err := f.publish(roomID, protocol.TypeUpdate, room.Doc.State()); err != nil {
			f.logger.Error("Failed to answer relay sync", slog.String("roomID", roomID), slog.Any("error", err))
		}
	}
}

// Close drops every subscription.
func (f *Federation) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.subs {
		s.cancel()
		delete(f.subs, id)
	}
}
