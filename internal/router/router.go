package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/layoutsync/internal/engine"
	"github.com/a-essam23/layoutsync/pkg/pipeline"
	"github.com/a-essam23/layoutsync/pkg/protocol"
	"github.com/a-essam23/layoutsync/pkg/state"
	"github.com/google/uuid"
)

// EventRouter dispatches client frames to the registered handlers and drives
// room membership for the relay.
type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	registry     *engine.Registry
	federation   *engine.Federation
}

// NewEventRouter builds a router. federation may be nil for a standalone relay.
func NewEventRouter(logger *slog.Logger, stateManager state.Manager, registry *engine.Registry, federation *engine.Federation) *EventRouter {
	return &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		registry:     registry,
		federation:   federation,
	}
}

func (r *EventRouter) cargo(ctx context.Context, conn *state.Connection, room *state.Room) *pipeline.Cargo {
	pctx := &pipeline.Cargo{
		Logger:       r.logger,
		Ctx:          ctx,
		Connection:   conn,
		Room:         room,
		StateManager: r.stateManager,
	}
	if r.federation != nil {
		pctx.Publisher = r.federation
	}
	return pctx
}

// HandleMessage runs the pipeline registered for the frame's type. The room is
// the one the connection joined when it was accepted.
func (r *EventRouter) HandleMessage(ctx context.Context, conn *state.Connection, room *state.Room, msg []byte) {
	typ, err := protocol.PeekType(msg)
	if err != nil {
		r.logger.Warn("Failed to read client message type", slog.String("connID", conn.ID.String()), slog.Any("error", err))
		return
	}

	step, ok := r.registry.GetHandler(typ)
	if !ok {
		r.logger.Warn("Received unknown message type", slog.String("type", string(typ)), slog.String("connID", conn.ID.String()))
		return
	}

	clientMsg, err := protocol.Decode(msg)
	if err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", conn.ID.String()), slog.Any("error", err))
		return
	}

	pctx := r.cargo(ctx, conn, room)
	pctx.Payload = msg
	pctx.Message = clientMsg

	r.logger.Debug("Executing message pipeline", slog.String("type", string(typ)), slog.String("connID", conn.ID.String()))
	if err := engine.Run(step, pctx); err != nil {
		if errors.Is(err, engine.ErrRateLimited) {
			r.logger.Warn("Closing connection over rate limit", slog.String("connID", conn.ID.String()), slog.String("peerID", conn.PeerID))
			conn.Transport.Close(err)
			return
		}
		r.logger.Error("Message pipeline failed", slog.String("type", string(typ)), slog.Any("error", err))
	}
}

// Join adds the connection to roomID, opens the room on the bus when it was
// just created, and announces the new member list.
func (r *EventRouter) Join(ctx context.Context, conn *state.Connection, roomID string) (*state.Room, error) {
	room, created, err := r.stateManager.Join(conn.ID, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to join room '%s': %w", roomID, err)
	}
	if created && r.federation != nil {
		if err := r.federation.OpenRoom(room); err != nil {
			// the room still works locally; it just won't see other relays.
			r.logger.Error("Failed to open room on bus", slog.String("roomID", roomID), slog.Any("error", err))
		}
	}
	r.logger.Info("Peer joined room", slog.String("peerID", conn.PeerID), slog.String("roomID", roomID))

	if err := engine.AnnouncePresence(r.cargo(ctx, conn, room), roomID); err != nil {
		r.logger.Warn("Failed to announce presence", slog.Any("error", err))
	}
	return room, nil
}

// Leave removes the connection from its room and announces the remaining
// members, or closes the room on the bus when nobody is left.
func (r *EventRouter) Leave(ctx context.Context, connID uuid.UUID) {
	room, emptied, err := r.stateManager.Leave(connID)
	if err != nil {
		if !errors.Is(err, state.ErrConnectionNotFound) {
			r.logger.Error("Failed to leave room", slog.String("connID", connID.String()), slog.Any("error", err))
		}
		return
	}
	if room == nil {
		return
	}
	r.logger.Info("Peer left room", slog.String("connID", connID.String()), slog.String("roomID", room.ID))

	if emptied {
		if r.federation != nil {
			r.federation.CloseRoom(room)
		}
		return
	}
	if err := engine.AnnouncePresence(r.cargo(ctx, nil, room), room.ID); err != nil {
		r.logger.Warn("Failed to announce presence", slog.Any("error", err))
	}
}
