package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/layoutsync/pkg/pipeline"
	"github.com/a-essam23/layoutsync/pkg/protocol"
	"github.com/a-essam23/layoutsync/pkg/state"
	"github.com/a-essam23/layoutsync/pkg/transport"
)

// notifyRoom fans msg out to every member of the room except the origin
// connection (nil for none).
func notifyRoom(pctx *pipeline.Cargo, roomID string, msg []byte, except *state.Connection) {
	members, err := pctx.StateManager.GetRoomMembers(roomID)
	if err != nil {
		// An error here usually means the room emptied meanwhile, which is a normal case.
		pctx.Logger.Debug("Could not resolve room to connections", slog.String("roomID", roomID), slog.Any("error", err))
		return
	}

	sent := 0
	for _, member := range members {
		if except != nil && member.ID == except.ID {
			continue
		}
		if err := member.Transport.Send(msg); err != nil {
			if !errors.Is(err, transport.ErrClosed) {
				pctx.Logger.Warn("Failed to deliver to room member", slog.String("connID", member.ID.String()), slog.Any("error", err))
			}
			continue
		}
		sent++
	}
	pctx.Logger.Debug("Notified room", slog.String("roomID", roomID), slog.Int("connection_count", sent))
}

// AnnouncePresence sends every member of the room the distinct peers
// currently connected to it.
func AnnouncePresence(pctx *pipeline.Cargo, roomID string) error {
	peers, err := pctx.StateManager.GetRoomPeers(roomID)
	if err != nil {
		if errors.Is(err, state.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("failed to list peers of room '%s': %w", roomID, err)
	}
	msg, err := protocol.Encode(protocol.Message{Type: protocol.TypePresence, Room: roomID, Peers: peers})
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}
	notifyRoom(pctx, roomID, msg, nil)
	return nil
}
