package engine

import (
	"fmt"
	"log/slog"

	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/a-essam23/layoutsync/pkg/pipeline"
	"github.com/a-essam23/layoutsync/pkg/protocol"
)

// handleSync merges the client's full state, answers with the room's converged
// state, and forwards whatever the client contributed to everyone else.
func handleSync(pctx *pipeline.Cargo) error {
	u, err := pctx.Message.DecodeUpdate()
	if err != nil {
		return fmt.Errorf("failed to decode sync state: %w", err)
	}

	room := pctx.Room
	room.MergeMu.Lock()
	defer room.MergeMu.Unlock()

	changed := room.Doc.Apply(u, pctx.Connection)
	reply, err := protocol.EncodeUpdate(protocol.TypeState, room.ID, "", room.Doc.State())
	if err != nil {
		return fmt.Errorf("failed to encode room state: %w", err)
	}
	if err := pctx.Connection.Transport.Send(reply); err != nil {
		return fmt.Errorf("failed to send room state: %w", err)
	}

	pctx.Logger.Debug("Handshake complete",
		slog.String("roomID", room.ID),
		slog.Int("received", len(u.Ops)),
		slog.Int("changed", len(changed.Ops)),
	)
	return forwardChanges(pctx, changed)
}

// handleUpdate merges incremental ops and forwards the ones that changed state.
func handleUpdate(pctx *pipeline.Cargo) error {
	u, err := pctx.Message.DecodeUpdate()
	if err != nil {
		return fmt.Errorf("failed to decode update: %w", err)
	}
	if u.Empty() {
		return nil
	}

	room := pctx.Room
	room.MergeMu.Lock()
	defer room.MergeMu.Unlock()

	changed := room.Doc.Apply(u, pctx.Connection)
	return forwardChanges(pctx, changed)
}

// forwardChanges must be called with the room's merge lock held.
func forwardChanges(pctx *pipeline.Cargo, changed crdt.Update) error {
	if changed.Empty() {
		return nil
	}
	peer := ""
	if pctx.Connection != nil {
		peer = pctx.Connection.PeerID
	}
	msg, err := protocol.EncodeUpdate(protocol.TypeUpdate, pctx.Room.ID, peer, changed)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}
	notifyRoom(pctx, pctx.Room.ID, msg, pctx.Connection)

	if pctx.Publisher != nil {
		pctx.Publisher.PublishUpdate(pctx.Ctx, pctx.Room.ID, changed)
	}
	return nil
}
