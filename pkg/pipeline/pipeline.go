package pipeline

import (
	"context"
	"log/slog"

	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/a-essam23/layoutsync/pkg/protocol"
	"github.com/a-essam23/layoutsync/pkg/state"
)

/*
 * The purpose of this is to detach the implementation of message handlers
 * from the router that feeds them.
 */

// Publisher forwards a room's locally merged changes to other relays.
type Publisher interface {
	PublishUpdate(ctx context.Context, roomID string, u crdt.Update)
}

type Cargo struct {
	Logger       *slog.Logger
	Ctx          context.Context
	Connection   *state.Connection // origin of the message
	Room         *state.Room
	StateManager state.Manager
	Payload      []byte // raw frame as received
	Message      protocol.Message
	// nil when the relay is not federated.
	Publisher Publisher
}

// handles one decoded message type.
type HandlerFunc func(pctx *Cargo) error

// runs before a handler; an error halts the pipeline.
type ModifierFunc func(pctx *Cargo) error

// represents one registered message type.
type Step struct {
	Handler   HandlerFunc
	Modifiers []ModifierFunc
}
