package state

import (
	"sync"
	"time"

	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/a-essam23/layoutsync/pkg/transport"
	"github.com/google/uuid"
)

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	PeerID    string // collaborator identity announced by the client
	IPAddress string
	Transport *transport.Connection // The actual connection for sending messages
	Room      *Room                 // nil until the connection joins a room
	CreatedAt time.Time
}

// Room is one shared layout document and the connections editing it. The
// relay keeps the converged document here and never interprets its values.
type Room struct {
	ID        string
	Doc       *crdt.Map
	Members   map[uuid.UUID]*Connection
	CreatedAt time.Time

	// MergeMu is the room's single merge point. Merges and the fan-out that
	// follows them run under it so peers see a room's updates in one order.
	MergeMu sync.Mutex
}
