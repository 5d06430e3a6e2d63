package state

import (
	"errors"

	"github.com/a-essam23/layoutsync/pkg/transport"
	"github.com/google/uuid"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrRoomNotFound       = errors.New("room not found")
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn *transport.Connection, ipAddr, peerID string) (*Connection, error)
	// DeregisterConnection forgets the connection, leaving its room first if needed.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	GetAllConnections() ([]*Connection, error)

	// --- Room & Membership Management ---
	// Join adds the connection to a room, creating the room and its empty
	// document if they don't exist. created reports whether it did.
	Join(connID uuid.UUID, roomID string) (room *Room, created bool, err error)
	// Leave removes the connection from its room. emptied reports that the
	// room had no members left and was dropped together with its document.
	Leave(connID uuid.UUID) (room *Room, emptied bool, err error)
	FindRoom(roomID string) (*Room, bool)
	GetRoomMembers(roomID string) ([]*Connection, error)
	GetRoomConnectionCount(roomID string) (int, error)
	FindOldestRoomConnection(roomID string) (*Connection, bool)
	// GetRoomPeers returns the distinct peer ids connected to the room, sorted.
	GetRoomPeers(roomID string) ([]string, error)
	GetAllRooms() ([]*Room, error)
}
