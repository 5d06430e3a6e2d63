package statemanager

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/a-essam23/layoutsync/pkg/state"
	"github.com/a-essam23/layoutsync/pkg/transport"
	"github.com/google/uuid"
)

type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	rooms map[string]*state.Room

	// lock order: connMu before roomMu.
	connMu sync.RWMutex
	roomMu sync.RWMutex

	// docPeer stamps the room documents. The relay never writes to them, so
	// it only has to be distinct from client peer ids.
	docPeer string
	logger  *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger, docPeer string) *InMemoryManager {
	return &InMemoryManager{
		conns:   make(map[uuid.UUID]*state.Connection),
		rooms:   make(map[string]*state.Room),
		docPeer: docPeer,
		logger:  logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn *transport.Connection, ipAddr, peerID string) (*state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	if peerID == "" {
		peerID = connID.String()
	}
	newConn := &state.Connection{
		ID:        connID,
		PeerID:    peerID,
		IPAddress: ipAddr,
		Transport: conn,
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()), slog.String("peerID", peerID))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	if _, _, err := m.Leave(connID); err != nil && !errors.Is(err, state.ErrConnectionNotFound) {
		return err
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if _, ok := m.conns[connID]; !ok {
		// connection is already deregistered
		return nil
	}
	delete(m.conns, connID)
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) GetAllConnections() ([]*state.Connection, error) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns, nil
}

// --- Room & Membership Management ---

func (m *InMemoryManager) Join(connID uuid.UUID, roomID string) (*state.Room, bool, error) {
	// Lock connections and rooms to ensure atomic joining.
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, false, fmt.Errorf("cannot join room: %w", state.ErrConnectionNotFound)
	}
	if conn.Room != nil {
		if conn.Room.ID == roomID {
			return conn.Room, false, nil
		}
		return nil, false, fmt.Errorf("connection already in room '%s'", conn.Room.ID)
	}

	room, exists := m.rooms[roomID]
	if !exists {
		room = &state.Room{
			ID:        roomID,
			Doc:       crdt.New(m.docPeer),
			Members:   make(map[uuid.UUID]*state.Connection),
			CreatedAt: time.Now(),
		}
		m.rooms[roomID] = room
		m.logger.Debug("Created room", slog.String("roomID", roomID))
	}

	conn.Room = room
	room.Members[connID] = conn

	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("roomID", roomID))
	return room, !exists, nil
}

func (m *InMemoryManager) Leave(connID uuid.UUID) (*state.Room, bool, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, false, state.ErrConnectionNotFound
	}
	room := conn.Room
	if room == nil {
		return nil, false, nil
	}

	delete(room.Members, connID)
	conn.Room = nil

	// For memory hygiene, remove the room if it's now empty.
	emptied := len(room.Members) == 0
	if emptied && m.rooms[room.ID] == room {
		delete(m.rooms, room.ID)
		m.logger.Debug("Removed empty room", slog.String("roomID", room.ID))
	}

	m.logger.Debug("Connection left room", slog.String("connID", connID.String()), slog.String("roomID", room.ID))
	return room, emptied, nil
}

func (m *InMemoryManager) FindRoom(roomID string) (*state.Room, bool) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

func (m *InMemoryManager) GetRoomMembers(roomID string) ([]*state.Connection, error) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, state.ErrRoomNotFound
	}

	members := make([]*state.Connection, 0, len(room.Members))
	for _, c := range room.Members {
		members = append(members, c)
	}
	return members, nil
}

func (m *InMemoryManager) GetRoomConnectionCount(roomID string) (int, error) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return 0, nil // Room doesn't exist yet, so it has 0 connections.
	}
	return len(room.Members), nil
}

func (m *InMemoryManager) FindOldestRoomConnection(roomID string) (*state.Connection, bool) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, false
	}

	var oldestConn *state.Connection
	for _, conn := range room.Members {
		if oldestConn == nil || conn.CreatedAt.Before(oldestConn.CreatedAt) {
			oldestConn = conn
		}
	}
	if oldestConn == nil {
		return nil, false // Room has no connections.
	}
	return oldestConn, true
}

func (m *InMemoryManager) GetRoomPeers(roomID string) ([]string, error) {
	members, err := m.GetRoomMembers(roomID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(members))
	peers := make([]string, 0, len(members))
	for _, c := range members {
		if _, dup := seen[c.PeerID]; dup {
			continue
		}
		seen[c.PeerID] = struct{}{}
		peers = append(peers, c.PeerID)
	}
	slices.Sort(peers)
	return peers, nil
}

func (m *InMemoryManager) GetAllRooms() ([]*state.Room, error) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	rooms := make([]*state.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	return rooms, nil
}
