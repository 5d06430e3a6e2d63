package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/a-essam23/layoutsync/internal/engine"
	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/a-essam23/layoutsync/pkg/logging"
	"github.com/a-essam23/layoutsync/pkg/pipeline"
	"github.com/a-essam23/layoutsync/pkg/protocol"
	"github.com/a-essam23/layoutsync/pkg/state"
	"github.com/google/uuid"
)

const typePing protocol.Type = "ping"

func newRegistry(t *testing.T, limit int, window time.Duration) (*engine.Registry, *int) {
	t.Helper()
	r := engine.New(logging.Discard())
	r.RegisterCore(&engine.RegisterCoreOptions{RateLimit: limit, RateWindow: window})
	calls := new(int)
	r.RegisterHandler(typePing, func(*pipeline.Cargo) error {
		*calls++
		return nil
	}, "rate_limit", "room_scope")
	return r, calls
}

func cargo(conn *state.Connection, room *state.Room, msgRoom string) *pipeline.Cargo {
	return &pipeline.Cargo{
		Logger:     logging.Discard(),
		Connection: conn,
		Room:       room,
		Message:    protocol.Message{Type: typePing, Room: msgRoom},
	}
}

func TestCoreHandlersRegistered(t *testing.T) {
	r, _ := newRegistry(t, 0, 0)
	for _, typ := range []protocol.Type{protocol.TypeSync, protocol.TypeUpdate} {
		if _, ok := r.GetHandler(typ); !ok {
			t.Errorf("expected a handler for %s", typ)
		}
	}
	if _, ok := r.GetHandler(protocol.TypePresence); ok {
		t.Error("presence is relay-to-client only and must have no handler")
	}
}

func TestRegisterHandlerPanicsOnUnknownModifier(t *testing.T) {
	r, _ := newRegistry(t, 0, 0)
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for an unknown modifier")
		}
	}()
	r.RegisterHandler("other", func(*pipeline.Cargo) error { return nil }, "no_such_modifier")
}

func TestRoomScope(t *testing.T) {
	r, calls := newRegistry(t, 0, 0)
	step, _ := r.GetHandler(typePing)
	conn := &state.Connection{ID: uuid.New()}
	room := &state.Room{ID: "hall", Doc: crdt.New("relay")}

	if err := engine.Run(step, cargo(conn, room, "")); err != nil {
		t.Errorf("an empty room field means the joined room: %v", err)
	}
	if err := engine.Run(step, cargo(conn, room, "hall")); err != nil {
		t.Errorf("matching room rejected: %v", err)
	}
	if err := engine.Run(step, cargo(conn, room, "other")); !errors.Is(err, engine.ErrWrongRoom) {
		t.Errorf("expected ErrWrongRoom, got %v", err)
	}
	if err := engine.Run(step, cargo(conn, nil, "")); err == nil {
		t.Error("a connection without a room must be rejected")
	}
	if *calls != 2 {
		t.Errorf("expected the handler to run twice, ran %d times", *calls)
	}
}

func TestRateLimit(t *testing.T) {
	r, calls := newRegistry(t, 3, 100*time.Millisecond)
	step, _ := r.GetHandler(typePing)
	room := &state.Room{ID: "hall", Doc: crdt.New("relay")}
	noisy := &state.Connection{ID: uuid.New()}
	quiet := &state.Connection{ID: uuid.New()}

	for i := range 3 {
		if err := engine.Run(step, cargo(noisy, room, "")); err != nil {
			t.Fatalf("frame %d should pass: %v", i+1, err)
		}
	}
	if err := engine.Run(step, cargo(noisy, room, "")); !errors.Is(err, engine.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := engine.Run(step, cargo(quiet, room, "")); err != nil {
		t.Errorf("limits are per connection: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if err := engine.Run(step, cargo(noisy, room, "")); err != nil {
		t.Errorf("a new window should accept frames again: %v", err)
	}
	if *calls != 5 {
		t.Errorf("expected 5 handled frames, got %d", *calls)
	}
}
