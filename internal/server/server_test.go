package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/a-essam23/layoutsync/internal/server"
	"github.com/a-essam23/layoutsync/pkg/bus"
	"github.com/a-essam23/layoutsync/pkg/catalog"
	"github.com/a-essam23/layoutsync/pkg/config"
	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/a-essam23/layoutsync/pkg/layout"
	"github.com/a-essam23/layoutsync/pkg/logging"
	"github.com/a-essam23/layoutsync/pkg/protocol"
	"github.com/a-essam23/layoutsync/pkg/syncclient"
	"github.com/coder/websocket"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RoomLimit: config.RoomLimitConfig{Mode: "reject"},
		},
		Transport: config.TransportConfig{SendBuffer: 256, WriteTimeout: 5 * time.Second},
	}
}

func startApp(t *testing.T, cfg *config.Config, b bus.Bus) (*server.App, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	app := server.NewApp(logging.Discard(), ctx, cfg, b)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		cancel()
		app.CloseConnections()
		srv.Close()
	})
	return app, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func joinRoom(t *testing.T, srv *httptest.Server, room, peer string) (*syncclient.Provider, *layout.Document) {
	t.Helper()
	doc := layout.NewDocument(peer)
	p := syncclient.New(doc.Map(), syncclient.Options{
		URL:     wsURL(srv, "/ws"),
		Room:    room,
		Backoff: syncclient.BackoffOptions{Initial: 20 * time.Millisecond, Max: 100 * time.Millisecond},
		Logger:  logging.Discard(),
	})
	t.Cleanup(p.Close)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.WaitStatus(ctx, syncclient.StatusConnected); err != nil {
		t.Fatalf("%s never connected: %v", peer, err)
	}
	return p, doc
}

// rawDial opens a bare websocket for tests that inspect frames or handshake
// responses directly.
func rawDial(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, wsURL(srv, path), nil)
	if conn != nil {
		t.Cleanup(func() { conn.CloseNow() })
	}
	return conn, resp, err
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	m, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return m
}

func TestHealth(t *testing.T) {
	_, srv := startApp(t, testConfig(), nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "ok" || body["timestamp"] == "" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestRoomInfo(t *testing.T) {
	_, srv := startApp(t, testConfig(), nil)

	getInfo := func(room string) map[string]any {
		resp, err := http.Get(srv.URL + "/api/rooms/" + room)
		if err != nil {
			t.Fatalf("GET room failed: %v", err)
		}
		defer resp.Body.Close()
		var info map[string]any
		json.NewDecoder(resp.Body).Decode(&info)
		return info
	}

	if info := getInfo("gala"); info["active"] != false {
		t.Errorf("room with no peers should be inactive: %v", info)
	}

	_, doc := joinRoom(t, srv, "gala", "alice")
	item, _ := layout.FromTemplate("t1", catalog.Table, 0, 0)
	doc.Set(item)

	eventually(t, "the relay to hold the item", func() bool {
		info := getInfo("gala")
		return info["active"] == true && info["entries"] == float64(1)
	})
	info := getInfo("gala")
	peers, _ := info["peers"].([]any)
	if len(peers) != 1 || peers[0] != "alice" {
		t.Errorf("expected peers [alice], got %v", info["peers"])
	}
}

func TestHandshakeRepliesWithRoomState(t *testing.T) {
	_, srv := startApp(t, testConfig(), nil)
	_, docA := joinRoom(t, srv, "hall", "alice")
	item, _ := layout.FromTemplate("t1", catalog.Table, 40, 40)
	docA.Set(item)
	eventually(t, "alice's item to reach the relay", func() bool {
		resp, err := http.Get(srv.URL + "/api/rooms/hall")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var info struct{ Entries int }
		json.NewDecoder(resp.Body).Decode(&info)
		return info.Entries == 1
	})

	conn, _, err := rawDial(t, srv, "/ws/hall?peer=viewer")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	hello, _ := protocol.EncodeUpdate(protocol.TypeSync, "hall", "viewer", crdt.Update{})
	if err := conn.Write(context.Background(), websocket.MessageText, hello); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// presence frames may arrive before the state reply
	for {
		m := readMessage(t, conn)
		if m.Type == protocol.TypePresence {
			continue
		}
		if m.Type != protocol.TypeState {
			t.Fatalf("expected state reply, got %s", m.Type)
		}
		u, err := m.DecodeUpdate()
		if err != nil {
			t.Fatalf("bad state payload: %v", err)
		}
		replica := layout.NewDocument("viewer")
		replica.Map().Apply(u, nil)
		if !replica.Has("t1") {
			t.Error("state reply should carry the room's items")
		}
		return
	}
}

func TestPresenceBroadcast(t *testing.T) {
	_, srv := startApp(t, testConfig(), nil)
	conn, _, err := rawDial(t, srv, "/ws/party?peer=watcher")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if m := readMessage(t, conn); m.Type != protocol.TypePresence || !slices.Equal(m.Peers, []string{"watcher"}) {
		t.Fatalf("expected own presence, got %+v", m)
	}

	p, _ := joinRoom(t, srv, "party", "bob")
	if m := readMessage(t, conn); !slices.Equal(m.Peers, []string{"bob", "watcher"}) {
		t.Errorf("expected bob to join, got %+v", m)
	}
	p.Disconnect()
	if m := readMessage(t, conn); !slices.Equal(m.Peers, []string{"watcher"}) {
		t.Errorf("expected bob to leave, got %+v", m)
	}
}

func TestRoomLimitReject(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RoomLimit = config.RoomLimitConfig{MaxPerRoom: 1, Mode: "reject"}
	_, srv := startApp(t, cfg, nil)

	joinRoom(t, srv, "small", "alice")
	_, resp, err := rawDial(t, srv, "/ws/small?peer=bob")
	if err == nil {
		t.Fatal("expected the second connection to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %v", resp)
	}
	if _, _, err := rawDial(t, srv, "/ws/other?peer=bob"); err != nil {
		t.Errorf("the limit is per room, other rooms must accept: %v", err)
	}
}

func TestRoomLimitCycle(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RoomLimit = config.RoomLimitConfig{MaxPerRoom: 1, Mode: "cycle"}
	app, srv := startApp(t, cfg, nil)

	first, _, err := rawDial(t, srv, "/ws/small?peer=alice")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	readMessage(t, first) // own presence

	if _, _, err := rawDial(t, srv, "/ws/small?peer=bob"); err != nil {
		t.Fatalf("cycle mode should accept the new connection: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := first.Read(ctx); err == nil {
		t.Error("the oldest connection should have been closed")
	}

	// the cycled connection must leave the room, not linger as a member
	eventually(t, "only bob to remain in the room", func() bool {
		resp, err := http.Get(srv.URL + "/api/rooms/small")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var info struct{ Peers []string }
		json.NewDecoder(resp.Body).Decode(&info)
		return slices.Equal(info.Peers, []string{"bob"})
	})

	closed := make(chan struct{})
	go func() {
		app.CloseConnections()
		close(closed)
	}()
	select {
	case <-closed:
	// the close handshake with a client that never reads can take a few seconds
	case <-time.After(15 * time.Second):
		t.Fatal("CloseConnections did not return")
	}
}

func TestFederatedRelaysConverge(t *testing.T) {
	b := bus.NewLocalBus()
	t.Cleanup(func() { b.Close() })
	appA, srvA := startApp(t, testConfig(), b)
	appB, srvB := startApp(t, testConfig(), b)
	if appA.InstanceID() == appB.InstanceID() {
		t.Fatal("relays must have distinct instance ids")
	}

	_, docA := joinRoom(t, srvA, "expo", "alice")
	early, _ := layout.FromTemplate("early", catalog.Stage, 0, 0)
	docA.Set(early)

	// bob joins the same room through the other relay after alice's edit
	_, docB := joinRoom(t, srvB, "expo", "bob")
	eventually(t, "bob to receive alice's earlier item via the bus", func() bool { return docB.Has("early") })

	late, _ := layout.FromTemplate("late", catalog.Bar, 100, 100)
	docB.Set(late)
	docA.Delete("early")

	eventually(t, "both relays' clients to converge", func() bool {
		return slices.Equal(docA.Items(), docB.Items()) && docA.Has("late") && !docB.Has("early")
	})
}
