package syncclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a-essam23/layoutsync/internal/server"
	"github.com/a-essam23/layoutsync/pkg/catalog"
	"github.com/a-essam23/layoutsync/pkg/config"
	"github.com/a-essam23/layoutsync/pkg/layout"
	"github.com/a-essam23/layoutsync/pkg/logging"
	"github.com/a-essam23/layoutsync/pkg/syncclient"
)

type relay struct {
	app  *server.App
	srv  *httptest.Server
	down atomic.Bool
}

// wsURL is the base URL providers dial; the room is appended by the provider.
func (r *relay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &config.Config{
		Server:    config.ServerConfig{RoomLimit: config.RoomLimitConfig{Mode: "reject"}},
		Transport: config.TransportConfig{SendBuffer: 256, WriteTimeout: 5 * time.Second},
	}
	r := &relay{app: server.NewApp(logging.Discard(), ctx, cfg, nil)}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.down.Load() {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
		r.app.Handler().ServeHTTP(w, req)
	}))
	t.Cleanup(func() {
		cancel()
		r.app.CloseConnections()
		r.srv.Close()
	})
	return r
}

func newProvider(t *testing.T, url, room, peer string) (*syncclient.Provider, *layout.Document) {
	t.Helper()
	doc := layout.NewDocument(peer)
	p := syncclient.New(doc.Map(), syncclient.Options{
		URL:         url,
		Room:        room,
		DialTimeout: 2 * time.Second,
		Backoff:     syncclient.BackoffOptions{Initial: 20 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 1.5},
		Logger:      logging.Discard(),
	})
	t.Cleanup(p.Close)
	return p, doc
}

func connect(t *testing.T, p *syncclient.Provider) {
	t.Helper()
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.WaitStatus(ctx, syncclient.StatusConnected); err != nil {
		t.Fatalf("provider %s never connected: %v", p.Peer(), err)
	}
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

func ids(doc *layout.Document) []string {
	var out []string
	for id := range doc.Entries() {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func sameItems(a, b *layout.Document) bool {
	return slices.Equal(a.Items(), b.Items())
}

func addTable(t *testing.T, doc *layout.Document, id string, x, y float64) {
	t.Helper()
	item, err := layout.FromTemplate(id, catalog.Table, x, y)
	if err != nil {
		t.Fatalf("FromTemplate failed: %v", err)
	}
	if err := doc.Set(item); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
}

func TestProvidersConverge(t *testing.T) {
	r := newRelay(t)
	pa, docA := newProvider(t, r.wsURL(), "wedding", "alice")
	pb, docB := newProvider(t, r.wsURL(), "wedding", "bob")

	// alice has work from before she connected
	addTable(t, docA, "t-offline", 40, 40)
	connect(t, pa)
	connect(t, pb)

	eventually(t, "bob to receive alice's pre-connect item", func() bool { return docB.Has("t-offline") })

	addTable(t, docA, "t-a", 100, 100)
	addTable(t, docB, "t-b", 200, 200)
	docB.Delete("t-offline")

	eventually(t, "replicas to converge", func() bool {
		return sameItems(docA, docB) && slices.Equal(ids(docA), []string{"t-a", "t-b"})
	})
}

func TestRoomsDoNotLeak(t *testing.T) {
	r := newRelay(t)
	pa, docA := newProvider(t, r.wsURL(), "room-a", "alice")
	pb, docB := newProvider(t, r.wsURL(), "room-b", "bob")
	connect(t, pa)
	connect(t, pb)

	addTable(t, docA, "only-a", 0, 0)
	addTable(t, docB, "only-b", 0, 0)

	pc, docC := newProvider(t, r.wsURL(), "room-a", "carol")
	connect(t, pc)
	eventually(t, "carol to receive room-a", func() bool { return docC.Has("only-a") })
	if docC.Has("only-b") || docB.Has("only-a") || docA.Has("only-b") {
		t.Error("items crossed rooms")
	}
}

func TestReconnectReconcilesOfflineEdits(t *testing.T) {
	r := newRelay(t)
	pa, docA := newProvider(t, r.wsURL(), "venue", "alice")
	pb, docB := newProvider(t, r.wsURL(), "venue", "bob")
	connect(t, pa)
	connect(t, pb)

	addTable(t, docA, "shared", 100, 100)
	eventually(t, "initial replication", func() bool { return docB.Has("shared") })

	// take the relay away; both sides keep editing
	r.down.Store(true)
	r.app.CloseConnections()
	eventually(t, "providers to notice the outage", func() bool {
		return pa.Status() != syncclient.StatusConnected && pb.Status() != syncclient.StatusConnected
	})

	addTable(t, docA, "from-alice", 300, 100)
	addTable(t, docB, "from-bob", 100, 300)
	moved, _ := docB.Get("shared")
	moved.X = 500
	docB.Set(moved)

	r.down.Store(false)
	eventually(t, "providers to reconnect", func() bool {
		return pa.Status() == syncclient.StatusConnected && pb.Status() == syncclient.StatusConnected
	})
	eventually(t, "offline edits to reconcile", func() bool {
		if !sameItems(docA, docB) {
			return false
		}
		shared, ok := docA.Get("shared")
		return ok && shared.X == 500 && docA.Has("from-alice") && docA.Has("from-bob")
	})
}

func TestRejoinForwardsOfflineEditsToConnectedPeer(t *testing.T) {
	r := newRelay(t)
	pa, docA := newProvider(t, r.wsURL(), "venue", "alice")
	pb, docB := newProvider(t, r.wsURL(), "venue", "bob")
	connect(t, pa)
	connect(t, pb)

	pa.Disconnect()
	addTable(t, docA, "x", 120, 120)
	if docB.Has("x") {
		t.Fatal("an offline edit must not reach bob before alice reconnects")
	}

	// bob stays connected; the relay forwards what alice's handshake adds
	connect(t, pa)
	eventually(t, "bob to receive x", func() bool { return docB.Has("x") })
	if pb.Status() != syncclient.StatusConnected {
		t.Errorf("bob should have stayed connected, got %s", pb.Status())
	}

	resp, err := http.Get(r.srv.URL + "/api/rooms/venue")
	if err != nil {
		t.Fatalf("GET room failed: %v", err)
	}
	defer resp.Body.Close()
	var info struct{ Entries int }
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if info.Entries != 1 {
		t.Errorf("expected the relay to hold x, got %d entries", info.Entries)
	}
}

func TestEmptyURLStaysOffline(t *testing.T) {
	p, doc := newProvider(t, "", "room", "alice")
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect should not fail without a URL: %v", err)
	}
	addTable(t, doc, "local", 0, 0)
	time.Sleep(50 * time.Millisecond)
	if p.Status() != syncclient.StatusDisconnected {
		t.Errorf("expected disconnected, got %s", p.Status())
	}
	if !doc.Has("local") {
		t.Error("local edits must apply while offline")
	}
}

func TestConnectAfterClose(t *testing.T) {
	p, _ := newProvider(t, "ws://127.0.0.1:1/ws", "room", "alice")
	p.Close()
	if err := p.Connect(context.Background()); !errors.Is(err, syncclient.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	r := newRelay(t)
	p, _ := newProvider(t, r.wsURL(), "room", "alice")

	var mu sync.Mutex
	var seen []syncclient.Status
	p.OnStatus(func(s syncclient.Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	connect(t, p)
	// hooks run on the goroutine that changed the status
	eventually(t, "connected hook", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	p.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	want := []syncclient.Status{syncclient.StatusConnecting, syncclient.StatusConnected, syncclient.StatusDisconnected}
	if !slices.Equal(seen, want) {
		t.Errorf("status sequence = %v, want %v", seen, want)
	}
}

func TestPresenceIsDelivered(t *testing.T) {
	r := newRelay(t)
	pa, _ := newProvider(t, r.wsURL(), "room", "alice")

	var mu sync.Mutex
	var latest []string
	pa.OnPeers(func(peers []string) {
		mu.Lock()
		latest = peers
		mu.Unlock()
	})
	peersOfA := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return latest
	}

	connect(t, pa)
	pb, _ := newProvider(t, r.wsURL(), "room", "bob")
	connect(t, pb)
	eventually(t, "alice to see bob", func() bool {
		return slices.Equal(peersOfA(), []string{"alice", "bob"})
	})

	pb.Disconnect()
	eventually(t, "alice to see bob leave", func() bool {
		return slices.Equal(peersOfA(), []string{"alice"})
	})
}
