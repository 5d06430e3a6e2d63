package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/layoutsync/internal/engine"
	"github.com/a-essam23/layoutsync/internal/router"
	"github.com/a-essam23/layoutsync/internal/server/middleware"
	"github.com/a-essam23/layoutsync/pkg/bus"
	"github.com/a-essam23/layoutsync/pkg/config"
	"github.com/a-essam23/layoutsync/pkg/state"
	"github.com/a-essam23/layoutsync/pkg/state/statemanager"
	"github.com/a-essam23/layoutsync/pkg/transport"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	federation   *engine.Federation
	wg           sync.WaitGroup
	http         *http.Server
	handler      http.Handler
	config       *config.Config
	instanceID   string

	ctx context.Context
}

// NewApp wires the relay. b may be nil for a standalone relay; otherwise rooms
// are federated with every other relay on the same bus.
func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, b bus.Bus) *App {
	instanceID := "relay-" + uuid.NewString()
	stateManager := statemanager.NewInMemoryManager(logger, instanceID)

	registry := engine.New(logger)
	registry.RegisterCore(&engine.RegisterCoreOptions{
		RateLimit:  cfg.Server.RateLimit.Messages,
		RateWindow: cfg.Server.RateLimit.Window,
	})

	var federation *engine.Federation
	if b != nil {
		federation = engine.NewFederation(rootCtx, b, instanceID, stateManager, logger)
	}

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		eventRouter:  router.NewEventRouter(logger, stateManager, registry, federation),
		federation:   federation,
		config:       cfg,
		instanceID:   instanceID,
		ctx:          rootCtx,
	}

	roomCounter := middleware.RoomConnectionCounter(stateManager.GetRoomConnectionCount)
	// Create a cycler function that closes over the stateManager and logger.
	roomCycler := func(roomID string) {
		oldest, found := stateManager.FindOldestRoomConnection(roomID)
		if found {
			logger.Info("Cycling connection: closing oldest", slog.String("roomID", roomID), slog.String("connID", oldest.ID.String()))
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	r := chi.NewRouter()
	r.Get("/health", app.healthHandler)
	r.Get("/api/rooms/{roomID}", app.roomHandler)

	upgrade := middleware.Chain(http.HandlerFunc(app.upgradeHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(app.logger),
		middleware.NewRoomLimiter(logger, roomCounter, roomCycler, cfg.Server.RoomLimit),
	)
	r.Handle("/ws", upgrade)
	r.Handle("/ws/{roomID}", upgrade)

	app.handler = r
	app.http = &http.Server{Addr: cfg.Server.Address, Handler: r, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Handler exposes the routes, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) InstanceID() string {
	return a.instanceID
}

func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr), slog.String("instance", a.instanceID))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			errCh <- err
		}
	}()

	select {
	case <-a.ctx.Done():
	case err := <-errCh:
		return err
	}
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("roomID", reqMeta.RoomID),
		slog.String("peerID", reqMeta.PeerID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	var (
		stateConn *state.Connection
		room      *state.Room
	)
	// connections live on the app context: a relay shutdown cancels them all.
	// The close handler is installed before the connection becomes visible in
	// a room, so every close leaves and deregisters.
	conn := transport.NewConnection(
		a.ctx,
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		// frames are only read after Run, once stateConn and room are set.
		func(ctx context.Context, connID uuid.UUID, msg []byte) {
			a.eventRouter.HandleMessage(ctx, stateConn, room, msg)
		},
		func(id uuid.UUID, err error) {
			connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
			a.eventRouter.Leave(a.ctx, id)
			if dErr := a.stateManager.DeregisterConnection(id); dErr != nil && !errors.Is(dErr, state.ErrConnectionNotFound) {
				connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
			}
		},
		a.logger,
	)
	// register new connection
	stateConn, err = a.stateManager.RegisterConnection(conn, reqMeta.IP, reqMeta.PeerID)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	room, err = a.eventRouter.Join(a.ctx, stateConn, reqMeta.RoomID)
	if err != nil {
		connLogger.Error("Failed to join room", slog.Any("error", err))
		// the close handler deregisters.
		conn.Close(err)
		return
	}

	connLogger.Info("Peer connection fully established")
	conn.Run()
	<-conn.Done()
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type roomInfo struct {
	RoomID    string   `json:"roomId"`
	Active    bool     `json:"active"`
	Peers     []string `json:"peers"`
	Entries   int      `json:"entries"`
	Timestamp string   `json:"timestamp"`
}

// roomHandler reports a room's activity. Values stay opaque to the relay, so
// only the entry count is exposed.
func (a *App) roomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	info := roomInfo{
		RoomID:    roomID,
		Peers:     []string{},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if room, ok := a.stateManager.FindRoom(roomID); ok {
		info.Active = true
		info.Entries = room.Doc.Len()
		if peers, err := a.stateManager.GetRoomPeers(roomID); err == nil {
			info.Peers = peers
		}
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	// hijacked websocket connections are not tracked by the HTTP server.
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.CloseConnections()
	if a.federation != nil {
		a.federation.Close()
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}

// CloseConnections closes every active WebSocket connection, flushing what is
// queued, and waits for their goroutines to finish cleanup.
func (a *App) CloseConnections() {
	a.logger.Info("Closing all active connections...")
	conns, err := a.stateManager.GetAllConnections()
	if err != nil {
		a.logger.Error("Failed to list connections", slog.Any("error", err))
	}
	for _, conn := range conns {
		conn.Transport.Shutdown()
	}
	a.wg.Wait()
}
