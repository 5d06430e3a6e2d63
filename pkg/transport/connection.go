package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	ReadLimit    int64
}

// Connection is one WebSocket connection, used by both the relay and the sync
// client. Sends are queued and written by a single write pump.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done         chan struct{}
	closing      chan struct{}
	shutdownOnce sync.Once
	wg           *sync.WaitGroup
	ctx          context.Context
	closeOnce    sync.Once
	cancel       context.CancelFunc
	// lifeMu pairs Run's wg.Add with Close's wg.Done. A connection closed
	// before Run never starts.
	lifeMu  sync.Mutex
	started bool
	closed  bool

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))

	buffer := config.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = config.PingInterval
	}

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	c.lifeMu.Lock()
	if c.started || c.closed {
		c.lifeMu.Unlock()
		return
	}
	c.started = true
	if c.wg != nil {
		c.wg.Add(1)
	}
	c.lifeMu.Unlock()
	if c.config.ReadLimit > 0 {
		c.conn.SetReadLimit(c.config.ReadLimit)
	}
	go c.readPump()
	go c.writePump()
	if c.config.PingInterval > 0 {
		go c.pingLoop()
	}

	c.logger.Debug("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		typ, r, err := c.conn.Reader(c.ctx)
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		message, err := io.ReadAll(r)
		if err != nil {
			c.logger.Error("Failed to read message body", slog.Any("error", err))
			readErr = err
			return
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
// A shutdown request flushes whatever is queued before closing normally.
func (c *Connection) writePump() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				c.Close(err)
				return
			}
		case <-c.closing:
			for {
				select {
				case message := <-c.send:
					if err := c.write(message); err != nil {
						c.Close(err)
						return
					}
				default:
					// the read pump observes the peer's close reply and finishes the teardown.
					if err := c.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
						c.logger.Debug("Close handshake did not complete", slog.Any("error", err))
					}
					c.Close(nil)
					return
				}
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(message []byte) error {
	ctx := c.ctx
	if c.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(c.ctx, c.config.WriteTimeout)
		defer cancel()
	}
	return c.conn.Write(ctx, websocket.MessageText, message)
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.config.PingTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.Close(fmt.Errorf("ping: %w", err))
				}
				return
			}
		}
	}
}

// Send queues a message. It never blocks: a peer that cannot keep up with its
// buffer is disconnected and will have to reconnect and resync.
func (c *Connection) Send(message []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.send <- message:
		return nil
	default:
		c.logger.Warn("Send buffer full, dropping connection")
		// closing runs the close handler, which may need locks the caller holds.
		go c.Close(ErrSlowConsumer)
		return ErrSlowConsumer
	}
}

// Shutdown flushes queued messages and then closes the connection normally.
func (c *Connection) Shutdown() {
	c.lifeMu.Lock()
	started := c.started
	c.lifeMu.Unlock()
	if !started {
		c.Close(nil)
		return
	}
	c.shutdownOnce.Do(func() {
		close(c.closing)
	})
}

// Close tears the connection down immediately. Queued messages are dropped.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Debug("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.lifeMu.Lock()
		c.closed = true
		started := c.started
		c.lifeMu.Unlock()

		c.cancel()
		if c.conn != nil {
			_ = c.conn.CloseNow()
		}
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		if started && c.wg != nil {
			c.wg.Done()
		}
		close(c.done)
	})
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}
