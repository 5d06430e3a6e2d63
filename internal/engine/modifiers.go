package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/layoutsync/pkg/pipeline"
	"github.com/google/uuid"
)

var (
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrWrongRoom   = errors.New("message addressed to another room")
)

// modifierRoomScope rejects frames naming a room other than the one the
// connection joined. An empty room field means the connection's room.
func modifierRoomScope(pctx *pipeline.Cargo) error {
	if pctx.Room == nil {
		return errors.New("connection has not joined a room")
	}
	if pctx.Message.Room != "" && pctx.Message.Room != pctx.Room.ID {
		return fmt.Errorf("%w: '%s'", ErrWrongRoom, pctx.Message.Room)
	}
	return nil
}

type rateLimitState struct {
	Requests int
	Timer    *time.Timer
}

// newRateLimitModifier counts frames per connection in fixed windows. Dropping
// a frame would lose ops, so the router closes a limited connection instead;
// the client reconnects and resyncs.
func newRateLimitModifier(logger *slog.Logger, limit int, window time.Duration) pipeline.ModifierFunc {
	if limit <= 0 || window <= 0 {
		return func(*pipeline.Cargo) error { return nil }
	}

	var mu sync.Mutex
	windows := make(map[uuid.UUID]*rateLimitState)

	return func(pctx *pipeline.Cargo) error {
		if pctx.Connection == nil {
			return nil
		}
		connID := pctx.Connection.ID

		mu.Lock()
		defer mu.Unlock()

		current, found := windows[connID]
		if !found {
			// First request in the window. Schedule the cleanup.
			current = &rateLimitState{Requests: 1}
			current.Timer = time.AfterFunc(window, func() {
				logger.Debug("Auto-cleaning expired rate_limit state", slog.String("connID", connID.String()))
				mu.Lock()
				delete(windows, connID)
				mu.Unlock()
			})
			windows[connID] = current
			return nil
		}

		if current.Requests < limit {
			current.Requests++
			return nil
		}
		return fmt.Errorf("%w: %d frames per %s", ErrRateLimited, limit, window)
	}
}
