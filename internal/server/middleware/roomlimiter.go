package middleware

import (
	"log/slog"
	"net/http"

	"github.com/a-essam23/layoutsync/pkg/config"
)

type RoomConnectionCounter func(roomID string) (int, error)
type RoomConnectionCycler func(roomID string)

// NewRoomLimiter caps the connections a single room may hold. In "reject" mode
// extra connections are refused; in "cycle" mode the oldest one is closed to
// make room.
func NewRoomLimiter(
	logger *slog.Logger,
	counter RoomConnectionCounter,
	cycler RoomConnectionCycler,
	config config.RoomLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.MaxPerRoom <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Room limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			count, err := counter(reqMeta.RoomID)
			if err != nil {
				logger.Error("Room limiter failed to get connection count", slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if count < config.MaxPerRoom {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Room connection limit reached", slog.String("roomID", reqMeta.RoomID), slog.Int("count", count))
			switch config.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			case "cycle":
				cycler(reqMeta.RoomID)
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid room limit mode configured", slog.String("mode", config.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
		})
	}
}
