package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const reqMetaKey = contextKey("r-metadata")

// DefaultRoom is used when the path names no room.
const DefaultRoom = "default-room"

type RequestMetadata struct {
	IP     string
	RoomID string
	// PeerID is the collaborator id from the "peer" query parameter; empty
	// means the relay assigns the connection id.
	PeerID string
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

// creates and injects the RequestMetadata struct into the request.
// **This should be the first middleware in the chain.**
func RequestMetadataMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta := &RequestMetadata{}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr // Fallback
			}
			reqMeta.IP = ip

			reqMeta.RoomID = strings.TrimSpace(chi.URLParam(r, "roomID"))
			if reqMeta.RoomID == "" {
				reqMeta.RoomID = DefaultRoom
			}
			reqMeta.PeerID = strings.TrimSpace(r.URL.Query().Get("peer"))

			ctx := context.WithValue(r.Context(), reqMetaKey, reqMeta)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
