package relay

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// NewHandler upgrades requests to websockets and attaches them to pool.
// Incoming frames are read and discarded so pings and closes are handled.
func NewHandler(pool *Pool, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Debug().Err(err).Str("component", "relay").Msg("websocket upgrade failed")
			return
		}
		pool.Add(conn)
		log.Debug().Str("component", "relay").Str("remote", req.RemoteAddr).Int("clients", pool.Count()).Msg("client connected")
		defer pool.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
