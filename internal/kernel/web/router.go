package web

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter assembles the outer gorilla/mux listener: a single
// PathPrefix("/") catch-all delegating every request to dispatcher, plus
// the admin websocket event stream mounted above it so its upgrade
// handshake is handled before the catch-all sees the request.
func NewRouter(dispatcher *Dispatcher, bus EventBus, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := mux.NewRouter()
	r.HandleFunc("/admin/events", adminEventsHandler(bus, logger))
	r.PathPrefix("/").Handler(dispatcher)
	return r
}

// adminEventsHandler upgrades a GET /admin/events request to a
// websocket and registers it with bus until the connection drops.
func adminEventsHandler(bus EventBus, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("admin event stream upgrade failed", "error", err)
			return
		}
		sub := NewWSSubscriber(r.RemoteAddr, conn, r.Context())
		if err := bus.Subscribe(sub); err != nil {
			_ = conn.Close()
			return
		}
		sub.ReadPump()
		_ = bus.Unsubscribe(sub)
	}
}
