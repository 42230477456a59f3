package server

import (
	"net/http"
	"os"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/content"
	"github.com/Tyrowin/chatrelay/internal/logging"
)

// Handlers serves the relay's HTTP endpoints.
type Handlers struct {
	hub      *Hub
	area     *content.Area
	metrics  *Metrics
	limits   Limits
	upgrader websocket.Upgrader
	log      *logging.Logger
}

// NewHandlers builds the HTTP handlers. Upgrades are accepted from the
// given origins; "*" allows any.
func NewHandlers(hub *Hub, area *content.Area, metrics *Metrics, origins []string, limits Limits, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.Nop()
	}
	log = log.Sub("http")
	policy := newOriginPolicy(origins, log)
	return &Handlers{
		hub:     hub,
		area:    area,
		metrics: metrics,
		limits:  limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		log: log,
	}
}

// WebSocketHandler upgrades GET requests and hands the connection to the hub.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.limits, h.log)
	if !h.hub.Register(client) {
		_ = conn.Close()
	}
}

// HealthHandler answers plain requests with a status line. WebSocket
// upgrades on the root path are served as on /ws.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.WebSocketHandler(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte("Chat relay is running!")); err != nil {
		h.log.Debug().Err(err).Msg("writing health response")
	}
}

// UploadsHandler serves an uploaded asset named by the pathFile query
// parameter. Anything outside the uploads directory is reported missing.
func (h *Handlers) UploadsHandler(w http.ResponseWriter, r *http.Request) {
	assetPath := r.URL.Query().Get("pathFile")
	name, err := h.area.Resolve(assetPath)
	if err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("rejected asset path")
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	f, err := os.Open(name)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}
