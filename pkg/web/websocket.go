package web

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
)

// allowedOrigins contains the list of allowed origins for WebSocket connections
var allowedOrigins = getWebSocketAllowedOrigins()

// getWebSocketAllowedOrigins returns allowed origins from environment or defaults
func getWebSocketAllowedOrigins() []string {
	if origins := os.Getenv("KUBE_COPILOT_WS_ALLOWED_ORIGINS"); origins != "" {
		return strings.Split(origins, ",")
	}
	return []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"}
}

// checkOrigin accepts same-host origins and the allowed list.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}

	// Exact host match to prevent subdomain bypass
	for _, allowed := range allowedOrigins {
		if origin == allowed || strings.HasPrefix(origin, allowed+":") || strings.HasPrefix(origin, allowed+"/") {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

// handleWebSocket reads RunRequest messages and streams the events of each
// run, one run at a time, until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws := &wsConn{conn: conn}
	defer conn.Close()

	emit := func(ev Event) {
		if err := ws.send(ev); err != nil {
			log.Debugf("web: dropping %s event: %v", ev.Type, err)
		}
	}

	for {
		var req RunRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("web: websocket read: %v", err)
			}
			return
		}

		if err := req.validate(); err != nil {
			emit(Event{Type: EventError, Content: err.Error()})
			emit(Event{Type: EventDone})
			continue
		}
		if s.copilot == nil || !s.copilot.IsReady() {
			emit(Event{Type: EventError, Content: NewAPIError(ErrCodeLLMNotConfigured, "").Message})
			emit(Event{Type: EventDone})
			continue
		}

		if _, err := s.copilot.Run(r.Context(), req.task(), NewEventListener(emit)); err != nil {
			log.Warnf("web: run failed: %v", err)
		}
		emit(Event{Type: EventDone})
	}
}
