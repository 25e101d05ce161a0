package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents connect from localhost tools, not browsers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// socketMessage is the agent-to-server wire frame. Type "register"
// identifies the agent; types ending in "_response" answer a relayed
// command by request ID.
type socketMessage struct {
	Type        string          `json:"type"`
	RequestID   string          `json:"request_id,omitempty"`
	Hostname    string          `json:"hostname,omitempty"`
	RootDirName string          `json:"root_dir_name,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type socketConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *socketConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *socketConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.Close()
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := s.newClientID()
	sc := &socketConn{conn: conn}

	s.connMu.Lock()
	s.conns[id] = sc
	s.connMu.Unlock()

	s.reg.Add(id, remoteIP(r), "socket")
	s.coord.BindSender(id, func(cmd Command) error {
		return sc.writeJSON(cmd)
	})

	go s.readSocket(id, sc)
}

func (s *Server) readSocket(id string, sc *socketConn) {
	defer func() {
		s.connMu.Lock()
		delete(s.conns, id)
		s.connMu.Unlock()

		s.coord.DropClient(id)
		s.reg.Remove(id)
		sc.close()
		s.logger.Info("socket closed", "client_id", id)
	}()

	for {
		var msg socketMessage
		if err := sc.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("socket read failed", "client_id", id, "error", err)
			}
			return
		}

		switch {
		case msg.Type == "register":
			evicted, err := s.reg.Register(id, msg.Hostname, msg.RootDirName)
			if err != nil {
				_ = sc.writeJSON(map[string]string{"type": "error", "error": err.Error()})
				continue
			}
			if evicted != "" {
				s.evict(evicted)
			}
			s.record("register", id, map[string]string{"hostname": msg.Hostname, "transport": "socket"}, nil, time.Now())
			_ = sc.writeJSON(map[string]string{"type": "registered", "client_id": id})

		case strings.HasSuffix(msg.Type, "_response"):
			s.coord.HandleResponse(id, msg.RequestID, msg.Payload)

		default:
			s.logger.Warn("unknown socket message", "client_id", id, "type", msg.Type)
		}
	}
}
