package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

func socketURL(serverURL string) string {
	u := serverURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimRight(u, "/") + "/ws/client"
}

// runSocket holds one WebSocket session: register, then serve commands
// until the connection or ctx dies.
func (a *Agent) runSocket(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL(a.cfg.ServerURL), nil)
	if err != nil {
		return fmt.Errorf("agent: dial socket: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(map[string]string{
		"type":          "register",
		"hostname":      a.cfg.Hostname,
		"root_dir_name": a.ws.RootDirName(),
	}); err != nil {
		return fmt.Errorf("agent: register: %w", err)
	}
	a.logger.Info("socket connected",
		"server", a.cfg.ServerURL, "hostname", a.cfg.Hostname)

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return fmt.Errorf("agent: socket read: %w", err)
		}

		switch cmd.Type {
		case "registered", "error":
			// Registration acknowledgements carry no work.
			continue
		}

		payload, reply, err := a.handle(cmd)
		if err != nil {
			a.logger.Warn("command failed", "type", cmd.Type, "error", err)
		}
		if !reply {
			continue
		}
		if err := conn.WriteJSON(map[string]any{
			"type":       cmd.Type + "_response",
			"request_id": cmd.RequestID,
			"payload":    json.RawMessage(payload),
		}); err != nil {
			return fmt.Errorf("agent: socket write: %w", err)
		}
	}
}
