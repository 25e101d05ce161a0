package server

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(url, "http", "ws", 1)+"/ws/client", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func registerSocket(t *testing.T, conn *websocket.Conn, hostname, root string) string {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{
		"type": "register", "hostname": hostname, "root_dir_name": root,
	}); err != nil {
		t.Fatal(err)
	}
	var reply map[string]string
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	if reply["type"] != "registered" || reply["client_id"] == "" {
		t.Fatalf("register reply = %v", reply)
	}
	return reply["client_id"]
}

func TestSocketRegisterAndRequest(t *testing.T) {
	s, ts := newTestServer(t, nil)

	conn := dialSocket(t, ts.URL)
	id := registerSocket(t, conn, "devbox", "proj")

	done := make(chan []string, 1)
	go func() {
		files, err := s.FileTree(t.Context(), id)
		if err != nil {
			t.Error(err)
		}
		done <- files
	}()

	var cmd Command
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.Type != "get_file_tree" || cmd.RequestID == "" {
		t.Fatalf("command = %+v", cmd)
	}

	if err := conn.WriteJSON(map[string]any{
		"type":       "file_tree_response",
		"request_id": cmd.RequestID,
		"payload":    json.RawMessage(`{"files":["x.go"]}`),
	}); err != nil {
		t.Fatal(err)
	}

	files := <-done
	if len(files) != 1 || files[0] != "x.go" {
		t.Fatalf("files = %v", files)
	}
}

func TestSocketEvictionClosesOldConnection(t *testing.T) {
	s, ts := newTestServer(t, nil)

	old := dialSocket(t, ts.URL)
	registerSocket(t, old, "devbox", "proj")

	fresh := dialSocket(t, ts.URL)
	newID := registerSocket(t, fresh, "devbox", "proj")

	// The superseded connection is force-closed by the server.
	old.SetReadDeadline(time.Now().Add(time.Second))
	var discard json.RawMessage
	if err := old.ReadJSON(&discard); err == nil {
		t.Fatal("expected the evicted connection to be closed")
	}

	regs := s.reg.Registered()
	if len(regs) != 1 || regs[0].ID != newID {
		t.Fatalf("registered = %+v", regs)
	}
}

func TestSocketDisconnectCleansUp(t *testing.T) {
	s, ts := newTestServer(t, nil)

	conn := dialSocket(t, ts.URL)
	id := registerSocket(t, conn, "devbox", "proj")
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.reg.Get(id); !ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("client still registered after socket close")
}
