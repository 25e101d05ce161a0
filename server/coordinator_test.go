package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCoordinatorSocketRoundTrip(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{PublicBaseURL: "http://srv"})

	c.BindSender("cli_1", func(cmd Command) error {
		if cmd.Type != "get_file_tree" || cmd.RequestID == "" {
			t.Errorf("command = %+v", cmd)
		}
		if cmd.UploadURL != "" {
			t.Error("socket command should not carry an upload URL")
		}
		go c.HandleResponse("cli_1", cmd.RequestID, json.RawMessage(`{"files":["a.go"]}`))
		return nil
	})

	raw, err := c.Request(context.Background(), "cli_1", "get_file_tree", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "a.go") {
		t.Fatalf("response = %s", raw)
	}
}

func TestCoordinatorPollingQueuesWithUploadURL(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{PublicBaseURL: "http://srv", Timeout: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "cli_p", "get_file_content", pathsPayload{Paths: []string{"x"}})
		done <- err
	}()

	var cmds []Command
	deadline := time.Now().Add(time.Second)
	for len(cmds) == 0 && time.Now().Before(deadline) {
		cmds = c.PollCommands("cli_p")
		time.Sleep(time.Millisecond)
	}
	if len(cmds) != 1 {
		t.Fatalf("commands = %d, want 1", len(cmds))
	}
	cmd := cmds[0]
	want := "http://srv/v2/upload/cli_p/" + cmd.RequestID
	if cmd.UploadURL != want {
		t.Fatalf("upload URL = %q, want %q", cmd.UploadURL, want)
	}

	// The queue is drained: a second poll is empty, not nil.
	if again := c.PollCommands("cli_p"); again == nil || len(again) != 0 {
		t.Fatalf("second poll = %v", again)
	}

	if !c.HandleResponse("cli_p", cmd.RequestID, json.RawMessage(`{}`)) {
		t.Fatal("response not consumed")
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestCoordinatorTimeout(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{Timeout: 20 * time.Millisecond})

	_, err := c.Request(context.Background(), "cli_q", "get_file_tree", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	// The abandoned request no longer accepts a late response.
	if c.HandleResponse("cli_q", "req_late", json.RawMessage(`{}`)) {
		t.Fatal("late response consumed")
	}
}

func TestCoordinatorContextCancel(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx, "cli_c", "get_file_tree", nil)
		done <- err
	}()
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCoordinatorPushHasNoRequestID(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	if err := c.Push("cli_p", "update_files", updateFilesPayload{}); err != nil {
		t.Fatal(err)
	}

	cmds := c.PollCommands("cli_p")
	if len(cmds) != 1 {
		t.Fatalf("commands = %d, want 1", len(cmds))
	}
	if cmds[0].RequestID != "" || cmds[0].UploadURL != "" {
		t.Fatalf("push command = %+v, want no reply plumbing", cmds[0])
	}
}

func TestCoordinatorDropClientClearsQueue(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})
	c.Push("cli_d", "update_files", nil)
	c.DropClient("cli_d")
	if cmds := c.PollCommands("cli_d"); len(cmds) != 0 {
		t.Fatalf("commands after drop = %v", cmds)
	}
}

func TestCoordinatorSendFailureSurfaces(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{Timeout: time.Minute})
	c.BindSender("cli_e", func(Command) error { return errors.New("broken pipe") })

	_, err := c.Request(context.Background(), "cli_e", "get_file_tree", nil)
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("err = %v", err)
	}
}
