package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/litsync/litsync/idgen"
)

// DefaultRequestTimeout bounds how long the server waits for an agent
// to answer a relayed request.
const DefaultRequestTimeout = 60 * time.Second

// ErrTimeout is returned when an agent does not answer in time.
var ErrTimeout = errors.New("server: agent did not respond in time")

// Command is one instruction dispatched to an agent. Socket agents
// receive it as a message; polling agents pick it up from /v2/check and
// answer on UploadURL.
type Command struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UploadURL string          `json:"upload_url,omitempty"`
}

// Sender pushes a Command to a socket-connected agent.
type Sender func(Command) error

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// PublicBaseURL is the externally reachable server base, used to
	// build upload URLs for polling agents.
	PublicBaseURL string
	Timeout       time.Duration
	IDs           idgen.Generator
	Logger        *slog.Logger
}

func (c *CoordinatorConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultRequestTimeout
	}
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("req_", idgen.Default)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Coordinator matches requests to agents with their eventual responses,
// regardless of transport. Safe for concurrent use.
type Coordinator struct {
	cfg CoordinatorConfig

	mu      sync.Mutex
	pending map[string]chan json.RawMessage // request ID -> reply
	queues  map[string][]Command            // client ID -> polling backlog
	senders map[string]Sender               // client ID -> socket sender
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		cfg:     cfg,
		pending: make(map[string]chan json.RawMessage),
		queues:  make(map[string][]Command),
		senders: make(map[string]Sender),
	}
}

// BindSender attaches a socket sender for a client. Commands for the
// client are pushed immediately instead of queued for polling.
func (c *Coordinator) BindSender(clientID string, send Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders[clientID] = send
}

// UnbindSender detaches the socket sender for a client.
func (c *Coordinator) UnbindSender(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.senders, clientID)
}

// DropClient clears any queued commands for a departed client.
func (c *Coordinator) DropClient(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.senders, clientID)
	delete(c.queues, clientID)
}

// Request dispatches a command to the agent and waits for its response
// payload. Returns ErrTimeout when the agent stays silent past the
// configured timeout.
func (c *Coordinator) Request(ctx context.Context, clientID, typ string, payload any) (json.RawMessage, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	reqID := c.cfg.IDs()
	cmd := Command{Type: typ, RequestID: reqID, Payload: raw}

	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()

	if err := c.dispatch(clientID, cmd, true); err != nil {
		c.abandon(reqID)
		return nil, err
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		c.abandon(reqID)
		c.cfg.Logger.Warn("request timed out",
			"client_id", clientID, "request_id", reqID, "type", typ)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.abandon(reqID)
		return nil, ctx.Err()
	}
}

// Push dispatches a fire-and-forget command, with no response expected.
func (c *Coordinator) Push(clientID, typ string, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return c.dispatch(clientID, Command{Type: typ, Payload: raw}, false)
}

// HandleResponse delivers an agent's response payload to the waiting
// request. Reports whether a request was still waiting for it.
func (c *Coordinator) HandleResponse(clientID, requestID string, payload json.RawMessage) bool {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()

	if !ok {
		c.cfg.Logger.Warn("response for unknown request",
			"client_id", clientID, "request_id", requestID)
		return false
	}
	ch <- payload
	return true
}

// PollCommands drains and returns the queued commands for a polling
// client. Never returns nil.
func (c *Coordinator) PollCommands(clientID string) []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmds := c.queues[clientID]
	delete(c.queues, clientID)
	if cmds == nil {
		cmds = []Command{}
	}
	return cmds
}

func (c *Coordinator) dispatch(clientID string, cmd Command, wantsReply bool) error {
	c.mu.Lock()
	send, ok := c.senders[clientID]
	if !ok {
		if wantsReply {
			cmd.UploadURL = c.uploadURL(clientID, cmd.RequestID)
		}
		c.queues[clientID] = append(c.queues[clientID], cmd)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := send(cmd); err != nil {
		return fmt.Errorf("server: send command to %s: %w", clientID, err)
	}
	return nil
}

func (c *Coordinator) uploadURL(clientID, requestID string) string {
	return fmt.Sprintf("%s/v2/upload/%s/%s", c.cfg.PublicBaseURL, clientID, requestID)
}

func (c *Coordinator) abandon(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("server: marshal payload: %w", err)
	}
	return raw, nil
}
