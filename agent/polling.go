package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// runPolling registers over /v2 and serves commands from /v2/check
// until a request fails or ctx is cancelled.
func (a *Agent) runPolling(ctx context.Context) error {
	if err := a.pollRegister(ctx); err != nil {
		return err
	}
	a.logger.Info("polling mode active",
		"server", a.cfg.ServerURL, "interval", a.cfg.PollInterval)
	defer a.pollDisconnect()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.pollOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *Agent) pollRegister(ctx context.Context) error {
	var out struct {
		ClientID string `json:"client_id"`
	}
	err := a.postJSON(ctx, a.cfg.ServerURL+"/v2/register", map[string]string{
		"client_id":     a.cfg.ClientID,
		"hostname":      a.cfg.Hostname,
		"root_dir_name": a.ws.RootDirName(),
	}, &out)
	if err != nil {
		return fmt.Errorf("agent: register: %w", err)
	}
	if out.ClientID != "" {
		a.cfg.ClientID = out.ClientID
	}
	return nil
}

// pollDisconnect is best-effort: the server also drops the client on
// its own when the socket replaces us or the hostname re-registers.
func (a *Agent) pollDisconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.postJSON(ctx, a.cfg.ServerURL+"/v2/disconnect",
		map[string]string{"client_id": a.cfg.ClientID}, nil)
}

func (a *Agent) pollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.cfg.ServerURL+"/v2/check?client_id="+a.cfg.ClientID, nil)
	if err != nil {
		return fmt.Errorf("agent: build check request: %w", err)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("agent: check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: check: status %d", resp.StatusCode)
	}

	var out struct {
		Commands []command `json:"commands"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("agent: decode check response: %w", err)
	}

	for _, cmd := range out.Commands {
		payload, reply, err := a.handle(cmd)
		if err != nil {
			a.logger.Warn("command failed", "type", cmd.Type, "error", err)
		}
		if !reply || cmd.RequestID == "" {
			continue
		}
		if err := a.upload(ctx, cmd.RequestID, payload); err != nil {
			return err
		}
	}
	return nil
}

// upload answers a polled command. The URL is derived from the
// configured server base; the advertised upload_url serves pollers that
// only know the command frame.
func (a *Agent) upload(ctx context.Context, requestID string, payload json.RawMessage) error {
	url := fmt.Sprintf("%s/v2/upload/%s/%s", a.cfg.ServerURL, a.cfg.ClientID, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("agent: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("agent: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: upload: status %d", resp.StatusCode)
	}
	return nil
}

func (a *Agent) postJSON(ctx context.Context, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("agent: marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("agent: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
