package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusCommand queries the health endpoint of a running server
type StatusCommand struct {
	URL    string
	Out    io.Writer
	Client *http.Client
}

type healthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	Uptime            string `json:"uptime"`
	SessionStore      string `json:"session_store"`
	RestoreInProgress bool   `json:"restore_in_progress"`
}

// Execute prints the server status. An unreachable or degraded server is an error.
func (s *StatusCommand) Execute(ctx context.Context) error {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(s.Out, "Status:   Stopped")
		return fmt.Errorf("server not reachable: %w", err)
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("invalid health response: %w", err)
	}

	fmt.Fprintf(s.Out, "Status:   %s\n", health.Status)
	fmt.Fprintf(s.Out, "Version:  %s\n", health.Version)
	fmt.Fprintf(s.Out, "Uptime:   %s\n", health.Uptime)
	fmt.Fprintf(s.Out, "Sessions: %s\n", health.SessionStore)
	if health.RestoreInProgress {
		fmt.Fprintln(s.Out, "Restore:  in progress")
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server is %s", health.Status)
	}
	return nil
}
