package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/caelum-ai/kaizen/internal/optimizer"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Client sends commands to a running daemon's control socket
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the given socket path
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    10 * time.Second,
	}
}

// SetTimeout adjusts the per-command deadline
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Send delivers one command and waits for the response
func (c *Client) Send(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon (is it running?): %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// Ping checks whether a daemon is answering on the socket
func (c *Client) Ping() error {
	resp, err := c.Send(Command{Type: CommandPing})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("daemon refused ping: %s", resp.Error)
	}
	return nil
}

// Status fetches the daemon's optimization status
func (c *Client) Status() (*optimizer.StatusResult, error) {
	var result optimizer.StatusResult
	if err := c.query(CommandStatus, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Principles fetches the principles currently in force
func (c *Client) Principles() (*optimizer.PrinciplesResult, error) {
	var result optimizer.PrinciplesResult
	if err := c.query(CommandPrinciples, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Insights fetches the synthesized insights report
func (c *Client) Insights() (*optimizer.InsightsResult, error) {
	var result optimizer.InsightsResult
	if err := c.query(CommandInsights, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Trigger asks the daemon to start an optimization cycle now. A busy
// daemon answers with the busy status, not an error.
func (c *Client) Trigger() (*optimizer.TriggerResult, error) {
	var result optimizer.TriggerResult
	if err := c.query(CommandTrigger, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Alerts fetches the monitor's active alerts
func (c *Client) Alerts() (*AlertsData, error) {
	var result AlertsData
	if err := c.query(CommandAlerts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Run fetches one cycle run record by id
func (c *Client) Run(runID string) (*types.CycleRun, error) {
	resp, err := c.Send(Command{Type: CommandRun, RunID: runID})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("run lookup failed: %s", resp.Error)
	}
	var run types.CycleRun
	if err := json.Unmarshal(resp.Data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run record: %w", err)
	}
	return &run, nil
}

// AddEvidence pushes one evidence event into the daemon
func (c *Client) AddEvidence(event *types.EvidenceEvent) error {
	resp, err := c.Send(Command{Type: CommandEvidence, Event: event})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("daemon rejected evidence: %s", resp.Error)
	}
	return nil
}

// query sends a data-carrying command and decodes its payload
func (c *Client) query(cmdType string, out any) error {
	resp, err := c.Send(Command{Type: cmdType})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s failed: %s", cmdType, resp.Error)
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("%s returned no data", cmdType)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", cmdType, err)
	}
	return nil
}
