package communicator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second

	registerInitialBackoff = time.Second
	registerMaxBackoff     = 60 * time.Second
	registerMaxAttempts    = 10
)

// Client is the typed REST surface to the control plane. All agent-scoped
// endpoints live under <backendURL>/api/agents and authenticate with the
// X-Server-Token header.
type Client struct {
	backendURL  string
	serverToken string
	httpClient  *http.Client
	logger      *zap.Logger

	mu       sync.RWMutex
	identity *AgentIdentity
}

type ClientConfig struct {
	BackendURL  string
	ServerToken string
	Timeout     time.Duration
	Logger      *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		backendURL:  cfg.BackendURL,
		serverToken: cfg.ServerToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      cfg.Logger,
	}
}

// Identity returns the identity assigned at registration, or nil before the
// agent has successfully registered.
func (c *Client) Identity() *AgentIdentity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Register announces the node to the control plane and stores the assigned
// identity.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AgentIdentity, error) {
	var identity AgentIdentity
	if err := c.do(ctx, http.MethodPost, c.agentURL("/register"), req, &identity); err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	c.mu.Lock()
	c.identity = &identity
	c.mu.Unlock()

	c.logger.Info("registered with control plane",
		zap.String("agent_id", identity.ID),
		zap.String("agent_name", identity.Name),
	)
	return &identity, nil
}

// RegisterWithRetry retries registration with exponential backoff. On
// exhaustion it returns the last error; the caller continues degraded and
// EnsureRegistered recovers later.
func (c *Client) RegisterWithRetry(ctx context.Context, req RegisterRequest) (*AgentIdentity, error) {
	backoff := registerInitialBackoff
	var lastErr error

	for attempt := 1; attempt <= registerMaxAttempts; attempt++ {
		identity, err := c.Register(ctx, req)
		if err == nil {
			return identity, nil
		}
		lastErr = err

		c.logger.Warn("registration attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > registerMaxBackoff {
			backoff = registerMaxBackoff
		}
	}
	return nil, lastErr
}

// EnsureRegistered registers once if no identity is held yet.
func (c *Client) EnsureRegistered(ctx context.Context, req RegisterRequest) error {
	if c.Identity() != nil {
		return nil
	}
	_, err := c.Register(ctx, req)
	return err
}

// SendHeartbeat reports liveness, resources, and running pods.
func (c *Client) SendHeartbeat(ctx context.Context, snapshot HeartbeatSnapshot) error {
	var ack struct {
		Received bool `json:"received"`
	}
	return c.do(ctx, http.MethodPost, c.agentURL("/heartbeat"), snapshot, &ack)
}

// FetchCommands pulls the current command list for this agent.
func (c *Client) FetchCommands(ctx context.Context) ([]Command, error) {
	var commands []Command
	if err := c.do(ctx, http.MethodGet, c.agentURL("/commands"), nil, &commands); err != nil {
		return nil, err
	}
	return commands, nil
}

// AckCommand acknowledges receipt of a command.
func (c *Client) AckCommand(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, c.agentURL("/commands/"+id+"/ack"), nil, nil)
}

// MarkRunning marks a command as executing.
func (c *Client) MarkRunning(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, c.agentURL("/commands/"+id+"/running"), nil, nil)
}

// SendResult transmits the terminal state of a command.
func (c *Client) SendResult(ctx context.Context, id string, result CommandResult) error {
	return c.do(ctx, http.MethodPatch, c.agentURL("/commands/"+id+"/result"), result, nil)
}

// SendDeploymentLog relays one log line for a deployment.
func (c *Client) SendDeploymentLog(ctx context.Context, deploymentID string, entry DeploymentLog) error {
	url := fmt.Sprintf("%s/api/deployments/%s/logs", c.backendURL, deploymentID)
	return c.do(ctx, http.MethodPost, url, entry, nil)
}

// UpdateDeploymentStatus relays a status transition for a deployment.
func (c *Client) UpdateDeploymentStatus(ctx context.Context, deploymentID string, status DeploymentStatus) error {
	url := fmt.Sprintf("%s/api/deployments/%s/status", c.backendURL, deploymentID)
	return c.do(ctx, http.MethodPatch, url, status, nil)
}

// BackupUploadURL fetches the pre-signed object-store target for a backup.
func (c *Client) BackupUploadURL(ctx context.Context, backupID string) (string, error) {
	var resp BackupUploadURL
	if err := c.do(ctx, http.MethodGet, c.agentURL("/backups/"+backupID+"/upload-url"), nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// UpdateBackupStatus reports backup progress to the control plane.
func (c *Client) UpdateBackupStatus(ctx context.Context, backupID, status, message string) error {
	body := map[string]string{"status": status}
	if message != "" {
		body["message"] = message
	}
	return c.do(ctx, http.MethodPatch, c.agentURL("/backups/"+backupID+"/status"), body, nil)
}

func (c *Client) agentURL(path string) string {
	return c.backendURL + "/api/agents" + path
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("control plane request",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
