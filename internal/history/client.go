// Package history is the REST client for the remote history and model
// configuration service.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/nexus-chat/internal/domain"
)

var (
	// ErrUnauthorized is returned when the service rejects the credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("not found")
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// Client talks to the history service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for baseURL. A nil httpClient gets a default
// client with a 15s timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("component", "history"),
	}
}

// StatusError is a non-2xx response that maps to no sentinel.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("history service returned %d", e.Code)
	}
	return fmt.Sprintf("history service returned %d: %s", e.Code, e.Message)
}

type wireMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ListSessions returns the sessions of the credential's user. A null body is
// an empty list.
func (c *Client) ListSessions(ctx context.Context, credential string) ([]domain.Session, error) {
	var out []domain.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", credential, nil, &out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if out == nil {
		out = []domain.Session{}
	}
	return out, nil
}

// GetMessages returns the stored messages of a session in order. Roles
// outside the known set are kept as system messages.
func (c *Client) GetMessages(ctx context.Context, credential, sessionID string) ([]domain.Message, error) {
	var wire []wireMessage
	path := "/api/v1/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, credential, nil, &wire); err != nil {
		return nil, fmt.Errorf("get messages for %s: %w", sessionID, err)
	}

	msgs := make([]domain.Message, 0, len(wire))
	for _, w := range wire {
		role, err := domain.ParseRole(w.Role)
		if err != nil {
			c.logger.Warn("Clamping unknown message role", "session_id", sessionID, "message_id", w.ID, "role", w.Role)
			role = domain.RoleSystem
		}
		msgs = append(msgs, domain.Message{
			ID:        w.ID,
			Role:      role,
			Content:   w.Content,
			CreatedAt: w.CreatedAt,
		})
	}
	return msgs, nil
}

// CancelSession asks the service to stop generating for a session.
func (c *Client) CancelSession(ctx context.Context, credential, sessionID string) error {
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, credential, nil, nil); err != nil {
		return fmt.Errorf("cancel session %s: %w", sessionID, err)
	}
	return nil
}

// ListModels returns the model catalog.
func (c *Client) ListModels(ctx context.Context, credential string) ([]domain.ModelOption, error) {
	var out []domain.ModelOption
	if err := c.do(ctx, http.MethodGet, "/api/v1/models", credential, nil, &out); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if out == nil {
		out = []domain.ModelOption{}
	}
	return out, nil
}

// ListModelConfigs returns every per-agent model configuration of the user.
func (c *Client) ListModelConfigs(ctx context.Context, credential string) ([]domain.ModelConfig, error) {
	var out []domain.ModelConfig
	if err := c.do(ctx, http.MethodGet, "/api/v1/config", credential, nil, &out); err != nil {
		return nil, fmt.Errorf("list model configs: %w", err)
	}
	if out == nil {
		out = []domain.ModelConfig{}
	}
	return out, nil
}

// SaveModelConfig creates or replaces the model configuration for
// cfg.AgentType.
func (c *Client) SaveModelConfig(ctx context.Context, credential string, cfg domain.ModelConfig) error {
	if cfg.AgentType == "" {
		return fmt.Errorf("save model config: agent type is required")
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/config", credential, cfg, nil); err != nil {
		return fmt.Errorf("save model config %s: %w", cfg.AgentType, err)
	}
	return nil
}

// DeleteModelConfig removes the model configuration for agentType.
func (c *Client) DeleteModelConfig(ctx context.Context, credential, agentType string) error {
	path := "/api/v1/config?agent_type=" + url.QueryEscape(agentType)
	if err := c.do(ctx, http.MethodDelete, path, credential, nil, nil); err != nil {
		return fmt.Errorf("delete model config %s: %w", agentType, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, credential string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
