package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xpanvictor/migoto-coach/pkg/Logger"
)

// ErrStatus wraps any non-2xx answer from the chat service.
var ErrStatus = errors.New("chat service returned an error status")

type InitRequest struct {
	Mode                string `json:"mode"`
	PersonaID           string `json:"persona_id,omitempty"`
	AvatarID            string `json:"avatar_id,omitempty"`
	AvatarInteractionID string `json:"avatar_interaction_id"`
	LanguageID          string `json:"language_id,omitempty"`
	ScenarioID          string `json:"scenario_id,omitempty"`
}

type CompleteRequest struct {
	Mode                string `json:"mode"`
	ScenarioID          string `json:"scenario_id,omitempty"`
	AvatarInteractionID string `json:"avatar_interaction_id"`
	SessionID           string `json:"session_id,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

// Client talks to the remote dialogue orchestration service.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *Logger.Logger
}

func New(baseURL string, requestTimeout time.Duration, logger *Logger.Logger) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		// streams are bounded by the caller's context, not a client timeout
		streamClient: &http.Client{},
		logger:       logger.Named("chatapi"),
	}
}

// WithToken returns a copy of the client that authenticates as the learner.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Initialize creates a remote chat session and returns its id.
func (c *Client) Initialize(ctx context.Context, req InitRequest) (string, error) {
	var out idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat/initialize", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("chat service returned an empty session id")
	}
	return out.ID, nil
}

// SendMessage posts the learner's text and returns the handle of the
// streamed reply.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	var out idResponse
	path := "/chat/" + url.PathEscape(sessionID) + "/message"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"message": text}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("chat service returned an empty message handle")
	}
	return out.ID, nil
}

// Stream opens the server-sent event channel for a message handle.
func (c *Client) Stream(ctx context.Context, handle string) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chat/stream/"+url.PathEscape(handle), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return newEventStream(resp.Body), nil
}

// Complete marks the mode/scenario combination complete for the learner.
func (c *Client) Complete(ctx context.Context, req CompleteRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/chat/complete", req, nil)
}

// Report fetches the scoring report of a session. The body is passed
// through untouched.
func (c *Client) Report(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/chat/report/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	c.logger.Debugf("%s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s %d: %s", ErrStatus, method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
