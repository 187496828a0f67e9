package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxReplySize caps how much of a reply body is read.
const maxReplySize = 1 << 20

// ErrBadEndpoint is returned by a Completer when no request can be built at all.
var ErrBadEndpoint = errors.New("invalid completion endpoint")

// Reply is what one network attempt produced: the HTTP status plus either the
// completion text or the server's error message.
type Reply struct {
	StatusCode int
	Completion string
	Error      string
}

// Completer performs a single completion attempt. A non-nil error means the
// attempt failed below HTTP (transport, unreadable body).
type Completer interface {
	Complete(ctx context.Context, content string) (*Reply, error)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Completion string `json:"completion"`
	Error      string `json:"error"`
}

// HTTPCompleter talks to the chat proxy's POST /api/chat endpoint.
type HTTPCompleter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPCompleter creates a completer for the proxy at endpoint
// (e.g. "http://127.0.0.1:3000"). The client must not set its own Timeout;
// deadlines belong to the orchestrator.
func NewHTTPCompleter(endpoint string, client *http.Client) *HTTPCompleter {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPCompleter{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

// Complete sends content and decodes the proxy's JSON reply.
func (c *HTTPCompleter) Complete(ctx context.Context, content string) (*Reply, error) {
	body, err := json.Marshal(chatRequest{Message: content})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	return &Reply{
		StatusCode: resp.StatusCode,
		Completion: decoded.Completion,
		Error:      decoded.Error,
	}, nil
}
