// Package proxy serves POST /api/chat and forwards it to the completion
// backend's POST /complete.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxMessageLength is the longest accepted message, in characters.
const MaxMessageLength = 4000

const maxBodyBytes = 1 << 20

// Config configures the proxy.
type Config struct {
	Addr       string
	BackendURL string
	RateLimit  RateLimitConfig
}

type chatRequest struct {
	Message *string `json:"message"`
}

type chatResponse struct {
	Completion string `json:"completion"`
}

type errorBody struct {
	Error string `json:"error"`
}

type backendRequest struct {
	Content string `json:"content"`
}

type backendResponse struct {
	Completion string `json:"completion"`
	Error      string `json:"error"`
}

// Proxy is the HTTP boundary between chat clients and the backend.
type Proxy struct {
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	handler http.Handler
	server  *http.Server
	ln      net.Listener
}

// New creates a proxy. A nil client uses one without a timeout; requests are
// bounded by the caller's context instead.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Proxy {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Proxy{cfg: cfg, client: client, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", p.handleChat)
	mux.HandleFunc("GET /healthz", handleHealth)
	p.handler = Chain(mux,
		RequestID(),
		Logging(logger),
		RateLimit(cfg.RateLimit, logger),
	)
	return p
}

// Handler returns the proxy's HTTP handler.
func (p *Proxy) Handler() http.Handler {
	return p.handler
}

// Listen binds cfg.Addr. Serve must be called to start answering.
func (p *Proxy) Listen() error {
	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", p.cfg.Addr, err)
	}
	p.ln = ln
	p.server = &http.Server{
		Handler:           p.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Serve answers requests on the bound listener in the background.
func (p *Proxy) Serve() {
	p.logger.Info("proxy listening",
		zap.String("addr", p.ln.Addr().String()),
		zap.String("backend", p.cfg.BackendURL))
	go func() {
		if err := p.server.Serve(p.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("proxy server stopped", zap.Error(err))
		}
	}()
}

// Start is Listen followed by Serve.
func (p *Proxy) Start() error {
	if err := p.Listen(); err != nil {
		return err
	}
	p.Serve()
	return nil
}

// Addr returns the bound address once started.
func (p *Proxy) Addr() string {
	if p.ln == nil {
		return p.cfg.Addr
	}
	return p.ln.Addr().String()
}

// URL returns the base URL clients should post to.
func (p *Proxy) URL() string {
	return "http://" + p.Addr()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	err := p.server.Shutdown(ctx)
	_ = p.ln.Close() // still open if Serve never ran
	return err
}

func (p *Proxy) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	if req.Message == nil || strings.TrimSpace(*req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Message cannot be empty"})
		return
	}
	if utf8.RuneCountInString(*req.Message) > MaxMessageLength {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("Message too long (max %d characters)", MaxMessageLength)})
		return
	}

	status, resp, err := p.complete(r.Context(), *req.Message)
	if err != nil {
		if r.Context().Err() == nil {
			p.logger.Warn("backend unreachable", zap.Error(err))
		}
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "Failed to reach backend service"})
		return
	}
	if status < 200 || status >= 300 {
		msg := resp.Error
		if msg == "" {
			msg = "Backend error"
		}
		writeJSON(w, status, errorBody{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Completion: resp.Completion})
}

func (p *Proxy) complete(ctx context.Context, content string) (int, *backendResponse, error) {
	body, err := json.Marshal(backendRequest{Content: content})
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BackendURL, "/")+"/complete", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out backendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return 0, nil, fmt.Errorf("decode backend response (status %d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, &out, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
