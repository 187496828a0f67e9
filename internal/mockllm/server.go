// Package mockllm is a stand-in completion backend with a configurable
// failure profile: some requests hang, some fail, the rest answer slowly.
package mockllm

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultReply is the completion every successful request returns.
const DefaultReply = "This is a mock response from a pretend LLM."

// Config describes how the backend misbehaves.
type Config struct {
	HangRate  float64
	FailRate  float64
	MinDelay  time.Duration
	MaxDelay  time.Duration
	Reply     string
	FailFirst int // the first N requests fail regardless of the rates
}

// DefaultConfig hangs 10% of requests, fails 20% of the rest and answers the
// others after 500-2000ms.
func DefaultConfig() Config {
	return Config{
		HangRate: 0.1,
		FailRate: 0.2,
		MinDelay: 500 * time.Millisecond,
		MaxDelay: 2000 * time.Millisecond,
		Reply:    DefaultReply,
	}
}

// Server implements POST /complete.
type Server struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	served int
}

// New creates a mock backend.
func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.Reply == "" {
		cfg.Reply = DefaultReply
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /complete", s.handleComplete)
	return mux
}

// Served returns how many requests reached the handler.
func (s *Server) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.served++
	n := s.served
	s.mu.Unlock()

	if n <= s.cfg.FailFirst {
		s.fail(w)
		return
	}
	if rand.Float64() < s.cfg.HangRate {
		s.logger.Info("hanging request", zap.Int("request", n))
		<-r.Context().Done()
		return
	}
	if rand.Float64() < s.cfg.FailRate {
		s.fail(w)
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Debug("rejecting undecodable body", zap.Int("request", n), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.logger.Info("completion requested", zap.Int("request", n), zap.Int("content_len", len(body.Content)))

	delay := s.cfg.MinDelay
	if spread := s.cfg.MaxDelay - s.cfg.MinDelay; spread > 0 {
		delay += rand.N(spread)
	}
	select {
	case <-time.After(delay):
	case <-r.Context().Done():
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"completion": s.cfg.Reply})
}

func (s *Server) fail(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mock-llm failure"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
