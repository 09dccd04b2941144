// Package httpapi serves a small local endpoint for injecting outbound
// messages without going through a group namespace. It is meant for
// operators and sidecar tooling on the same host.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "hivebot/pkg/logx"
)

// Sender delivers a message to a chat. Satisfied by the host service.
type Sender interface {
	SendMessage(ctx context.Context, chatJID, text string) error
}

type Config struct {
	Addr  string
	Token string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8087"
	}
	return c
}

type Server struct {
	cfg    Config
	sender Sender
	log    logx.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(cfg Config, sender Sender, log logx.Logger) *Server {
	return &Server{cfg: cfg.withDefaults(), sender: sender, log: log.With(logx.String("comp", "httpapi"))}
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /inject", s.handleInject)

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.srv = srv
	s.ln = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("http server error", logx.String("addr", s.cfg.Addr), logx.Err(err))
		}
	}()
	s.log.Info("inject endpoint listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
}

// Addr returns the bound address, or "" when the server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

type injectRequest struct {
	JID  string `json:"jid"`
	Text string `json:"text"`
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req injectRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.JID) == "" || req.Text == "" {
		http.Error(w, "jid and text are required", http.StatusBadRequest)
		return
	}

	if err := s.sender.SendMessage(r.Context(), req.JID, req.Text); err != nil {
		s.log.Warn("inject send failed", logx.String("jid", req.JID), logx.Err(err))
		http.Error(w, "send failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	got, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) == 1
}
