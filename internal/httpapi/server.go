// Package httpapi exposes relaybot's two inbound surfaces:
//
//	POST /webhook   signed chat-platform events
//	GET  /dispatch  the periodic "anything due?" poke
//
// The poll endpoint always acknowledges with 200 regardless of whether
// anything was due; an external scheduler is expected to hit it about once
// a minute when the internal trigger is disabled.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type Config struct {
	Addr string
	// SecretToken guards the webhook: requests whose
	// X-Telegram-Bot-Api-Secret-Token header doesn't match are rejected
	// before any decoding happens.
	SecretToken string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// UpdateHandler consumes a decoded inbound update.
type UpdateHandler interface {
	Handle(ctx context.Context, up transport.Update)
}

// Trigger performs one due check.
type Trigger interface {
	Run(ctx context.Context, now time.Time) (int, error)
}

type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	router  UpdateHandler
	trigger Trigger
	decode  func(body []byte) (transport.Update, error)

	ln       net.Listener
	srv      *http.Server
	stopDone chan struct{}
}

func New(cfg Config, router UpdateHandler, trigger Trigger, decode func([]byte) (transport.Update, error), log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, router: router, trigger: trigger, decode: decode, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/dispatch", s.handleDispatch)
	return mux
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	secret := s.cfg.SecretToken
	s.mu.Unlock()
	if secret != "" {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			s.log.Warn("webhook rejected: bad secret token", logx.String("remote", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	// The raw payload is only worth stringifying when debug is on.
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("webhook payload", logx.Int("bytes", len(body)), logx.String("body", string(body)))
	}
	up, err := s.decode(body)
	if err != nil {
		s.log.Warn("webhook decode failed", logx.Err(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.router.Handle(r.Context(), up)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The poke is always acknowledged; delivery problems live in the logs,
	// not in the scheduler's response handling.
	if n, err := s.trigger.Run(r.Context(), time.Now()); err != nil {
		s.log.Error("dispatch trigger failed", logx.Err(err))
	} else if n > 0 {
		s.log.Info("dispatch trigger delivered", logx.Int("entries", n))
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) Start(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.srv != nil {
			s.mu.Unlock()
			return nil
		}
		// If a stop is in progress, wait for it (avoid double listen).
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		cur := s.cfg
		s.mu.Unlock()

		addr := strings.TrimSpace(cur.Addr)
		if addr == "" {
			addr = "127.0.0.1:8080"
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Handler:      s.Handler(),
			ReadTimeout:  cur.ReadTimeout,
			WriteTimeout: cur.WriteTimeout,
			IdleTimeout:  cur.IdleTimeout,
		}

		s.mu.Lock()
		s.ln = ln
		s.srv = srv
		s.mu.Unlock()

		go func() {
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("http server stopped with error", logx.Err(err))
			}
		}()

		s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
		return nil
	}
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.srv == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	// Ensure the listener is closed even if Shutdown is stuck.
	if ln != nil {
		_ = ln.Close()
	}

	go func() {
		defer close(done)
		shutdownCtx := ctx
		if shutdownCtx == nil {
			shutdownCtx = context.Background()
		}
		_ = srv.Shutdown(shutdownCtx)
		_ = srv.Close()
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("http server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Reconfigure applies cfg, restarting the server only when a change
// requires it. Safe to call during hot-reload.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	if running && needsRestart(prev, cfg) {
		s.Stop(ctx)
		return s.Start(ctx)
	}
	return nil
}

func needsRestart(a, b Config) bool {
	if a.Addr != b.Addr {
		return true
	}
	// Timeouts affect server behavior; easiest is restart.
	return a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout
}
