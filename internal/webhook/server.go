// Package webhook is the inbound HTTP surface.
//
// POST requests carry one Telegram update and are always answered 200 {"ok":true},
// whatever happens while handling them; anything else gets a plain liveness
// string. Telegram retries non-2xx answers, so errors never reach the status code.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"github.com/Vagrant55/kaf-telegram-bot/internal/relay"
	rtsup "github.com/Vagrant55/kaf-telegram-bot/internal/runtime/supervisor"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

const (
	DefaultAddr         = ":10000"
	DefaultMaxBodyBytes = 1 << 20
)

type Config struct {
	Addr string
	// Path receives updates. Default "/".
	Path         string
	MaxBodyBytes int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Pprof PprofConfig
}

// Handler processes one decoded update. relay.Dispatcher implements it.
type Handler interface {
	HandleWithLogger(ctx context.Context, u *tele.Update, log logx.Logger)
}

var _ Handler = (*relay.Dispatcher)(nil)

type Server struct {
	mu  sync.Mutex
	cfg Config
	h   Handler
	log logx.Logger

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, h Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	cfg.Path = normalizePath(cfg.Path)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{cfg: cfg, h: h, log: log}
}

// Handler returns the routing mux. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.Pprof.Enabled {
		if err := mountPprof(mux, s.cfg.Pprof); err != nil {
			s.log.Error("pprof not mounted", logx.Err(err))
		} else {
			s.log.Info("pprof mounted", logx.String("prefix", normalizePrefix(s.cfg.Pprof.Prefix)), logx.Bool("token_set", s.cfg.Pprof.Token != ""))
		}
	}
	mux.HandleFunc(s.cfg.Path, s.serveUpdate)
	return mux
}

func (s *Server) serveUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, relay.LivenessText)
		return
	}

	reqID := uuid.NewString()
	w.Header().Set("X-Request-Id", reqID)
	log := s.log.With(logx.String("req_id", reqID))

	var u tele.Update
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&u); err != nil {
		log.Warn("update decode failed", logx.Err(err), logx.String("remote", r.RemoteAddr))
		writeOK(w)
		return
	}

	// Handling runs to completion even if Telegram drops the connection.
	s.h.HandleWithLogger(context.WithoutCancel(r.Context()), &u, log)
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// Start binds the listener and serves in the background. Bind errors are returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "webhook"))), rtsup.WithCancelOnError(true))
	s.ln, s.srv, s.sup = ln, srv, sup

	sup.Go("http.serve", func(c context.Context) error {
		err := srv.Serve(ln)
		if c.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	s.log.Info("webhook listening", logx.String("addr", ln.Addr().String()), logx.String("path", s.cfg.Path))
	return nil
}

// Addr is the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Done is closed when serving ends: after Stop, on ctx cancel, or on a serve
// failure reported by Err. It is nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return nil
	}
	return s.sup.Context().Done()
}

// Err reports an unexpected serve failure.
func (s *Server) Err() error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Stop shuts down gracefully, waiting for in-flight updates until ctx is done.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	start := time.Now()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("webhook shutdown incomplete", logx.Err(err))
		_ = srv.Close()
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("webhook stopped", logx.Duration("took", time.Since(start)))
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
