// Package embedded provides an in-process agentmail server for host
// programs and tests.
package embedded

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/agentmail/internal/archive"
	"github.com/mistakeknot/agentmail/internal/auth"
	"github.com/mistakeknot/agentmail/internal/config"
	"github.com/mistakeknot/agentmail/internal/httpapi"
	"github.com/mistakeknot/agentmail/internal/mail"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
	"github.com/mistakeknot/agentmail/internal/tool"
	"github.com/mistakeknot/agentmail/internal/ws"
)

// Config configures the embedded server.
type Config struct {
	// DataDir holds the store and the archive. Required.
	DataDir string

	// Port to bind on 127.0.0.1. 0 picks a free port.
	Port int

	// DisableArchive turns off the git archive; useful for hosts that
	// only need the relational half.
	DisableArchive bool
}

// Server is an embedded agentmail server.
type Server struct {
	cfg      Config
	store    *sqlite.Store
	svc      *mail.Service
	registry *tool.Registry
	hub      *ws.Hub
	http     *http.Server
	ln       net.Listener
	started  bool
	mu       sync.Mutex
}

// New builds the full stack over the data dir without binding the port.
func New(cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data dir required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	log := slog.Default()
	store, err := sqlite.New(filepath.Join(cfg.DataDir, "agentmail.db"), sqlite.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	var arch *archive.Archive
	if !cfg.DisableArchive {
		arch, err = archive.Open(filepath.Join(cfg.DataDir, "archive"), config.DefaultCommitAuthor, log)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
	}

	svc := mail.NewService(store, arch, mail.Options{}, log)
	registry, err := tool.NewRegistry(svc, config.DefaultRatePerMinute, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init registry: %w", err)
	}
	hub := ws.NewHub(registry)
	svc.WithBroadcaster(hub)

	router := httpapi.NewRouter(httpapi.NewService(registry),
		hub.Handler(), auth.Middleware(auth.ModeNone, nil, nil))

	return &Server{
		cfg:      cfg,
		store:    store,
		svc:      svc,
		registry: registry,
		hub:      hub,
		http:     &http.Server{Handler: router},
	}, nil
}

// Start binds 127.0.0.1 and serves in a goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("already started")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	s.started = true
	go func() {
		_ = s.http.Serve(ln)
	}()
	return nil
}

// URL returns the base URL once started.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return "http://" + s.ln.Addr().String()
}

// Service exposes the controllers for in-process callers.
func (s *Server) Service() *mail.Service { return s.svc }

// Registry exposes the tool frontier for in-process dispatch.
func (s *Server) Registry() *tool.Registry { return s.registry }

// Close shuts the listener and the store down.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.started {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.started = false
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
