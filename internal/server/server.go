// Package server hosts the preview over HTTP. It serves the assembled
// document, the per-run module handles, a JSON API over the project tree,
// and a websocket that pushes reload notices after each pipeline run.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tinkerbench/sketch/internal/logging"
	"github.com/tinkerbench/sketch/internal/pipeline"
	"github.com/tinkerbench/sketch/internal/snapshot"
	"github.com/tinkerbench/sketch/internal/vfs"
)

// Options configures the preview server.
type Options struct {
	Host string
	Port int
	// AllowedOrigins are extra origins accepted for websocket upgrades
	// and cross-origin API calls. The server's own host is always
	// allowed.
	AllowedOrigins []string
	Logger         logging.Logger
}

// Server hosts one project preview.
type Server struct {
	tree     *vfs.Tree
	pipeline *pipeline.Pipeline
	store    *snapshot.Store
	logger   logging.Logger
	options  Options

	hub *reloadHub

	mutex      sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New creates a server over the tree and pipeline. store may be nil when
// snapshot persistence is disabled.
func New(tree *vfs.Tree, pipe *pipeline.Pipeline, store *snapshot.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	logger := opts.Logger.WithComponent("server")

	s := &Server{
		tree:     tree,
		pipeline: pipe,
		store:    store,
		logger:   logger,
		options:  opts,
		hub:      newReloadHub(logger),
	}

	pipe.AddCallback(func(result pipeline.Result) {
		s.hub.broadcastReload(result)
	})

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /__run/", s.handleModule)
	mux.HandleFunc("GET /__placeholder/", s.handleModule)
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/tree", s.handleTree)
	mux.HandleFunc("GET /api/file/", s.handleReadFile)
	mux.HandleFunc("POST /api/ops", s.handleOps)
	mux.HandleFunc("GET /api/project", s.handleExportProject)
	mux.HandleFunc("PUT /api/project", s.handleImportProject)

	mux.HandleFunc("GET /api/snapshots", s.handleListSnapshots)
	mux.HandleFunc("PUT /api/snapshots/{name}", s.handleSaveSnapshot)
	mux.HandleFunc("POST /api/snapshots/{name}/restore", s.handleRestoreSnapshot)
	mux.HandleFunc("DELETE /api/snapshots/{name}", s.handleDeleteSnapshot)

	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withAccessLog(mux)
}

// Start binds the listener and begins serving in the background. Returns
// after the port is bound, so Addr is valid once Start succeeds.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.options.Host, fmt.Sprintf("%d", s.options.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	s.mutex.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.mutex.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, err, "serve")
		}
	}()

	s.logger.Info(ctx, "preview server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes websocket clients and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()

	s.mutex.Lock()
	server := s.httpServer
	s.mutex.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String(),
		)
	})
}

// allowedOrigin reports whether origin may open a websocket or call the
// API cross-origin. Same-host origins always pass.
func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	if host == r.Host {
		return true
	}
	for _, allowed := range s.options.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
