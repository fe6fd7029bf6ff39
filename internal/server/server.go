package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/wasmserve/internal/metrics"
	"github.com/Kush-Singh-26/wasmserve/internal/mimetypes"
	"github.com/Kush-Singh-26/wasmserve/internal/wasmcheck"
)

// Server serves a directory tree with an explicit content-type table.
type Server struct {
	cfg     Config
	types   *mimetypes.Table
	logger  *slog.Logger
	metrics *metrics.ServeMetrics
	hub     *hub
	files   http.Handler
}

// New validates cfg and prepares a server. A nil table means
// mimetypes.Default(); a nil logger means slog.Default().
func New(cfg *Config, types *mimetypes.Table, logger *slog.Logger) (*Server, error) {
	c := DefaultConfig()
	if cfg != nil {
		c = cfg
	}
	conf := *c
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if types == nil {
		types = mimetypes.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     conf,
		types:   types,
		logger:  logger,
		metrics: metrics.NewServeMetrics(),
		files:   http.FileServer(afero.NewHttpFs(conf.Fs).Dir(conf.Root)),
	}
	if conf.LiveReload {
		s.hub = newHub()
	}
	return s, nil
}

// Config returns the validated configuration.
func (s *Server) Config() Config { return s.cfg }

// Metrics returns the live request counters.
func (s *Server) Metrics() *metrics.ServeMetrics { return s.metrics }

// Handler returns the full request handler, access logging included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.hub != nil {
		mux.Handle(EventsPath, s.hub)
		mux.HandleFunc(ClientScriptPath, s.serveClientScript)
	}
	mux.HandleFunc("/", s.serveFile)
	return s.logRequests(mux)
}

// serveFile resolves the content type from the table, then hands the
// request to the FileServer for everything else.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	if typ := s.contentType(r.URL.Path); typ != "" {
		w.Header().Set("Content-Type", typ)
	}
	s.files.ServeHTTP(w, r)
}

// contentType returns "" for missing paths, plain directory listings and
// requests the FileServer answers with a redirect.
func (s *Server) contentType(urlPath string) string {
	if strings.HasSuffix(urlPath, "/"+indexPage) {
		return ""
	}
	full := resolvePath(s.cfg.Root, urlPath)
	info, err := s.cfg.Fs.Stat(full)
	if err != nil {
		return ""
	}
	trailingSlash := strings.HasSuffix(urlPath, "/")
	if !info.IsDir() {
		if trailingSlash {
			return ""
		}
		return s.types.ForPath(normalizeRequestPath(urlPath))
	}
	if !trailingSlash {
		return ""
	}
	index, err := s.cfg.Fs.Stat(resolvePath(full, indexPage))
	if err != nil || index.IsDir() {
		return ""
	}
	return s.types.ForPath(indexPage)
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return ln, nil
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It returns nil after a graceful shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.hub != nil {
		httpServer.RegisterOnShutdown(s.hub.close)
	}

	var checker *wasmcheck.Checker
	if s.cfg.VerifyWasm {
		checker = wasmcheck.NewChecker(serveCtx, s.cfg.Fs)
		defer func() {
			if err := checker.Close(context.Background()); err != nil {
				s.logger.Warn("Failed to close wasm runtime", "error", err)
			}
		}()
		results, err := checker.Verify(serveCtx, s.cfg.Root)
		if err != nil {
			s.logger.Warn("Failed to verify wasm modules", "error", err)
		}
		wasmcheck.Log(s.logger, results)
	}

	var wg sync.WaitGroup
	if s.hub != nil {
		s.startWatcher(serveCtx, &wg, checker)
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-serveCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown error", "error", err)
		}
	}()

	err := httpServer.Serve(ln)
	cancel()
	<-shutdownDone
	wg.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
