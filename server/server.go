// Package server ties the connection acceptor to the request dispatcher:
// it binds the listening socket, frames HTTP/1.1 with keep-alive, and
// hands every request to a fresh sandbox. Per-connection framing failures
// terminate only their connection; per-request failures only their
// request.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hermit-os/wasmserve/config"
	"github.com/hermit-os/wasmserve/engine"
	"github.com/hermit-os/wasmserve/sandbox"
)

// Server hosts one precompiled handler component behind an HTTP listener.
type Server struct {
	cfg     config.Server
	log     *zap.Logger
	engine  *engine.Engine
	ticker  *engine.EpochTicker
	handler *Handler
}

// New performs all startup work that must precede binding the socket:
// the allocator probe, engine construction, component compilation, the
// epoch ticker (only with a deadline configured) and the sandbox factory.
// cfg must already be validated.
func New(ctx context.Context, cfg config.Server, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	strategy := engine.ProbeAllocator()
	log.Info("allocator strategy selected", zap.Stringer("strategy", strategy))

	cacheDir := cfg.CacheDir
	if cacheDir == "" && !cfg.NoCache {
		cacheDir = engine.DefaultCacheDir()
	}
	if cfg.NoCache {
		cacheDir = ""
	}

	eng, err := engine.New(ctx, engine.Config{
		Strategy:         strategy,
		MemoryLimitPages: cfg.MemoryLimitPages(),
		CacheDir:         cacheDir,
	})
	if err != nil {
		return nil, err
	}
	if err := eng.Load(ctx, cfg.Component); err != nil {
		eng.Close(ctx)
		return nil, err
	}

	var ticker *engine.EpochTicker
	if cfg.Timeout > 0 {
		ticker = engine.NewEpochTicker(time.Duration(cfg.Timeout) / engine.EpochPrecision)
	}

	factory, err := sandbox.NewFactory(sandbox.Config{
		FullWASI: cfg.Capabilities().FullWASI(),
		Env:      cfg.Env,
		Dirs:     cfg.Dirs,
	}, ticker, os.Stdout, os.Stderr)
	if err != nil {
		if ticker != nil {
			ticker.Stop()
		}
		eng.Close(ctx)
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		engine:  eng,
		ticker:  ticker,
		handler: NewHandler(eng, factory, cfg.Fuel, log),
	}, nil
}

// Run binds the socket and serves until ctx is cancelled (the interrupt
// signal) or the listener fails. Cancellation stops accepting and closes
// open connections without awaiting in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := Listen(ctx, s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info("serving HTTP", zap.String("addr", ln.Addr().String()))

	srv := &http.Server{
		Handler:  s.handler,
		ErrorLog: zap.NewStdLog(s.log),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the ticker and the engine. Call after Run has returned.
func (s *Server) Close(ctx context.Context) error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return s.engine.Close(ctx)
}
