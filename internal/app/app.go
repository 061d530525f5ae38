// Package app wires the streamwh components together from configuration and
// manages the lifecycle of the HTTP and gRPC servers.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	httpapi "github.com/shopnow/streamwh/internal/api/http"
	"github.com/shopnow/streamwh/internal/config"
	"github.com/shopnow/streamwh/internal/dimension"
	"github.com/shopnow/streamwh/internal/engine"
	"github.com/shopnow/streamwh/internal/fact"
	"github.com/shopnow/streamwh/internal/observability"
	"github.com/shopnow/streamwh/internal/policy"
	"github.com/shopnow/streamwh/internal/quarantine"
	"github.com/shopnow/streamwh/internal/server"
	"github.com/shopnow/streamwh/internal/storage"
	"github.com/shopnow/streamwh/internal/store"
	"github.com/shopnow/streamwh/internal/store/memory"
	"github.com/shopnow/streamwh/internal/store/sqlite"
	"github.com/shopnow/streamwh/internal/validate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// App owns every component of a running engine.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	Store      store.Store
	Sink       storage.ObjectStorage
	Stats      *observability.PipelineStats
	Policy     *policy.Policy
	Quarantine *quarantine.Router
	Syncer     *dimension.Synchronizer
	Engine     *engine.Engine

	shutdown *server.ShutdownManager
	health   *health.Server

	mu       sync.Mutex
	running  bool
	httpAddr net.Addr
	grpcAddr net.Addr
	errCh    chan error
}

// New builds the engine described by cfg. The store is opened and the
// quarantine sink connected; no server is started.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	shutdownCfg := server.DefaultShutdownConfig()
	shutdownCfg.Logger = logger
	a := &App{
		cfg:      cfg,
		logger:   logger,
		Stats:    observability.NewPipelineStats(),
		shutdown: server.NewShutdownManager(shutdownCfg),
		errCh:    make(chan error, 2),
	}

	st, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.shutdown.RegisterCloser("store", st)

	sink, err := OpenSink(ctx, cfg.Quarantine)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.Sink = sink

	state, err := policy.ParseState(cfg.Policy.State)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.Policy = policy.New(state, logger)

	qOpts := quarantine.DefaultOptions()
	qOpts.MaxRetries = cfg.Quarantine.MaxRetries
	qOpts.RetryBase = cfg.Quarantine.RetryBase
	qOpts.MarkerFields = cfg.Quarantine.MarkerFields
	qOpts.Logger = logger
	qOpts.Stats = a.Stats
	a.Quarantine = quarantine.NewRouter(sink, qOpts)

	syncOpts := dimension.Options{
		MaxRetries:   cfg.Sync.MaxRetries,
		RetryBackoff: cfg.Sync.RetryBackoff,
		LockShards:   cfg.Sync.LockShards,
		Logger:       logger,
		Stats:        a.Stats,
	}
	a.Syncer = dimension.New(st, syncOpts)

	a.Engine = engine.New(
		validate.New(cfg.Quarantine.MarkerFields),
		a.Syncer,
		fact.NewWriter(st, logger, a.Stats).WithRetry(cfg.Sync.MaxRetries, cfg.Sync.RetryBackoff),
		a.Quarantine,
		engine.Options{Logger: logger, Stats: a.Stats},
	)

	logger.Info().
		Str("store", cfg.Store.Type).
		Str("quarantine", cfg.Quarantine.Type).
		Str("policy", cfg.Policy.State).
		Msg("engine ready")
	return a, nil
}

// OpenStore opens the configured warehouse store.
func OpenStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		st, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
}

// OpenSink connects the configured quarantine object storage.
func OpenSink(ctx context.Context, cfg config.QuarantineConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		s, err := storage.NewLocalStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open quarantine storage: %w", err)
		}
		return s, nil
	case "s3":
		s3cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3cfg.Region = cfg.S3.Region
		}
		s3cfg.Endpoint = cfg.S3.Endpoint
		s3cfg.UsePathStyle = cfg.S3.Endpoint != ""
		s, err := storage.NewS3Storage(ctx, cfg.S3.Bucket, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open quarantine storage: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported quarantine type: %s", cfg.Type)
}

// Handler returns the HTTP API of the app.
func (a *App) Handler() http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Engine:       a.Engine,
		Store:        a.Store,
		Quarantine:   a.Quarantine,
		Policy:       a.Policy,
		Stats:        a.Stats,
		Logger:       a.logger,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
		AdminToken:   a.cfg.HTTP.AdminToken,
		Shutdown:     a.shutdown,
	})
}

// Start begins serving HTTP and, when enabled, the gRPC health service.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	srv := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.httpAddr = ln.Addr()
	a.forward(a.shutdown.ServeHTTP(srv, ln))
	a.logger.Info().Str("addr", a.httpAddr.String()).Msg("http server started")

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.shutdown.Shutdown(ctx, "grpc start failed")
			return err
		}
	}

	a.running = true
	return nil
}

func (a *App) startGRPC() error {
	ln, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
	}

	grpcServer := grpc.NewServer()
	a.health = health.NewServer()
	a.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	a.health.SetServingStatus("streamwh.Engine", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, a.health)

	a.shutdown.OnShutdownStart(a.health.Shutdown)
	a.shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
		grpcServer.GracefulStop()
		return nil
	}))

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := grpcServer.Serve(ln); err != nil {
			errCh <- err
		}
	}()
	a.grpcAddr = ln.Addr()
	a.forward(errCh)
	a.logger.Info().Str("addr", a.grpcAddr.String()).Msg("grpc health server started")
	return nil
}

// forward relays the first error of a server to the app.
func (a *App) forward(errCh <-chan error) {
	go func() {
		if err, ok := <-errCh; ok && err != nil {
			a.errCh <- err
		}
	}()
}

// HTTPAddr returns the bound HTTP address once started.
func (a *App) HTTPAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.httpAddr
}

// GRPCAddr returns the bound gRPC address once started.
func (a *App) GRPCAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.grpcAddr
}

// Wait blocks until a signal arrives, ctx ends or a server fails, then
// shuts everything down.
func (a *App) Wait(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		select {
		case err := <-a.errCh:
			serveErr <- err
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err := a.shutdown.ListenForSignals(waitCtx)
	select {
	case e := <-serveErr:
		return e
	default:
		return err
	}
}

// Close releases every resource. It is safe to call on an app that was
// never started.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	return a.shutdown.Shutdown(ctx, "close")
}
