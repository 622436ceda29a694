package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	app "github.com/kode4food/stepwise"
	"github.com/kode4food/stepwise/internal/archive"
	"github.com/kode4food/stepwise/internal/config"
	"github.com/kode4food/stepwise/internal/engine"
	"github.com/kode4food/stepwise/internal/server"
	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/log"
)

type stepwise struct {
	cfg        *config.Config
	store      *store.Store
	archive    *archive.BlobArchive
	manager    *engine.Manager
	hub        *server.EventHub
	httpServer *http.Server
	supervise  context.CancelFunc
	quit       chan os.Signal
}

var (
	ErrCreateStore   = errors.New("failed to create store")
	ErrCreateArchive = errors.New("failed to create archive")
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("Failed to load .env file", log.Error(err))
		os.Exit(1)
	}

	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &stepwise{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(os.Args[1:]); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *stepwise) run(names []string) error {
	ctx := context.Background()
	if err := s.initializeStore(ctx); err != nil {
		return err
	}
	defer func() { _ = s.store.Close() }()

	if err := s.initializeArchive(ctx); err != nil {
		return err
	}
	if s.archive != nil {
		defer func() { _ = s.archive.Close() }()
	}

	if err := s.initializeManager(ctx); err != nil {
		return err
	}
	s.startServer()

	resumed, err := s.manager.Recover(ctx)
	if err != nil {
		slog.Error("Failed to recover some workflows", log.Error(err))
	}
	for _, id := range resumed {
		go s.report(id)
	}
	s.startSupervisor()

	for _, name := range names {
		id := api.ScheduleID(name)
		err := s.manager.Start(ctx, id, ActionProvision, api.Args{
			KeyClusterName: api.String(name),
		})
		if err != nil {
			slog.Error("Failed to start workflow",
				log.ScheduleID(id),
				log.Error(err))
			continue
		}
		go s.report(id)
	}

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *stepwise) setupLogging() {
	level := log.ParseLevel(s.cfg.LogLevel)

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Stepwise starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.Store.Addr),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort),
		slog.Int("redis_db", s.cfg.Store.DB),
		log.Operation(s.cfg.Operation),
		slog.Duration("lease_ttl", s.cfg.LeaseTTL),
		slog.Bool("archive_enabled", s.cfg.ArchiveEnabled()))
}

func (s *stepwise) initializeStore(ctx context.Context) error {
	st, err := store.New(s.cfg.Store)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateStore, err)
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return fmt.Errorf("%w: %w", ErrCreateStore, err)
	}
	s.store = st
	return nil
}

func (s *stepwise) initializeArchive(ctx context.Context) error {
	if !s.cfg.ArchiveEnabled() {
		return nil
	}
	a, err := archive.NewBlobArchive(
		ctx, s.cfg.ArchiveBucketURL, s.cfg.ArchivePrefix,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateArchive, err)
	}
	s.archive = a
	return nil
}

func (s *stepwise) initializeManager(ctx context.Context) error {
	s.hub = server.NewEventHub()
	opts := []engine.Option{
		engine.WithListener(s.hub.Listener()),
		engine.WithOperation(s.cfg.Operation),
		engine.WithLeaseTTL(s.cfg.LeaseTTL),
		engine.WithListener(func(ev engine.Event) {
			if ev.Type == engine.EventStepFailed {
				slog.Warn("Step failed",
					log.ScheduleID(ev.ScheduleID),
					log.Action(ev.Action),
					log.Step(ev.Step),
					log.ErrorString(ev.Error))
			}
		}),
	}
	if s.archive != nil {
		opts = append(opts, engine.WithArchive(s.archive))
	}

	s.manager = engine.NewManager(s.store, NewProvisioningWorkflow(), opts...)
	return s.manager.Setup(ctx)
}

func (s *stepwise) startServer() {
	srv := server.NewServer(s.manager, s.store, s.hub)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: srv.SetupRoutes(),
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

// startSupervisor keeps retrying recovery so that schedules whose lease was
// still held at startup are resumed once it expires
func (s *stepwise) startSupervisor() {
	if s.cfg.LeaseTTL <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.supervise = cancel
	go s.manager.Supervise(ctx, s.cfg.LeaseTTL, func(id api.ScheduleID) {
		go s.report(id)
	})
}

func (s *stepwise) report(id api.ScheduleID) {
	err := s.manager.Wait(context.Background(), id)
	switch {
	case err == nil:
		slog.Info("Workflow finished",
			log.ScheduleID(id))
	case errors.Is(err, context.Canceled),
		errors.Is(err, engine.ErrWorkflowNotFound):
	default:
		slog.Error("Workflow finished with error",
			log.ScheduleID(id),
			log.Error(err))
	}
}

func (s *stepwise) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if s.supervise != nil {
		s.supervise()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown failed", log.Error(err))
	}

	if err := s.manager.Teardown(ctx); err != nil {
		slog.Error("Manager shutdown failed", log.Error(err))
	}
	s.hub.Close()

	slog.Info("Stepwise exited")
}
