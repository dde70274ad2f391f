package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"socializor-server-go/internal/domain/auth"
	"socializor-server-go/internal/domain/eventbus"
	"socializor-server-go/internal/domain/user"
	"socializor-server-go/internal/platform/config"
	platformerrors "socializor-server-go/internal/platform/errors"
	"socializor-server-go/internal/platform/logging"
	"socializor-server-go/internal/platform/observability"
	"socializor-server-go/internal/platform/storage"
	httptransport "socializor-server-go/internal/transport/http"
	"socializor-server-go/internal/transport/listener"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitAddrInUse = 2
)

const shutdownTimeout = 15 * time.Second

// Options tune Run. Config, when set, replaces loading from disk.
type Options struct {
	ConfigPath string
	Config     *config.Config
	// Ready is called once both listeners serve.
	Ready func(plaintext, secure string)
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *config.Config
	configPath            string
	logger                *logging.Logger
	observabilityShutdown observability.ShutdownFunc
	db                    *gorm.DB
	users                 user.Repository
	issuer                *auth.Issuer
	bus                   *eventbus.Bus
	router                *httptransport.Router
	listeners             *listener.Manager
}

// Run loads configuration, wires every component, serves until ctx is
// cancelled or SIGINT/SIGTERM arrives, and then shuts down.
func Run(ctx context.Context, opts Options) error {
	state := &appState{config: opts.Config, configPath: opts.ConfigPath}
	defer state.release()

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		if state.logger != nil {
			state.logger.ErrorTag("Bootstrap", "initialisation failed: %v", err)
		}
		return err
	}
	logBootstrapGraph(steps, state.logger)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(signalCtx, state, opts.Ready)
}

// ExitCode maps the error returned by Run to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, syscall.EADDRINUSE):
		return ExitAddrInUse
	default:
		return ExitFailure
	}
}

func logBootstrapGraph(steps []initStep, logger *logging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("Bootstrap", "initialisation graph")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("Bootstrap", "%s (%s)", step.Title, step.ID)
			continue
		}
		logger.InfoTag("Bootstrap", "%s (%s) after %v", step.Title, step.ID, step.DependsOn)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "execute init steps", "nil bootstrap state")
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(platformerrors.KindBootstrap, step.ID, fmt.Sprintf("dependency %s not satisfied", dep))
			}
		}
		if step.Execute == nil {
			return platformerrors.New(platformerrors.KindBootstrap, step.ID, "missing execute function")
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the initialisation steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Set up observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Open user directory",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "auth:init-issuer",
			Title:     "Load signing keys",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindConfig,
			Execute:   initIssuerStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Start event bus",
			DependsOn: []string{"logging:init-provider"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "http:init-router",
			Title:     "Build HTTP router",
			DependsOn: []string{"storage:init-database", "auth:init-issuer"},
			Kind:      platformerrors.KindTransport,
			Execute:   initRouterStep,
		},
		{
			ID:        "listener:init-manager",
			Title:     "Prepare listeners",
			DependsOn: []string{"http:init-router", "eventbus:init"},
			Kind:      platformerrors.KindTransport,
			Execute:   initListenerStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	if state.config != nil {
		return nil
	}
	result, err := config.NewLoader().WithPath(state.configPath).Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	cfg := state.config.Log
	logger, err := logging.New(logging.Config{Level: cfg.Level, Dir: cfg.Dir, Filename: cfg.File})
	if err != nil {
		return err
	}
	state.logger = logger
	if state.configPath != "" {
		logger.InfoTag("Bootstrap", "configuration loaded from %s", state.configPath)
	} else {
		logger.InfoTag("Bootstrap", "no configuration file, using defaults")
	}
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	shutdown, err := observability.Setup(ctx, observability.Config{
		Enabled: state.config.Observability.Enabled,
	}, state.logger.Slog())
	if err != nil {
		return err
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	db, err := storage.Open(state.config.Database.Path)
	if err != nil {
		return err
	}
	state.db = db
	state.users = storage.NewUserRepository(db)
	state.logger.InfoTag("Storage", "user directory ready at %s", state.config.Database.Path)
	return nil
}

// initIssuerStep loads the key pair eagerly so a bad path fails at start
// instead of on the first request.
func initIssuerStep(_ context.Context, state *appState) error {
	cfg := state.config.Auth
	keys := auth.NewKeyRing(cfg.PrivateKeyFile, cfg.PublicKeyFile)
	if err := keys.Load(); err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "auth:init-issuer", "load key pair", err)
	}
	issuer, err := auth.NewIssuer(keys, auth.IssuerOptions{Issuer: cfg.Issuer, MaxAge: cfg.MaxAge})
	if err != nil {
		return err
	}
	state.issuer = issuer
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	state.bus = eventbus.New(eventbus.DefaultQueueSize, state.logger.Tagged("EventBus"))
	return nil
}

func initRouterStep(_ context.Context, state *appState) error {
	router, err := httptransport.Build(httptransport.Options{
		Config:         state.config,
		Logger:         state.logger,
		AuthMiddleware: httptransport.AuthGate(state.issuer, state.logger.Tagged("AuthGate")),
	})
	if err != nil {
		return err
	}
	httptransport.NewTokenHandler(state.issuer, state.users, state.logger.Tagged("Token")).RegisterRoutes(router)
	state.router = router
	return nil
}

func initListenerStep(_ context.Context, state *appState) error {
	server := state.config.Server
	manager, err := listener.New(listener.Options{
		Host:        server.IP,
		HTTPPort:    server.HTTPPort,
		HTTPSPort:   server.HTTPSPort,
		GracePeriod: server.GracePeriod,
		BindTimeout: server.BindTimeout,
		CertFile:    server.TLS.CertFile,
		KeyFile:     server.TLS.KeyFile,
		Handler:     state.router.Engine,
		Bus:         state.bus,
		Logger:      state.logger.Tagged("Listener"),
	})
	if err != nil {
		return err
	}
	state.listeners = manager
	return nil
}

// serve starts the listeners and blocks until ctx ends or a listener faults
// at runtime.
func serve(ctx context.Context, state *appState, ready func(plaintext, secure string)) error {
	faults := make(chan error, 1)
	unsubscribe, err := state.listeners.OnError(func(ev eventbus.ListenerEvent) {
		select {
		case faults <- ev.Err:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	if err := state.listeners.Start(ctx); err != nil {
		state.logger.ErrorTag("Bootstrap", "listeners failed to start: %v", err)
		_, _ = state.listeners.Close(context.Background())
		return err
	}

	if ready != nil {
		plaintext, secure := state.listeners.Addrs()
		ready(plaintext.String(), secure.String())
	}
	state.logger.InfoTag("Bootstrap", "server started")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case err := <-faults:
			return platformerrors.Wrap(platformerrors.KindTransport, "listener:serve", "listener fault", err)
		}
	})

	return waitForShutdown(groupCtx, state, group)
}

func waitForShutdown(ctx context.Context, state *appState, g *errgroup.Group) error {
	logger := state.logger
	<-ctx.Done()
	logger.InfoTag("Bootstrap", "shutting down: %v", context.Cause(ctx))

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	elapsed, closeErr := state.listeners.Close(closeCtx)

	err := errors.Join(g.Wait(), closeErr)
	if err != nil {
		logger.ErrorTag("Bootstrap", "shutdown finished with errors after %s: %v", elapsed, err)
		return err
	}
	logger.InfoTag("Bootstrap", "all services stopped in %s", elapsed)
	return nil
}

// release tears down whatever the init steps created, in reverse order.
func (s *appState) release() {
	if s.bus != nil {
		s.bus.Close()
	}
	if s.db != nil {
		if err := storage.Close(s.db); err != nil && s.logger != nil {
			s.logger.WarnTag("Storage", "close database: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(ctx); err != nil && s.logger != nil {
			s.logger.WarnTag("Bootstrap", "observability did not shut down cleanly: %v", err)
		}
		cancel()
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}
