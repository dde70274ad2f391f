// Package listener runs the plaintext redirector and the TLS application
// listener as one unit.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"socializor-server-go/internal/domain/eventbus"
	platformerrors "socializor-server-go/internal/platform/errors"
	"socializor-server-go/internal/platform/observability"
)

// Defaults applied by New.
const (
	DefaultHTTPPort    = 8080
	DefaultHTTPSPort   = 8443
	DefaultGracePeriod = 2 * time.Second
)

// Listener names carried by events.
const (
	NamePlaintext = "plaintext"
	NameTLS       = "tls"
	NameManager   = "manager"
)

type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type Options struct {
	// Host is the bind address. Empty binds every interface.
	Host      string
	HTTPPort  int
	HTTPSPort int
	// GracePeriod bounds how long each listener drains on Close before its
	// connections are dropped. Negative waits indefinitely.
	GracePeriod time.Duration
	// BindTimeout bounds each bind. Zero means no bound.
	BindTimeout time.Duration
	// TLSConfig wins over CertFile and KeyFile when set.
	TLSConfig *tls.Config
	CertFile  string
	KeyFile   string
	// Handler serves the TLS listener.
	Handler http.Handler
	Bus     *eventbus.Bus
	Logger  Logger
}

// Manager owns the listener pair. Routes must be attached to Handler before
// Start.
type Manager struct {
	opts     Options
	tls      *tls.Config
	redirect http.Handler

	closeMu sync.Mutex

	mu          sync.RWMutex
	state       State
	plainServer *http.Server
	tlsServer   *http.Server
	plainAddr   net.Addr
	tlsAddr     net.Addr
	serving     sync.WaitGroup
}

// New validates opts. A plaintext port equal to the TLS port falls back to
// DefaultHTTPPort. Port 0 picks a free port.
func New(opts Options) (*Manager, error) {
	const op = "listener.new"
	if opts.HTTPSPort < 0 || opts.HTTPSPort > 0xffff {
		return nil, platformerrors.New(platformerrors.KindConfig, op, fmt.Sprintf("invalid https port %d", opts.HTTPSPort))
	}
	if opts.HTTPPort < 0 || opts.HTTPPort > 0xffff {
		return nil, platformerrors.New(platformerrors.KindConfig, op, fmt.Sprintf("invalid http port %d", opts.HTTPPort))
	}
	if opts.HTTPPort != 0 && opts.HTTPPort == opts.HTTPSPort {
		opts.HTTPPort = DefaultHTTPPort
		if opts.HTTPPort == opts.HTTPSPort {
			return nil, platformerrors.New(platformerrors.KindConfig, op, "http and https ports must differ")
		}
	}
	if opts.BindTimeout < 0 {
		return nil, platformerrors.New(platformerrors.KindConfig, op, "bind timeout must not be negative")
	}
	if opts.Handler == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, op, "tls handler is required")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		if opts.CertFile == "" || opts.KeyFile == "" {
			return nil, platformerrors.New(platformerrors.KindConfig, op, "tls certificate and key are required")
		}
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, op, "load tls key pair", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	m := &Manager{opts: opts, tls: tlsConfig, state: Constructed}
	m.redirect = m.redirectEngine()
	return m, nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Addrs returns the bound addresses, or nil before the listeners are bound.
func (m *Manager) Addrs() (plaintext, secure net.Addr) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plainAddr, m.tlsAddr
}

// Start binds both listeners concurrently and returns once both are bound
// and serving, or once either failed. It fails immediately unless the
// manager is Constructed. A bind failure moves the manager to
// FailedWhenStarting and publishes a single error event.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Constructed {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: start called while %s", ErrInvalidState, state)
	}
	m.state = Starting
	m.mu.Unlock()

	ctx, endSpan := observability.StartSpan(ctx, "listener", "start")

	var plainLn, tlsLn net.Listener
	var plainErr, tlsErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		plainLn, plainErr = m.bind(gctx, NamePlaintext, m.opts.HTTPPort)
		return plainErr
	})
	g.Go(func() error {
		tlsLn, tlsErr = m.bind(gctx, NameTLS, m.opts.HTTPSPort)
		return tlsErr
	})
	_ = g.Wait()

	if err := errors.Join(tlsErr, plainErr); err != nil {
		for _, ln := range []net.Listener{plainLn, tlsLn} {
			if ln != nil {
				_ = ln.Close()
			}
		}
		m.mu.Lock()
		m.state = FailedWhenStarting
		m.mu.Unlock()

		m.opts.Logger.Error("start failed: %v", err)
		m.publish(eventbus.TopicListenerError, eventbus.ListenerEvent{Name: NameManager, Err: err})
		endSpan(err)
		return platformerrors.Wrap(platformerrors.KindLifecycle, "listener.start", "bind listeners", err)
	}

	plainServer := &http.Server{Handler: m.redirect, ReadHeaderTimeout: 10 * time.Second}
	tlsServer := &http.Server{Handler: m.opts.Handler, TLSConfig: m.tls.Clone(), ReadHeaderTimeout: 10 * time.Second}

	m.mu.Lock()
	m.plainServer, m.tlsServer = plainServer, tlsServer
	m.plainAddr, m.tlsAddr = plainLn.Addr(), tlsLn.Addr()
	m.state = Running
	m.mu.Unlock()

	m.serve(NamePlaintext, plainServer, func() error { return plainServer.Serve(plainLn) })
	m.serve(NameTLS, tlsServer, func() error { return tlsServer.ServeTLS(tlsLn, "", "") })

	addrs := []string{plainLn.Addr().String(), tlsLn.Addr().String()}
	m.opts.Logger.Info("listening on http://%s (redirect) and https://%s", addrs[0], addrs[1])
	m.publish(eventbus.TopicListenerReady, eventbus.ListenerEvent{Name: NameManager, Addrs: addrs})
	endSpan(nil)
	return nil
}

func (m *Manager) bind(ctx context.Context, name string, port int) (net.Listener, error) {
	if m.opts.BindTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.BindTimeout)
		defer cancel()
	}
	addr := net.JoinHostPort(m.opts.Host, strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s listener on %s: %w", name, addr, err)
	}
	m.opts.Logger.Debug("%s listener bound on %s", name, ln.Addr())
	return ln, nil
}

// serve runs fn until the server is shut down. Any other exit is a listener
// fault and is published as an error event.
func (m *Manager) serve(name string, srv *http.Server, fn func() error) {
	m.serving.Add(1)
	go func() {
		defer m.serving.Done()
		err := fn()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.opts.Logger.Error("%s listener failed: %v", name, err)
		m.publish(eventbus.TopicListenerError, eventbus.ListenerEvent{Name: name, Err: err})
	}()
}

// Close stops the TLS listener and then the plaintext one, each within the
// grace period, and returns the time spent. Closing a Constructed manager
// returns immediately; closing while Starting fails. Errors from both stops
// are joined and the manager is reset to Constructed either way. A stopped
// event is published unless the start had failed, also when stopping failed.
func (m *Manager) Close(ctx context.Context) (time.Duration, error) {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	m.mu.RLock()
	prior := m.state
	plainServer, tlsServer := m.plainServer, m.tlsServer
	m.mu.RUnlock()

	switch prior {
	case Constructed:
		return 0, nil
	case Starting:
		return 0, fmt.Errorf("%w: close called while %s", ErrInvalidState, prior)
	}

	begin := time.Now()
	err := errors.Join(
		m.stop(ctx, NameTLS, tlsServer),
		m.stop(ctx, NamePlaintext, plainServer),
	)
	m.serving.Wait()
	elapsed := time.Since(begin)

	m.mu.Lock()
	m.state = Constructed
	m.plainServer, m.tlsServer = nil, nil
	m.plainAddr, m.tlsAddr = nil, nil
	m.mu.Unlock()

	if prior != FailedWhenStarting {
		m.publish(eventbus.TopicListenerStopped, eventbus.ListenerEvent{Name: NameManager})
	}
	if err != nil {
		m.opts.Logger.Error("close finished with errors after %s: %v", elapsed, err)
		return elapsed, platformerrors.Wrap(platformerrors.KindLifecycle, "listener.close", "stop listeners", err)
	}
	m.opts.Logger.Info("listeners stopped in %s", elapsed)
	return elapsed, nil
}

// stop drains srv for up to the grace period and then drops the remaining
// connections. Running out of grace is not an error.
func (m *Manager) stop(ctx context.Context, name string, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	shutdownCtx := ctx
	if m.opts.GracePeriod >= 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, m.opts.GracePeriod)
		defer cancel()
	}

	err := srv.Shutdown(shutdownCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		m.opts.Logger.Warn("%s listener did not drain within %s, closing remaining connections", name, m.opts.GracePeriod)
		err = nil
	}
	if closeErr := srv.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		return fmt.Errorf("stop %s listener: %w", name, err)
	}
	return nil
}

func (m *Manager) publish(topic string, ev eventbus.ListenerEvent) {
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(topic, ev)
	}
}

// OnReady, OnStopped and OnError subscribe fn to the manager's events on
// the configured bus.
func (m *Manager) OnReady(fn func(eventbus.ListenerEvent)) (func(), error) {
	return m.on(eventbus.TopicListenerReady, fn)
}

func (m *Manager) OnStopped(fn func(eventbus.ListenerEvent)) (func(), error) {
	return m.on(eventbus.TopicListenerStopped, fn)
}

func (m *Manager) OnError(fn func(eventbus.ListenerEvent)) (func(), error) {
	return m.on(eventbus.TopicListenerError, fn)
}

func (m *Manager) on(topic string, fn func(eventbus.ListenerEvent)) (func(), error) {
	if m.opts.Bus == nil {
		return nil, fmt.Errorf("listener manager has no event bus")
	}
	return m.opts.Bus.Subscribe(topic, func(ev eventbus.Event) {
		if payload, ok := ev.Payload.(eventbus.ListenerEvent); ok {
			fn(payload)
		}
	})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
