// Package session keeps the caller side of an authenticated session: at most
// one credential, mirrored into a CredentialStore, and at most one identity.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"socializor-server-go/internal/domain/auth"
	"socializor-server-go/internal/domain/auth/store"
	"socializor-server-go/internal/domain/user"
	"socializor-server-go/internal/platform/clock"
	platformerrors "socializor-server-go/internal/platform/errors"
)

// API is the remote side a session talks to.
type API interface {
	RequestToken(ctx context.Context, email, password string) (auth.Credential, error)
	RefreshToken(ctx context.Context, current auth.Credential) (auth.Credential, error)
	FetchSelf(ctx context.Context, current auth.Credential) (user.Profile, error)
}

type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Options configures New. Store and API are required.
type Options struct {
	Store  *store.CredentialStore
	API    API
	Clock  clock.Clock
	Logger Logger
	// RefreshHorizon defaults to auth.DefaultRefreshHorizon.
	RefreshHorizon time.Duration
	// StrictRefresh makes a failure of the refresh attempted during
	// construction available through ConstructionRefreshError instead of
	// only being logged. Construction still succeeds.
	StrictRefresh bool
}

var instances atomic.Int64

// Instances returns the number of clients constructed and not yet closed.
func Instances() int64 {
	return instances.Load()
}

// Client owns zero or one credential and zero or one identity.
type Client struct {
	store   *store.CredentialStore
	api     API
	clock   clock.Clock
	logger  Logger
	horizon time.Duration

	mu       sync.RWMutex
	cred     *auth.Credential
	identity *user.ClientUser

	unsubscribe func()
	closeOnce   sync.Once
	closed      atomic.Bool

	constructionRefreshErr error
}

// New builds a client and runs the construction sequence: load the persisted
// credential and, when it is still valid, refresh it if it is close to
// expiry and fetch the identity. Refresh and identity failures are logged and
// leave the client usable. Without a valid credential no call is made.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Store == nil || opts.API == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "session.new", "store and api are required")
	}
	c := &Client{
		store:   opts.Store,
		api:     opts.API,
		clock:   opts.Clock,
		logger:  opts.Logger,
		horizon: opts.RefreshHorizon,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	if c.horizon <= 0 {
		c.horizon = auth.DefaultRefreshHorizon
	}

	if n := instances.Add(1); n > 1 {
		c.logger.Warn("creating a new session client; there are now %d instances, they share the credential store", n)
	} else {
		c.logger.Debug("creating a new session client")
	}

	cred, err := c.store.Load(ctx)
	if err != nil {
		instances.Add(-1)
		return nil, err
	}
	c.cred = cred

	unsubscribe, err := c.store.SubscribeToChanges(c.syncFromStore)
	if err != nil {
		instances.Add(-1)
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "session.new", "watch credential store", err)
	}
	c.unsubscribe = unsubscribe

	if cred == nil || cred.HasExpired(c.clock.Now()) {
		return c, nil
	}

	c.logger.Debug("stored credential exists and has not expired yet")
	changed, err := c.RefreshConditionally(ctx, !opts.StrictRefresh)
	if err != nil {
		c.constructionRefreshErr = err
		c.logger.Error("refresh during construction failed: %v", err)
	} else {
		c.logger.Debug("credential changed during construction: %t", changed)
	}
	if err := c.populateIdentity(ctx); err != nil {
		c.logger.Error("fetch identity during construction failed: %v", err)
	}
	return c, nil
}

// ConstructionRefreshError returns the refresh failure seen by New. It is
// always nil unless StrictRefresh was set.
func (c *Client) ConstructionRefreshError() error {
	return c.constructionRefreshErr
}

// CurrentCredential implements user.CredentialSource.
func (c *Client) CurrentCredential() (auth.Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cred == nil {
		return auth.Credential{}, false
	}
	return *c.cred, true
}

// Credential returns the held credential or nil.
func (c *Client) Credential() *auth.Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cred == nil {
		return nil
	}
	cred := *c.cred
	return &cred
}

// Identity returns the authenticated identity or nil.
func (c *Client) Identity() *user.ClientUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Client) IsLoggedIn() bool {
	return c.Identity() != nil
}

// Login exchanges email and password for a credential and persists it. A
// failure to fetch the identity afterwards is logged; the credential is kept.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Credential, error) {
	if c.closed.Load() {
		return auth.Credential{}, ErrClosed
	}
	if id := c.Identity(); id != nil {
		return auth.Credential{}, &AlreadyLoggedInError{Subject: id.ID}
	}

	c.logger.Debug("attempting to log in")
	cred, err := c.api.RequestToken(ctx, email, password)
	if err != nil {
		return auth.Credential{}, err
	}
	if err := c.replaceCredential(ctx, &cred); err != nil {
		return auth.Credential{}, err
	}
	if err := c.populateIdentity(ctx); err != nil {
		c.logger.Error("fetch identity after login failed: %v", err)
	}
	return cred, nil
}

// Logout clears the persisted credential and drops the identity. Calling it
// while logged out only logs a warning.
func (c *Client) Logout(ctx context.Context) error {
	if !c.IsLoggedIn() {
		c.logger.Warn("client is not logged in when logout is called")
		return nil
	}
	if _, err := c.store.Save(ctx, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.cred = nil
	c.identity = nil
	c.mu.Unlock()
	c.logger.Info("logged out")
	return nil
}

// RefreshConditionally exchanges the held credential for a new one when it
// expires within the refresh horizon. It reports whether the credential
// changed. A missing or expired credential is always an error. Other refresh
// failures are logged and reported as no change when suppressFailure is set.
func (c *Client) RefreshConditionally(ctx context.Context, suppressFailure bool) (bool, error) {
	current, ok := c.CurrentCredential()
	if !ok {
		return false, ErrNoToken
	}
	now := c.clock.Now()
	if current.HasExpired(now) {
		return false, ErrTokenExpired
	}
	if !current.WillExpire(now, c.horizon) {
		c.logger.Debug("credential is not about to expire, skipping refresh")
		return false, nil
	}

	c.logger.Debug("attempting to refresh credential")
	fresh, err := c.api.RefreshToken(ctx, current)
	if err == nil {
		err = c.replaceCredential(ctx, &fresh)
	}
	if err != nil {
		if suppressFailure {
			c.logger.Warn("refresh failed: %v", err)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close stops watching the store. It does not clear the credential.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		instances.Add(-1)
	})
	return nil
}

func (c *Client) replaceCredential(ctx context.Context, cred *auth.Credential) error {
	persisted, err := c.store.Save(ctx, cred)
	if err != nil {
		return err
	}
	if persisted == nil {
		c.logger.Warn("credential could not be persisted, keeping it in memory only")
	}
	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
	return nil
}

func (c *Client) populateIdentity(ctx context.Context) error {
	current, ok := c.CurrentCredential()
	if !ok {
		return ErrNoToken
	}
	if current.HasExpired(c.clock.Now()) {
		return ErrTokenExpired
	}

	c.logger.Debug("fetching own profile")
	profile, err := c.api.FetchSelf(ctx, current)
	if err != nil {
		return fmt.Errorf("fetch own profile: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == nil || c.cred.Value() != current.Value() {
		return fmt.Errorf("credential changed while fetching own profile")
	}
	c.identity = user.NewClientUser(profile, c)
	return nil
}

// syncFromStore applies a write made by another context. The last writer wins.
func (c *Client) syncFromStore(cred *auth.Credential) {
	if c.closed.Load() {
		return
	}
	c.logger.Info("credential modified in another context, syncing")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = cred
	if cred == nil {
		c.identity = nil
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
