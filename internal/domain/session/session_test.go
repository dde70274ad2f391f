package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socializor-server-go/internal/domain/auth"
	"socializor-server-go/internal/domain/auth/store"
	"socializor-server-go/internal/domain/eventbus"
	"socializor-server-go/internal/domain/user"
	"socializor-server-go/internal/platform/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu sync.Mutex

	clock   *clock.FakeClock
	subject string
	ttl     time.Duration

	loginErr   error
	refreshErr error
	selfErr    error

	logins    int
	refreshes int
	selves    int
	lastAuth  string
	issued    int
}

func newFakeAPI(c *clock.FakeClock) *fakeAPI {
	return &fakeAPI{clock: c, subject: "u1", ttl: 5 * 24 * time.Hour}
}

func (f *fakeAPI) mint() auth.Credential {
	f.issued++
	cred, _ := auth.NewCredential("tok-"+string(rune('a'+f.issued)), f.clock.Now().Add(f.ttl).UnixMilli())
	return cred
}

func (f *fakeAPI) RequestToken(_ context.Context, email, password string) (auth.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return auth.Credential{}, f.loginErr
	}
	return f.mint(), nil
}

func (f *fakeAPI) RefreshToken(_ context.Context, current auth.Credential) (auth.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.lastAuth = current.Value()
	if f.refreshErr != nil {
		return auth.Credential{}, f.refreshErr
	}
	return f.mint(), nil
}

func (f *fakeAPI) FetchSelf(_ context.Context, current auth.Credential) (user.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selves++
	if f.selfErr != nil {
		return user.Profile{}, f.selfErr
	}
	return user.Profile{ID: f.subject, Name: "Una", Email: "una@example.com"}, nil
}

func (f *fakeAPI) calls() (logins, refreshes, selves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.refreshes, f.selves
}

type fixture struct {
	clock  *clock.FakeClock
	api    *fakeAPI
	bus    *eventbus.Bus
	shared *store.SharedMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clock.Fake(epoch)
	bus := eventbus.New(0, nil)
	t.Cleanup(bus.Close)
	return &fixture{clock: c, api: newFakeAPI(c), bus: bus, shared: store.NewSharedMemory(bus, 0)}
}

func (f *fixture) store() *store.CredentialStore {
	return store.NewCredentialStore(f.shared.Handle(), "", nil)
}

func (f *fixture) seed(t *testing.T, expiresIn time.Duration) auth.Credential {
	t.Helper()
	cred, err := auth.NewCredential("seeded", f.clock.Now().Add(expiresIn).UnixMilli())
	require.NoError(t, err)
	_, err = f.store().Save(context.Background(), &cred)
	require.NoError(t, err)
	return cred
}

func (f *fixture) client(t *testing.T, opts Options) *Client {
	t.Helper()
	opts.Store = f.store()
	opts.API = f.api
	opts.Clock = f.clock
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_AnonymousWithoutNetwork(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{})

	assert.False(t, c.IsLoggedIn())
	assert.Nil(t, c.Credential())
	l, r, s := f.api.calls()
	assert.Zero(t, l+r+s)
}

func TestNew_ExpiredCredentialStaysAnonymous(t *testing.T) {
	f := newFixture(t)
	f.seed(t, -time.Minute)
	c := f.client(t, Options{})

	assert.False(t, c.IsLoggedIn())
	_, r, s := f.api.calls()
	assert.Zero(t, r+s)
}

func TestNew_FreshCredentialFetchesIdentityOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3*24*time.Hour)
	c := f.client(t, Options{})

	require.True(t, c.IsLoggedIn())
	assert.Equal(t, "u1", c.Identity().ID)
	_, r, s := f.api.calls()
	assert.Equal(t, 0, r)
	assert.Equal(t, 1, s)
}

func TestNew_NearExpiryRefreshesThenFetchesIdentity(t *testing.T) {
	f := newFixture(t)
	f.seed(t, time.Hour)
	c := f.client(t, Options{})

	_, r, s := f.api.calls()
	assert.Equal(t, 1, r)
	assert.Equal(t, 1, s)
	assert.Equal(t, "seeded", f.api.lastAuth)
	assert.NotEqual(t, "seeded", c.Credential().Value())
	assert.True(t, c.IsLoggedIn())
}

func TestNew_FailuresDoNotAbortConstruction(t *testing.T) {
	f := newFixture(t)
	f.seed(t, time.Hour)
	f.api.refreshErr = errors.New("network down")
	f.api.selfErr = errors.New("still down")

	for _, strict := range []bool{false, true} {
		c := f.client(t, Options{StrictRefresh: strict})
		assert.False(t, c.IsLoggedIn())
		assert.Equal(t, "seeded", c.Credential().Value(), "a failed refresh keeps the still valid credential")
		if strict {
			assert.ErrorIs(t, c.ConstructionRefreshError(), f.api.refreshErr)
		} else {
			assert.NoError(t, c.ConstructionRefreshError())
		}
	}
}

func TestInstances_CountsLiveClients(t *testing.T) {
	f := newFixture(t)
	before := Instances()

	a := f.client(t, Options{})
	b := f.client(t, Options{})
	assert.Equal(t, before+2, Instances())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, before+1, Instances())
	require.NoError(t, b.Close())
	assert.Equal(t, before, Instances())
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{})

	cred, err := c.Login(context.Background(), "una@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, c.IsLoggedIn())
	assert.Equal(t, cred, *c.Credential())

	persisted, err := f.store().Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, cred, *persisted)

	header, err := c.Identity().AuthorizationHeader()
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+cred.Value(), header)
}

func TestLogin_RejectedWhileLoggedIn(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{})
	_, err := c.Login(context.Background(), "una@example.com", "pw")
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "other@example.com", "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyLoggedIn)
	var already *AlreadyLoggedInError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "u1", already.Subject)
	assert.Contains(t, err.Error(), "u1")

	logins, _, _ := f.api.calls()
	assert.Equal(t, 1, logins)
}

func TestLogin_IdentityFailureKeepsCredential(t *testing.T) {
	f := newFixture(t)
	f.api.selfErr = errors.New("profile service down")
	c := f.client(t, Options{})

	cred, err := c.Login(context.Background(), "una@example.com", "pw")
	require.NoError(t, err)
	assert.False(t, c.IsLoggedIn())
	assert.Equal(t, cred, *c.Credential())
}

func TestLogin_Failure(t *testing.T) {
	f := newFixture(t)
	f.api.loginErr = errors.New("403 Incorrect credentials")
	c := f.client(t, Options{})

	_, err := c.Login(context.Background(), "una@example.com", "bad")
	assert.Error(t, err)
	assert.Nil(t, c.Credential())
	assert.False(t, c.IsLoggedIn())
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{})

	require.NoError(t, c.Logout(context.Background()), "logout while anonymous is a no-op")

	_, err := c.Login(context.Background(), "una@example.com", "pw")
	require.NoError(t, err)
	identity := c.Identity()

	require.NoError(t, c.Logout(context.Background()))
	assert.False(t, c.IsLoggedIn())
	assert.Nil(t, c.Credential())
	_, err = identity.Credential()
	assert.ErrorIs(t, err, user.ErrNoCredential, "a dropped identity no longer reaches a credential")

	persisted, err := f.store().Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, persisted)

	require.NoError(t, c.Logout(context.Background()))
}

func TestRefreshConditionally(t *testing.T) {
	tests := []struct {
		name        string
		expiresIn   *time.Duration
		refreshErr  error
		suppress    bool
		wantChanged bool
		wantErr     error
		wantCalls   int
	}{
		{name: "no credential", suppress: true, wantErr: ErrNoToken},
		{name: "expired, suppressed", expiresIn: ptr(-time.Second), suppress: true, wantErr: ErrTokenExpired},
		{name: "expired, strict", expiresIn: ptr(-time.Second), wantErr: ErrTokenExpired},
		{name: "expires exactly now", expiresIn: ptr(0 * time.Second), suppress: true, wantErr: ErrTokenExpired},
		{name: "six days left", expiresIn: ptr(6 * 24 * time.Hour), suppress: true},
		{name: "just outside horizon", expiresIn: ptr(24*time.Hour + time.Millisecond), suppress: true},
		{name: "on the horizon", expiresIn: ptr(24 * time.Hour), suppress: true, wantChanged: true, wantCalls: 1},
		{name: "one hour left", expiresIn: ptr(time.Hour), suppress: true, wantChanged: true, wantCalls: 1},
		{name: "failure suppressed", expiresIn: ptr(time.Hour), refreshErr: errors.New("boom"), suppress: true, wantCalls: 1},
		{name: "failure propagated", expiresIn: ptr(time.Hour), refreshErr: errBoom, wantErr: errBoom, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.api.refreshErr = tt.refreshErr
			c := f.client(t, Options{})

			var seeded auth.Credential
			if tt.expiresIn != nil {
				seeded, _ = auth.NewCredential("seeded", f.clock.Now().Add(*tt.expiresIn).UnixMilli())
				c.mu.Lock()
				c.cred = &seeded
				c.mu.Unlock()
			}

			changed, err := c.RefreshConditionally(context.Background(), tt.suppress)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantChanged, changed)
			_, refreshes, _ := f.api.calls()
			assert.Equal(t, tt.wantCalls, refreshes)

			if tt.wantChanged {
				assert.NotEqual(t, seeded, *c.Credential())
				persisted, err := f.store().Load(context.Background())
				require.NoError(t, err)
				assert.Equal(t, *c.Credential(), *persisted)
			} else if tt.expiresIn != nil {
				assert.Equal(t, seeded, *c.Credential())
			}
		})
	}
}

var errBoom = errors.New("refresh rejected")

func ptr[T any](v T) *T { return &v }

func TestRefreshConditionally_CustomHorizon(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{RefreshHorizon: 2 * time.Hour})
	_, err := c.Login(context.Background(), "una@example.com", "pw")
	require.NoError(t, err)

	f.clock.Advance(5*24*time.Hour - 3*time.Hour)
	changed, err := c.RefreshConditionally(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, changed)

	f.clock.Advance(2 * time.Hour)
	changed, err = c.RefreshConditionally(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSyncFromOtherContext(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{})
	_, err := c.Login(context.Background(), "una@example.com", "pw")
	require.NoError(t, err)

	other := f.store()
	replacement, err := auth.NewCredential("written-elsewhere", f.clock.Now().Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	_, err = other.Save(context.Background(), &replacement)
	require.NoError(t, err)
	f.bus.Flush()

	assert.Equal(t, replacement, *c.Credential())
	assert.True(t, c.IsLoggedIn())

	_, err = other.Save(context.Background(), nil)
	require.NoError(t, err)
	f.bus.Flush()

	assert.Nil(t, c.Credential())
	assert.False(t, c.IsLoggedIn())
}

func TestClose_StopsSyncAndLogin(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{})
	require.NoError(t, c.Close())

	cred, err := auth.NewCredential("late", f.clock.Now().Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	_, err = f.store().Save(context.Background(), &cred)
	require.NoError(t, err)
	f.bus.Flush()
	assert.Nil(t, c.Credential())

	_, err = c.Login(context.Background(), "una@example.com", "pw")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}
