package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socializor-server-go/internal/domain/auth"
	"socializor-server-go/internal/domain/eventbus"
)

func newBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	bus := eventbus.New(0, nil)
	t.Cleanup(bus.Close)
	return bus
}

func mustCredential(t *testing.T, value string, exp int64) *auth.Credential {
	t.Helper()
	c, err := auth.NewCredential(value, exp)
	require.NoError(t, err)
	return &c
}

func TestCredentialStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewCredentialStore(NewSharedMemory(newBus(t), 0).Handle(), "", nil)

	for _, c := range []*auth.Credential{
		mustCredential(t, "a.b.c", 0),
		mustCredential(t, "d.e.f", 1_700_000_000_123),
		mustCredential(t, "x", 1<<53),
	} {
		saved, err := s.Save(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, c, saved)

		loaded, err := s.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, c.Value(), loaded.Value())
		assert.Equal(t, c.ExpirationTime(), loaded.ExpirationTime())
	}
}

func TestCredentialStore_SaveNilIsIdempotent(t *testing.T) {
	ctx := context.Background()
	medium := NewSharedMemory(newBus(t), 0).Handle()
	s := NewCredentialStore(medium, "", nil)

	_, err := s.Save(ctx, mustCredential(t, "tok", 10))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		saved, err := s.Save(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, saved)

		loaded, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		_, ok, _ := medium.Get(ctx, KeyToken)
		assert.False(t, ok)
		_, ok, _ = medium.Get(ctx, KeyExpirationTime)
		assert.False(t, ok)
	}
}

func TestCredentialStore_LoadHealsPartialWrites(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		entries map[string]string
	}{
		{name: "token only", entries: map[string]string{KeyToken: "tok"}},
		{name: "expiration only", entries: map[string]string{KeyExpirationTime: "100"}},
		{name: "expiration not a number", entries: map[string]string{KeyToken: "tok", KeyExpirationTime: "soon"}},
		{name: "negative expiration", entries: map[string]string{KeyToken: "tok", KeyExpirationTime: "-1"}},
		{name: "empty token", entries: map[string]string{KeyToken: "", KeyExpirationTime: "100"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			medium := NewSharedMemory(newBus(t), 0).Handle()
			require.NoError(t, medium.Set(ctx, tt.entries))
			s := NewCredentialStore(medium, "", nil)

			loaded, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, loaded)

			for _, k := range []string{KeyToken, KeyExpirationTime} {
				_, ok, _ := medium.Get(ctx, k)
				assert.False(t, ok, "%s should have been cleared", k)
			}
		})
	}
}

func TestCredentialStore_QuotaExceededClears(t *testing.T) {
	ctx := context.Background()
	shared := NewSharedMemory(newBus(t), 64)
	s := NewCredentialStore(shared.Handle(), "", nil)

	small := mustCredential(t, "short", 1)
	_, err := s.Save(ctx, small)
	require.NoError(t, err)

	big := mustCredential(t, string(make([]byte, 128)), 2)
	saved, err := s.Save(ctx, big)
	require.NoError(t, err)
	assert.Nil(t, saved)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "a failed write leaves the store cleared")
}

func TestCredentialStore_SaveRejectsZeroCredential(t *testing.T) {
	s := NewCredentialStore(NewSharedMemory(newBus(t), 0).Handle(), "", nil)
	_, err := s.Save(context.Background(), &auth.Credential{})
	assert.True(t, errors.Is(err, auth.ErrInvalidCredential))
}

func TestCredentialStore_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	shared := NewSharedMemory(newBus(t), 0)
	a := NewCredentialStore(shared.Handle(), "a:", nil)
	b := NewCredentialStore(shared.Handle(), "b:", nil)

	_, err := a.Save(ctx, mustCredential(t, "for-a", 5))
	require.NoError(t, err)

	loaded, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCredentialStore_ObservesOtherContexts(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	shared := NewSharedMemory(bus, 0)
	writer := NewCredentialStore(shared.Handle(), "", nil)
	reader := NewCredentialStore(shared.Handle(), "", nil)

	fromReader := make(chan *auth.Credential, 4)
	fromWriter := make(chan *auth.Credential, 4)
	cancel, err := reader.SubscribeToChanges(func(c *auth.Credential) { fromReader <- c })
	require.NoError(t, err)
	defer cancel()
	_, err = writer.SubscribeToChanges(func(c *auth.Credential) { fromWriter <- c })
	require.NoError(t, err)

	c := mustCredential(t, "shared", 99)
	_, err = writer.Save(ctx, c)
	require.NoError(t, err)
	bus.Flush()

	select {
	case got := <-fromReader:
		require.NotNil(t, got)
		assert.Equal(t, *c, *got)
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not notified")
	}

	_, err = writer.Save(ctx, nil)
	require.NoError(t, err)
	bus.Flush()

	select {
	case got := <-fromReader:
		assert.Nil(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not notified of the clear")
	}

	assert.Empty(t, fromWriter, "a context is never notified of its own writes")
}

func TestCredentialStore_IgnoresUnrelatedKeys(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	shared := NewSharedMemory(bus, 0)
	other := shared.Handle()
	reader := NewCredentialStore(shared.Handle(), "", nil)

	calls := make(chan *auth.Credential, 1)
	_, err := reader.SubscribeToChanges(func(c *auth.Credential) { calls <- c })
	require.NoError(t, err)

	require.NoError(t, other.Set(ctx, map[string]string{"theme": "dark"}))
	bus.Flush()
	assert.Empty(t, calls)
}

func TestMemoryHandle_CloseCancelsSubscriptions(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	shared := NewSharedMemory(bus, 0)
	handle := shared.Handle()

	calls := make(chan Change, 1)
	_, err := handle.Subscribe(func(c Change) { calls <- c })
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	require.NoError(t, shared.Handle().Set(ctx, map[string]string{KeyToken: "x"}))
	bus.Flush()
	assert.Empty(t, calls)

	_, err = handle.Subscribe(func(Change) {})
	assert.Error(t, err)
}

func TestChange_Touches(t *testing.T) {
	assert.True(t, Change{}.Touches(KeyToken))
	assert.True(t, Change{Keys: []string{"x", KeyExpirationTime}}.Touches(KeyToken, KeyExpirationTime))
	assert.False(t, Change{Keys: []string{"x"}}.Touches(KeyToken))
}
