package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mowesport/mowe/internal/roles"
)

// revocableTokens accepts every token until it is revoked.
type revocableTokens struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (v *revocableTokens) Validate(token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.revoked[token] {
		return errors.New("token is expired")
	}
	return nil
}

func (v *revocableTokens) revoke(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.revoked == nil {
		v.revoked = map[string]bool{}
	}
	v.revoked[token] = true
}

type failingSaves struct {
	*MemoryPersistence
}

func (failingSaves) Save(context.Context, Pair) error {
	return errors.New("redis: connection refused")
}

func TestCurrentSignsOutExpiredToken(t *testing.T) {
	tokens := &revocableTokens{}
	store := NewMemoryPersistence()
	st := NewState(Config{Store: store, Tokens: tokens})
	log := &eventLog{}
	st.Subscribe(log.listen)
	ctx := context.Background()

	require.NoError(t, st.OnSignedIn(ctx, "tok", ownerProfile))
	assert.True(t, st.Current(ctx).Authenticated)

	tokens.revoke("tok")
	assert.Equal(t, Snapshot{}, st.Current(ctx))
	assert.Equal(t, Snapshot{}, st.Snapshot())
	assert.Equal(t, []Event{EventSignedIn, EventSignedOut}, log.list())

	pair, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Pair{}, pair)

	st.Current(ctx)
	assert.Len(t, log.list(), 2)
}

func TestCurrentFollowsSignOutFromSharedStore(t *testing.T) {
	store := NewMemoryPersistence()
	ctx := context.Background()
	here := NewState(Config{Store: store, Tokens: stubTokens{}})
	there := NewState(Config{Store: store, Tokens: stubTokens{}})
	log := &eventLog{}
	here.Subscribe(log.listen)

	require.NoError(t, here.OnSignedIn(ctx, "tok", ownerProfile))
	there.Bootstrap(ctx)
	require.True(t, there.Snapshot().Authenticated)

	there.OnSignedOut(ctx)

	assert.False(t, here.Current(ctx).Authenticated)
	assert.Equal(t, []Event{EventSignedIn, EventSignedOut}, log.list())
}

func TestCurrentAdoptsProfileChangedElsewhere(t *testing.T) {
	store := NewMemoryPersistence()
	ctx := context.Background()
	here := NewState(Config{Store: store, Tokens: stubTokens{}})
	require.NoError(t, here.OnSignedIn(ctx, "tok", ownerProfile))

	suspended := ownerProfile
	suspended.Status = roles.StatusSuspended
	require.NoError(t, store.Save(ctx, Pair{Token: "tok", Profile: &suspended}))

	snap := here.Current(ctx)
	assert.True(t, snap.Authenticated)
	assert.Equal(t, roles.StatusSuspended, snap.Status())
}

func TestCurrentKeepsSessionWhileStoreIsBehind(t *testing.T) {
	st := NewState(Config{Store: failingSaves{NewMemoryPersistence()}, Tokens: stubTokens{}})
	ctx := context.Background()

	require.NoError(t, st.OnSignedIn(ctx, "tok", ownerProfile))
	assert.True(t, st.Current(ctx).Authenticated)
}

func TestCurrentLeavesAnonymousAndLoadingAlone(t *testing.T) {
	provider := &stubProvider{profile: ownerProfile, started: make(chan struct{}, 1), release: make(chan struct{})}
	st, _, log := newTestState(t, provider, &Pair{Token: "tok"})
	ctx := context.Background()

	assert.Equal(t, Snapshot{}, st.Current(ctx))
	st.Bootstrap(ctx)
	<-provider.started
	assert.True(t, st.Current(ctx).Loading)
	assert.Empty(t, log.list())
	close(provider.release)
}
