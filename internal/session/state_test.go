package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mowesport/mowe/internal/roles"
)

type stubProvider struct {
	mu      sync.Mutex
	calls   int
	profile Profile
	err     error
	started chan struct{}
	release chan struct{}
}

func (p *stubProvider) FetchProfile(ctx context.Context, token string) (Profile, error) {
	p.mu.Lock()
	p.calls++
	started, release := p.started, p.release
	p.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile, p.err
}

func (p *stubProvider) set(profile Profile, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile, p.err = profile, err
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type stubTokens struct{}

func (stubTokens) Validate(token string) error {
	if token == "expired" {
		return errors.New("token expired")
	}
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(ev Event, _ Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) list() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

var ownerProfile = Profile{ID: "u-1", Email: "owner@mowe.test", Role: roles.Owner, Status: roles.StatusActive}

func newTestState(t *testing.T, provider *stubProvider, pair *Pair) (*State, *MemoryPersistence, *eventLog) {
	t.Helper()
	store := NewMemoryPersistence()
	if pair != nil {
		require.NoError(t, store.Save(context.Background(), *pair))
	}
	st := NewState(Config{Store: store, Provider: provider, Tokens: stubTokens{}})
	log := &eventLog{}
	st.Subscribe(log.listen)
	return st, store, log
}

func TestBootstrapWithoutToken(t *testing.T) {
	st, _, log := newTestState(t, &stubProvider{}, nil)

	snap := st.Bootstrap(context.Background())
	assert.False(t, snap.Authenticated)
	assert.False(t, snap.Loading)
	assert.Empty(t, log.list())
}

func TestBootstrapWithCachedProfile(t *testing.T) {
	provider := &stubProvider{}
	st, _, log := newTestState(t, provider, &Pair{Token: "tok", Profile: &ownerProfile})

	snap := st.Bootstrap(context.Background())
	assert.True(t, snap.Authenticated)
	assert.False(t, snap.Loading)
	assert.Equal(t, roles.Owner, snap.Role())
	assert.Equal(t, "tok", snap.Token)
	assert.Equal(t, 0, provider.callCount())
	assert.Equal(t, []Event{EventSignedIn}, log.list())
}

func TestBootstrapFetchesMissingProfile(t *testing.T) {
	provider := &stubProvider{profile: ownerProfile}
	st, store, _ := newTestState(t, provider, &Pair{Token: "tok"})

	snap := st.Bootstrap(context.Background())
	assert.True(t, snap.Loading)
	assert.False(t, snap.Authenticated)
	assert.Empty(t, snap.Profile.ID)

	require.Eventually(t, func() bool {
		return st.Snapshot().Authenticated
	}, time.Second, 5*time.Millisecond)
	assert.False(t, st.Snapshot().Loading)

	pair, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pair.Profile)
	assert.Equal(t, ownerProfile, *pair.Profile)
}

func TestBootstrapDiscardsExpiredToken(t *testing.T) {
	st, store, _ := newTestState(t, &stubProvider{}, &Pair{Token: "expired", Profile: &ownerProfile})

	snap := st.Bootstrap(context.Background())
	assert.False(t, snap.Authenticated)

	pair, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pair.Token)
}

func TestOnSignedInIsIdempotent(t *testing.T) {
	st, _, log := newTestState(t, &stubProvider{}, nil)
	ctx := context.Background()

	require.NoError(t, st.OnSignedIn(ctx, "tok", ownerProfile))
	first := st.Snapshot()
	require.NoError(t, st.OnSignedIn(ctx, "tok", ownerProfile))

	assert.Equal(t, first, st.Snapshot())
	assert.Equal(t, []Event{EventSignedIn}, log.list())
}

func TestOnSignedInRejectsPartialSessions(t *testing.T) {
	st, _, _ := newTestState(t, &stubProvider{}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, st.OnSignedIn(ctx, "", ownerProfile), ErrInvalidToken)
	assert.ErrorIs(t, st.OnSignedIn(ctx, "expired", ownerProfile), ErrInvalidToken)
	assert.ErrorIs(t, st.OnSignedIn(ctx, "tok", Profile{ID: "u-1"}), ErrIncompleteProfile)
	assert.False(t, st.Snapshot().Authenticated)
}

func TestOnSignedOutClearsPersistence(t *testing.T) {
	st, store, log := newTestState(t, &stubProvider{}, &Pair{Token: "tok", Profile: &ownerProfile})
	ctx := context.Background()
	st.Bootstrap(ctx)

	st.OnSignedOut(ctx)

	assert.Equal(t, Snapshot{}, st.Snapshot())
	pair, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Pair{}, pair)
	assert.Equal(t, []Event{EventSignedIn, EventSignedOut}, log.list())
}

func TestRefreshKeepsCachedProfileOnNetworkFailure(t *testing.T) {
	provider := &stubProvider{err: errors.New("dial tcp: connection refused")}
	st, _, log := newTestState(t, provider, &Pair{Token: "tok", Profile: &ownerProfile})
	ctx := context.Background()
	st.Bootstrap(ctx)

	snap, err := st.Refresh(ctx, true)
	require.NoError(t, err)
	assert.True(t, snap.Authenticated)
	assert.Equal(t, roles.Owner, st.Snapshot().Role())
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, []Event{EventSignedIn}, log.list())
}

func TestRefreshWithoutForceUsesCache(t *testing.T) {
	provider := &stubProvider{profile: ownerProfile}
	st, _, _ := newTestState(t, provider, &Pair{Token: "tok", Profile: &ownerProfile})
	ctx := context.Background()
	st.Bootstrap(ctx)

	_, err := st.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, provider.callCount())
}

func TestRefreshWithoutCacheReportsUnavailable(t *testing.T) {
	provider := &stubProvider{err: errors.New("timeout"), release: make(chan struct{})}
	st, _, _ := newTestState(t, provider, &Pair{Token: "tok"})
	ctx := context.Background()

	st.Bootstrap(ctx)
	close(provider.release)
	require.Eventually(t, func() bool {
		return !st.Snapshot().Loading
	}, time.Second, 5*time.Millisecond)
	assert.False(t, st.Snapshot().Authenticated)

	_, err := st.Refresh(ctx, true)
	assert.ErrorIs(t, err, ErrProfileUnavailable)

	provider.set(ownerProfile, nil)
	snap, err := st.Refresh(ctx, true)
	require.NoError(t, err)
	assert.True(t, snap.Authenticated)
}

func TestRefreshClearsRejectedToken(t *testing.T) {
	provider := &stubProvider{err: ErrTokenRejected}
	st, store, log := newTestState(t, provider, &Pair{Token: "tok", Profile: &ownerProfile})
	ctx := context.Background()
	st.Bootstrap(ctx)

	snap, err := st.Refresh(ctx, true)
	require.NoError(t, err)
	assert.False(t, snap.Authenticated)

	pair, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, pair.Token)
	assert.Equal(t, []Event{EventSignedIn, EventSignedOut}, log.list())
}

func TestConcurrentRefreshSharesOneFetch(t *testing.T) {
	provider := &stubProvider{
		profile: ownerProfile,
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	st, _, _ := newTestState(t, provider, &Pair{Token: "tok", Profile: &ownerProfile})
	ctx := context.Background()
	st.Bootstrap(ctx)

	var wg sync.WaitGroup
	results := make([]Snapshot, 10)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = st.Refresh(ctx, true)
	}()
	<-provider.started
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = st.Refresh(ctx, true)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	assert.Equal(t, 1, provider.callCount())
	for _, snap := range results {
		assert.Equal(t, roles.Owner, snap.Role())
	}
}

func TestSignOutWinsOverInflightRefresh(t *testing.T) {
	provider := &stubProvider{
		profile: ownerProfile,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	st, store, _ := newTestState(t, provider, &Pair{Token: "tok", Profile: &ownerProfile})
	ctx := context.Background()
	st.Bootstrap(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = st.Refresh(ctx, true)
	}()
	<-provider.started
	st.OnSignedOut(ctx)
	close(provider.release)
	<-done

	assert.Equal(t, Snapshot{}, st.Snapshot())
	pair, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, pair.Token)
}

func TestSignOutAfterRefreshResolves(t *testing.T) {
	provider := &stubProvider{profile: ownerProfile}
	st, _, _ := newTestState(t, provider, &Pair{Token: "tok", Profile: &ownerProfile})
	ctx := context.Background()
	st.Bootstrap(ctx)

	_, err := st.Refresh(ctx, true)
	require.NoError(t, err)
	st.OnSignedOut(ctx)

	assert.False(t, st.Snapshot().Authenticated)
}

func TestSignOutDuringBootstrapFetch(t *testing.T) {
	provider := &stubProvider{
		profile: ownerProfile,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	st, _, _ := newTestState(t, provider, &Pair{Token: "tok"})
	ctx := context.Background()

	st.Bootstrap(ctx)
	<-provider.started
	st.OnSignedOut(ctx)
	close(provider.release)

	assert.Never(t, func() bool {
		return st.Snapshot().Authenticated
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestRefreshHonoursCallerContext(t *testing.T) {
	provider := &stubProvider{
		profile: ownerProfile,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	st, _, _ := newTestState(t, provider, &Pair{Token: "tok", Profile: &ownerProfile})
	st.Bootstrap(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-provider.started
		cancel()
	}()
	snap, err := st.Refresh(ctx, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, snap.Authenticated)
	close(provider.release)
}

func TestUnsubscribe(t *testing.T) {
	st, _, _ := newTestState(t, &stubProvider{}, nil)
	log := &eventLog{}
	stop := st.Subscribe(log.listen)
	stop()

	require.NoError(t, st.OnSignedIn(context.Background(), "tok", ownerProfile))
	assert.Empty(t, log.list())
}
