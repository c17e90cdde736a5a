package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

const profileFetchKey = "profile"

// Config groups the collaborators of a State.
type Config struct {
	Store    Persistence
	Provider ProfileProvider
	Tokens   TokenValidator
	Logger   *slog.Logger
}

// State is the authoritative record of who is signed in for one browser
// session. Transitions are serialised; readers always observe a complete
// Snapshot.
type State struct {
	store    Persistence
	provider ProfileProvider
	tokens   TokenValidator
	logger   *slog.Logger

	// opMu serialises transitions, dispatchMu keeps event order aligned with them.
	opMu       sync.Mutex
	dispatchMu sync.Mutex

	mu      sync.RWMutex
	snap    Snapshot
	pending string
	epoch   uint64
	// unsynced is set while the store lags behind memory after a failed save.
	unsynced bool

	fetches singleflight.Group

	listenersMu sync.RWMutex
	listeners   []subscription
	nextID      uint64
}

type subscription struct {
	id uint64
	fn Listener
}

// NewState builds an anonymous State. Call Bootstrap to restore a persisted session.
func NewState(cfg Config) *State {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryPersistence()
	}
	return &State{
		store:    store,
		provider: cfg.Provider,
		tokens:   cfg.Tokens,
		logger:   logger,
	}
}

// Snapshot returns the current session view.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Current returns the snapshot to authorise a request with. An authenticated
// session whose token no longer validates is signed out first. The persisted
// pair is then compared with memory: when another process sharing the store
// signed the browser out or replaced its session, this State follows it.
func (s *State) Current(ctx context.Context) Snapshot {
	snap := s.Snapshot()
	if !snap.Authenticated {
		return snap
	}
	if err := s.checkToken(snap.Token); err != nil {
		s.expire(ctx, snap.Token, err)
		return s.Snapshot()
	}

	s.mu.RLock()
	unsynced := s.unsynced
	s.mu.RUnlock()
	if unsynced {
		return snap
	}
	pair, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("session resync load", slog.Any("error", err))
		return snap
	}
	if pair.Token == snap.Token && (pair.Profile == nil || *pair.Profile == snap.Profile) {
		return snap
	}
	s.adopt(snap.Token, pair)
	return s.Snapshot()
}

// expire ends the session holding token, unless a transition already replaced it.
func (s *State) expire(ctx context.Context, token string, cause error) {
	s.opMu.Lock()
	if cur := s.Snapshot(); !cur.Authenticated || cur.Token != token {
		s.opMu.Unlock()
		return
	}
	s.logger.Info("session token expired", slog.Any("reason", cause))
	prev := s.swap(Snapshot{}, "", true)
	s.clearStore(ctx)
	s.finish(leaveEvent(prev), Snapshot{})
}

// adopt replaces the in-memory session holding token with the persisted pair.
// A pair without a usable token and profile signs the session out.
func (s *State) adopt(token string, pair Pair) {
	s.opMu.Lock()
	if cur := s.Snapshot(); !cur.Authenticated || cur.Token != token {
		s.opMu.Unlock()
		return
	}
	if pair.Token == "" || pair.Profile == nil || pair.Profile.Validate() != nil || s.checkToken(pair.Token) != nil {
		s.logger.Info("session ended by another process")
		prev := s.swap(Snapshot{}, "", true)
		s.finish(leaveEvent(prev), Snapshot{})
		return
	}
	next := Snapshot{Authenticated: true, Token: pair.Token, Profile: *pair.Profile}
	prev := s.swap(next, "", true)
	s.finish(enterEvent(prev, next), next)
}

// Subscribe registers a listener and returns a function removing it.
func (s *State) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: l})
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, sub := range s.listeners {
			if sub.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Bootstrap restores the session from persistence without blocking on the
// network. A token with a cached profile yields an authenticated snapshot
// immediately. A token without a profile yields a loading snapshot and the
// profile is fetched in the background.
func (s *State) Bootstrap(ctx context.Context) Snapshot {
	pair, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("session bootstrap load", slog.Any("error", err))
		pair = Pair{}
	}

	s.opMu.Lock()
	if pair.Token == "" {
		prev := s.swap(Snapshot{}, "", true)
		s.finish(leaveEvent(prev), Snapshot{})
		return Snapshot{}
	}
	if err := s.checkToken(pair.Token); err != nil {
		s.logger.Info("session bootstrap discarded token", slog.Any("reason", err))
		prev := s.swap(Snapshot{}, "", true)
		s.clearStore(ctx)
		s.finish(leaveEvent(prev), Snapshot{})
		return Snapshot{}
	}
	if pair.Profile != nil && pair.Profile.Validate() == nil {
		next := Snapshot{Authenticated: true, Token: pair.Token, Profile: *pair.Profile}
		prev := s.swap(next, "", true)
		s.finish(enterEvent(prev, next), next)
		return next
	}

	next := Snapshot{Loading: true}
	s.swap(next, pair.Token, true)
	s.finish("", next)

	fetchCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.Refresh(fetchCtx, true); err != nil {
			s.logger.Warn("session bootstrap profile", slog.Any("error", err))
		}
	}()
	return next
}

// OnSignedIn records a successful sign-in. Repeating the call with the same
// token and profile leaves the session untouched and emits nothing.
func (s *State) OnSignedIn(ctx context.Context, token string, profile Profile) error {
	if err := s.checkToken(token); err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	next := Snapshot{Authenticated: true, Token: token, Profile: profile}

	s.opMu.Lock()
	if s.Snapshot() == next {
		s.opMu.Unlock()
		return nil
	}
	prev := s.swap(next, "", true)
	s.persist(ctx, Pair{Token: token, Profile: &profile}, "sign-in")
	s.finish(enterEvent(prev, next), next)
	return nil
}

// OnSignedOut clears the session and the persisted pair. Any profile fetch
// still in flight is discarded when it resolves.
func (s *State) OnSignedOut(ctx context.Context) {
	s.opMu.Lock()
	prev := s.swap(Snapshot{}, "", true)
	s.clearStore(ctx)
	s.finish(leaveEvent(prev), Snapshot{})
}

// Refresh re-fetches the profile. Without force an authenticated session is
// returned as is. Concurrent calls share one underlying fetch. A transient
// failure keeps the cached profile; ErrProfileUnavailable is returned only
// when there was nothing to fall back on.
func (s *State) Refresh(ctx context.Context, force bool) (Snapshot, error) {
	s.mu.RLock()
	snap, token := s.snap, s.currentToken()
	s.mu.RUnlock()
	if token == "" {
		return snap, nil
	}
	if !force && snap.Authenticated {
		return snap, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := s.fetches.DoChan(profileFetchKey, func() (interface{}, error) {
		return s.fetchAndApply(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	case res := <-ch:
		out, _ := res.Val.(Snapshot)
		return out, res.Err
	}
}

func (s *State) fetchAndApply(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	epoch, token := s.epoch, s.currentToken()
	s.mu.RUnlock()
	if token == "" {
		return s.Snapshot(), nil
	}
	if s.provider == nil {
		return s.applyFailure(ctx, epoch, errors.New("session: no profile provider"))
	}

	profile, err := s.provider.FetchProfile(ctx, token)
	if err == nil {
		err = profile.Validate()
	}
	if err != nil {
		return s.applyFailure(ctx, epoch, err)
	}

	s.opMu.Lock()
	if s.epoch != epoch {
		cur := s.Snapshot()
		s.opMu.Unlock()
		s.logger.Debug("session discarded stale profile fetch")
		return cur, nil
	}
	next := Snapshot{Authenticated: true, Token: token, Profile: profile}
	prev := s.swap(next, "", false)
	if prev != next {
		s.persist(ctx, Pair{Token: token, Profile: &profile}, "profile")
	}
	s.finish(enterEvent(prev, next), next)
	return next, nil
}

func (s *State) applyFailure(ctx context.Context, epoch uint64, cause error) (Snapshot, error) {
	s.opMu.Lock()
	if s.epoch != epoch {
		cur := s.Snapshot()
		s.opMu.Unlock()
		return cur, nil
	}

	if errors.Is(cause, ErrTokenRejected) || errors.Is(cause, ErrIncompleteProfile) {
		s.logger.Info("session token no longer accepted", slog.Any("reason", cause))
		prev := s.swap(Snapshot{}, "", true)
		s.clearStore(ctx)
		s.finish(leaveEvent(prev), Snapshot{})
		return Snapshot{}, nil
	}

	cur := s.Snapshot()
	if cur.Authenticated {
		s.logger.Warn("profile refresh failed, keeping cached profile", slog.Any("error", cause))
		s.opMu.Unlock()
		return cur, nil
	}

	// Nothing cached: present as anonymous but keep the token so a later
	// refresh can retry.
	s.mu.RLock()
	pending := s.pending
	s.mu.RUnlock()
	prev := s.swap(Snapshot{}, pending, false)
	s.finish(leaveEvent(prev), Snapshot{})
	return Snapshot{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, cause)
}

func (s *State) checkToken(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if s.tokens == nil {
		return nil
	}
	if err := s.tokens.Validate(token); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

// persist saves pair. Callers hold opMu.
func (s *State) persist(ctx context.Context, pair Pair, what string) {
	err := s.store.Save(ctx, pair)
	if err != nil {
		s.logger.Warn("session persist "+what, slog.Any("error", err))
	}
	s.mu.Lock()
	s.unsynced = err != nil
	s.mu.Unlock()
}

func (s *State) clearStore(ctx context.Context) {
	err := s.store.Clear(ctx)
	if err != nil {
		s.logger.Warn("session clear persisted pair", slog.Any("error", err))
	}
	s.mu.Lock()
	s.unsynced = err != nil
	s.mu.Unlock()
}

// currentToken must be called with mu held.
func (s *State) currentToken() string {
	if s.snap.Authenticated {
		return s.snap.Token
	}
	return s.pending
}

// swap installs next and returns the previous snapshot. Callers hold opMu.
func (s *State) swap(next Snapshot, pending string, bump bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.snap
	s.snap = next
	s.pending = pending
	if bump {
		s.epoch++
	}
	return prev
}

// finish releases opMu and dispatches ev while holding dispatchMu, so events
// reach listeners in transition order.
func (s *State) finish(ev Event, snap Snapshot) {
	s.dispatchMu.Lock()
	s.opMu.Unlock()
	defer s.dispatchMu.Unlock()
	if ev == "" {
		return
	}
	s.listenersMu.RLock()
	subs := make([]subscription, len(s.listeners))
	copy(subs, s.listeners)
	s.listenersMu.RUnlock()
	for _, sub := range subs {
		sub.fn(ev, snap)
	}
}

func enterEvent(prev, next Snapshot) Event {
	if prev.Authenticated && prev.Profile == next.Profile && prev.Token == next.Token {
		return ""
	}
	return EventSignedIn
}

func leaveEvent(prev Snapshot) Event {
	if prev.Authenticated || prev.Loading {
		return EventSignedOut
	}
	return ""
}
