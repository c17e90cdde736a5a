package session

import "context"

type stateContextKey struct{}

type bound struct {
	state     *State
	browserID string
}

// ContextWithState stores the browser session state in context.
func ContextWithState(ctx context.Context, browserID string, st *State) context.Context {
	return context.WithValue(ctx, stateContextKey{}, bound{state: st, browserID: browserID})
}

// FromContext extracts the session state from context.
func FromContext(ctx context.Context) *State {
	b, _ := ctx.Value(stateContextKey{}).(bound)
	return b.state
}

// BrowserIDFromContext returns the browser session id stored with the state.
func BrowserIDFromContext(ctx context.Context) string {
	b, _ := ctx.Value(stateContextKey{}).(bound)
	return b.browserID
}

// SnapshotFromContext returns the current snapshot, anonymous when no state is bound.
func SnapshotFromContext(ctx context.Context) Snapshot {
	if st := FromContext(ctx); st != nil {
		return st.Snapshot()
	}
	return Snapshot{}
}
