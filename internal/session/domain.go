package session

import (
	"context"
	"errors"

	"github.com/mowesport/mowe/internal/roles"
)

var (
	// ErrTokenRejected is returned by providers when the backend refuses the
	// token. The session is cleared, never surfaced as a failure.
	ErrTokenRejected = errors.New("session: token rejected")
	// ErrIncompleteProfile indicates a profile without identity or role.
	ErrIncompleteProfile = errors.New("session: incomplete profile")
	// ErrInvalidToken indicates a missing, malformed or expired token.
	ErrInvalidToken = errors.New("session: invalid token")
	// ErrProfileUnavailable is returned when a profile could not be fetched
	// and nothing is cached to fall back on.
	ErrProfileUnavailable = errors.New("session: profile unavailable")
)

// Profile is the identity record returned by the profile provider.
type Profile struct {
	ID        string       `json:"user_id"`
	Email     string       `json:"email"`
	FirstName string       `json:"first_name"`
	LastName  string       `json:"last_name"`
	Role      roles.Role   `json:"primary_role"`
	Status    roles.Status `json:"account_status"`
	// MustChangePassword is set while the account still signs in with a
	// temporary password.
	MustChangePassword bool `json:"must_change_password,omitempty"`
}

// Validate checks that the profile carries identity and a role.
func (p Profile) Validate() error {
	if p.ID == "" || p.Role == "" {
		return ErrIncompleteProfile
	}
	return nil
}

// Snapshot is an immutable view of the session. It is either fully
// authenticated (identity, role and token present) or fully anonymous.
type Snapshot struct {
	Authenticated bool    `json:"authenticated"`
	Loading       bool    `json:"loading"`
	Token         string  `json:"-"`
	Profile       Profile `json:"profile"`
}

// Role returns the primary role, empty when anonymous.
func (s Snapshot) Role() roles.Role {
	if !s.Authenticated {
		return ""
	}
	return s.Profile.Role
}

// Status returns the account status, empty when anonymous.
func (s Snapshot) Status() roles.Status {
	if !s.Authenticated {
		return ""
	}
	return s.Profile.Status
}

// UserID returns the identity id, empty when anonymous.
func (s Snapshot) UserID() string {
	if !s.Authenticated {
		return ""
	}
	return s.Profile.ID
}

// Pair is what the persistence boundary stores: the token and an optional
// cached profile.
type Pair struct {
	Token   string   `json:"token"`
	Profile *Profile `json:"profile,omitempty"`
}

// Persistence stores the token/profile pair for one browser session.
type Persistence interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, pair Pair) error
	Clear(ctx context.Context) error
}

// ProfileProvider fetches the profile bound to a token.
type ProfileProvider interface {
	FetchProfile(ctx context.Context, token string) (Profile, error)
}

// TokenValidator checks a token locally without contacting the backend.
type TokenValidator interface {
	Validate(token string) error
}

// Event names a session transition published to listeners.
type Event string

const (
	EventSignedIn  Event = "signed-in"
	EventSignedOut Event = "signed-out"
)

// Listener receives events synchronously, before the emitting call returns.
// Listeners may read the state but must not trigger transitions.
type Listener func(Event, Snapshot)
