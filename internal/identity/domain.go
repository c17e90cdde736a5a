package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
)

// ErrInvalidCredentials is the only failure a sign-in attempt reports.
var ErrInvalidCredentials = errors.New("identity: invalid credentials")

// ErrNotFound indicates no account matched the lookup.
var ErrNotFound = errors.New("identity: account not found")

var (
	// ErrWrongPassword is returned when the current password does not match.
	ErrWrongPassword = errors.New("identity: current password is incorrect")
	// ErrWeakPassword is returned for a new password outside the length rules
	// or equal to the current one.
	ErrWeakPassword = errors.New("identity: new password rejected")
)

// Password length bounds. bcrypt ignores input beyond 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// Account is a user_profiles row.
type Account struct {
	ID                    string
	Email                 string
	FirstName             string
	LastName              string
	PasswordHash          string
	Role                  roles.Role
	Status                roles.Status
	IsActive              bool
	TempPasswordExpiresAt *time.Time
	FailedLoginAttempts   int
	LockedUntil           *time.Time
	CreatedAt             time.Time
}

// Locked reports whether sign-in is suspended for the account at now.
func (a Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Profile projects the account onto the session profile.
func (a Account) Profile() session.Profile {
	return session.Profile{
		ID:                 a.ID,
		Email:              a.Email,
		FirstName:          a.FirstName,
		LastName:           a.LastName,
		Role:               a.Role,
		Status:             a.Status,
		MustChangePassword: a.TempPasswordExpiresAt != nil,
	}
}

// SignIn is the result of a successful credential check.
type SignIn struct {
	Token   string          `json:"token"`
	Profile session.Profile `json:"profile"`
}

// PasswordChange replaces the password of the signed-in account.
type PasswordChange struct {
	Current string
	New     string
}

func (c PasswordChange) check() error {
	switch {
	case len(c.New) < MinPasswordLength:
		return fmt.Errorf("%w: shorter than %d characters", ErrWeakPassword, MinPasswordLength)
	case len(c.New) > MaxPasswordLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrWeakPassword, MaxPasswordLength)
	case c.New == c.Current:
		return fmt.Errorf("%w: same as the current password", ErrWeakPassword)
	}
	return nil
}
