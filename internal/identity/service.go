package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"

	"github.com/mowesport/mowe/internal/session"
	"github.com/mowesport/mowe/internal/token"
)

// Authenticator checks credentials and returns a signed token with its profile.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (SignIn, error)
}

// PasswordChanger replaces the password of the account behind token.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, token string, change PasswordChange) error
}

// Provider is the identity backend consumed by the HTTP layer.
type Provider interface {
	Authenticator
	PasswordChanger
	session.ProfileProvider
}

// Consecutive failures lock sign-in for growing periods, longest first.
var lockoutSteps = []struct {
	failures int
	lock     time.Duration
}{
	{10, 24 * time.Hour},
	{5, 15 * time.Minute},
}

func lockoutFor(failures int) time.Duration {
	for _, step := range lockoutSteps {
		if failures >= step.failures {
			return step.lock
		}
	}
	return 0
}

// Service is the Postgres-backed identity provider.
type Service struct {
	repo   Repository
	codec  *token.Codec
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, codec *token.Codec, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, codec: codec, logger: logger, now: time.Now}
}

// NormalizeEmail case-folds and trims an email address.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

// Authenticate validates email/password credentials. Every failure, a locked
// account included, is reported as ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (SignIn, error) {
	account, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return SignIn{}, ErrInvalidCredentials
	}
	now := s.now()
	if !account.IsActive {
		return SignIn{}, ErrInvalidCredentials
	}
	if account.Locked(now) {
		s.logger.Info("sign-in refused for locked account",
			slog.String("user_id", account.ID), slog.Time("locked_until", *account.LockedUntil))
		return SignIn{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		s.recordFailure(ctx, account.ID, now)
		return SignIn{}, ErrInvalidCredentials
	}
	if account.TempPasswordExpiresAt != nil && now.After(*account.TempPasswordExpiresAt) {
		return SignIn{}, ErrInvalidCredentials
	}
	if err := s.repo.RecordSignIn(ctx, account.ID); err != nil {
		s.logger.Warn("record sign-in", slog.String("user_id", account.ID), slog.Any("error", err))
	}

	profile := account.Profile()
	signed, err := s.codec.Issue(profile)
	if err != nil {
		return SignIn{}, fmt.Errorf("identity: issue token: %w", err)
	}
	return SignIn{Token: signed, Profile: profile}, nil
}

func (s *Service) recordFailure(ctx context.Context, id string, now time.Time) {
	attempts, err := s.repo.RecordFailedSignIn(ctx, id)
	if err != nil {
		s.logger.Warn("record failed sign-in", slog.String("user_id", id), slog.Any("error", err))
		return
	}
	lock := lockoutFor(attempts)
	if lock == 0 {
		return
	}
	until := now.Add(lock)
	if err := s.repo.LockAccount(ctx, id, until); err != nil {
		s.logger.Warn("lock account", slog.String("user_id", id), slog.Any("error", err))
		return
	}
	s.logger.Warn("account locked after failed sign-ins",
		slog.String("user_id", id), slog.Int("attempts", attempts), slog.Time("locked_until", until))
}

// FetchProfile resolves the account behind token. Tokens that no longer
// decode, or whose account is gone or deactivated, are rejected.
func (s *Service) FetchProfile(ctx context.Context, raw string) (session.Profile, error) {
	account, err := s.accountFor(ctx, raw)
	if err != nil {
		return session.Profile{}, err
	}
	return account.Profile(), nil
}

// ChangePassword checks the current password, then stores the new one as
// permanent. A temporary password stops being temporary.
func (s *Service) ChangePassword(ctx context.Context, raw string, change PasswordChange) error {
	if err := change.check(); err != nil {
		return err
	}
	account, err := s.accountFor(ctx, raw)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(change.Current)); err != nil {
		return ErrWrongPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(change.New), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, account.ID, string(hashed)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return session.ErrTokenRejected
		}
		return err
	}
	return nil
}

func (s *Service) accountFor(ctx context.Context, raw string) (*Account, error) {
	claims, err := s.codec.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrTokenRejected, err)
	}
	account, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, session.ErrTokenRejected
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, session.ErrTokenRejected
	}
	return account, nil
}

var _ Provider = (*Service)(nil)
