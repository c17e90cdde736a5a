package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mowesport/mowe/internal/delegation"
	"github.com/mowesport/mowe/internal/identity"
	"github.com/mowesport/mowe/internal/platform/httpx"
	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
	"github.com/mowesport/mowe/jobs"
)

const defaultTempPasswordTTL = 72 * time.Hour

// WelcomeQueue enqueues the welcome mail of a new account.
type WelcomeQueue interface {
	EnqueueWelcomeEmail(ctx context.Context, payload jobs.WelcomeEmailPayload) error
}

// Config groups the collaborators of Service.
type Config struct {
	Repo      Repository
	Gate      *delegation.Gate
	Queue     WelcomeQueue
	Registry  *roles.Registry
	Logger    *slog.Logger
	TTL       time.Duration
	SignInURL string
	// Observe, when set, is told the outcome of every authorized attempt.
	Observe func(role string, err error)
}

// Service registers accounts on behalf of a signed-in administrator.
type Service struct {
	repo      Repository
	gate      *delegation.Gate
	queue     WelcomeQueue
	registry  *roles.Registry
	logger    *slog.Logger
	validate  *validator.Validate
	ttl       time.Duration
	signInURL string
	observe   func(string, error)
	now       func() time.Time
}

// NewService constructs the registration service.
func NewService(cfg Config) *Service {
	registry := cfg.Registry
	if registry == nil {
		registry = roles.Default()
	}
	gate := cfg.Gate
	if gate == nil {
		gate = delegation.NewGate(registry)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTempPasswordTTL
	}
	return &Service{
		repo:      cfg.Repo,
		gate:      gate,
		queue:     cfg.Queue,
		registry:  registry,
		logger:    logger,
		validate:  validator.New(),
		ttl:       ttl,
		signInURL: cfg.SignInURL,
		observe:   cfg.Observe,
		now:       time.Now,
	}
}

// Targets lists the roles snap may register.
func (s *Service) Targets(snap session.Snapshot) []roles.Descriptor {
	return s.gate.Targets(snap)
}

// Register creates an account of req.Role. The delegation gate is consulted
// before anything is written.
func (s *Service) Register(ctx context.Context, snap session.Snapshot, req Request) (result Result, err error) {
	if !snap.Authenticated {
		return Result{}, ErrUnauthenticated
	}
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := s.validate.Struct(req); err != nil {
		return Result{}, fmt.Errorf("%w: %s", httpx.ErrValidation, describeValidation(err))
	}
	target, err := roles.Parse(string(req.Role))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	if s.observe != nil {
		defer func() { s.observe(string(target), err) }()
	}
	if err := s.gate.Check(snap, target); err != nil {
		s.logger.Warn("registration refused",
			slog.String("actor", snap.UserID()),
			slog.String("actor_role", string(snap.Role())),
			slog.String("target_role", string(target)))
		return Result{}, fmt.Errorf("%w: %v", ErrForbidden, err)
	}

	status := req.AccountStatus
	if status == "" {
		status = roles.StatusActive
	}
	password, err := GenerateTemporaryPassword()
	if err != nil {
		return Result{}, fmt.Errorf("registration: generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Result{}, fmt.Errorf("registration: hash password: %w", err)
	}

	expiresAt := s.now().UTC().Add(s.ttl)
	account := NewAccount{
		ID:                    uuid.NewString(),
		Email:                 identity.NormalizeEmail(req.Email),
		FirstName:             req.FirstName,
		LastName:              req.LastName,
		Phone:                 req.Phone,
		Identification:        req.Identification,
		PasswordHash:          string(hash),
		Role:                  target,
		Status:                status,
		TempPasswordExpiresAt: expiresAt,
		CreatedBy:             snap.UserID(),
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return Result{}, err
	}

	result = Result{
		UserID:            account.ID,
		Email:             account.Email,
		Role:              target,
		AccountStatus:     status,
		TemporaryPassword: password,
		ExpiresAt:         expiresAt,
	}
	if s.queue != nil {
		err := s.queue.EnqueueWelcomeEmail(ctx, jobs.WelcomeEmailPayload{
			UserID:            account.ID,
			To:                account.Email,
			Name:              account.FirstName,
			RoleLabel:         s.registry.Describe(target).Label,
			TemporaryPassword: password,
			ExpiresAt:         expiresAt,
			SignInURL:         s.signInURL,
		})
		if err != nil {
			s.logger.Warn("welcome email not queued", slog.String("user_id", account.ID), slog.Any("error", err))
		} else {
			result.WelcomeQueued = true
		}
	}

	s.logger.Info("account registered",
		slog.String("user_id", account.ID),
		slog.String("role", string(target)),
		slog.String("created_by", account.CreatedBy))
	return result, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	first := verrs[0]
	return fmt.Sprintf("%s failed %s", first.Field(), first.Tag())
}
