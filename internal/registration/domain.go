package registration

import (
	"fmt"
	"time"

	"github.com/mowesport/mowe/internal/platform/httpx"
	"github.com/mowesport/mowe/internal/roles"
)

var (
	// ErrUnauthenticated is returned when no one is signed in.
	ErrUnauthenticated = fmt.Errorf("registration: sign-in required: %w", httpx.ErrUnauthorized)
	// ErrForbidden is returned when the signed-in role may not register the target role.
	ErrForbidden = fmt.Errorf("registration: role not delegable: %w", httpx.ErrForbidden)
	// ErrDuplicateEmail is returned when the email is already registered.
	ErrDuplicateEmail = fmt.Errorf("registration: email already registered: %w", httpx.ErrDuplicate)
)

// Request is the registration form submitted by an administrator.
type Request struct {
	FirstName      string       `json:"first_name" validate:"required,max=100"`
	LastName       string       `json:"last_name" validate:"required,max=100"`
	Email          string       `json:"email" validate:"required,email,max=255"`
	Phone          string       `json:"phone,omitempty" validate:"omitempty,e164"`
	Identification string       `json:"identification,omitempty" validate:"omitempty,alphanum,min=5,max=20"`
	Role           roles.Role   `json:"role" validate:"required"`
	AccountStatus  roles.Status `json:"account_status,omitempty" validate:"omitempty,oneof=active payment_pending"`
}

// NewAccount is what the repository persists.
type NewAccount struct {
	ID                    string
	Email                 string
	FirstName             string
	LastName              string
	Phone                 string
	Identification        string
	PasswordHash          string
	Role                  roles.Role
	Status                roles.Status
	TempPasswordExpiresAt time.Time
	CreatedBy             string
}

// Result is returned to the registering administrator.
type Result struct {
	UserID            string       `json:"user_id"`
	Email             string       `json:"email"`
	Role              roles.Role   `json:"role"`
	AccountStatus     roles.Status `json:"account_status"`
	TemporaryPassword string       `json:"temporary_password"`
	ExpiresAt         time.Time    `json:"expires_at"`
	WelcomeQueued     bool         `json:"welcome_email_queued"`
}
