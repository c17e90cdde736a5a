package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mowesport/mowe/internal/session"
)

// RemoteProvider talks to an external identity REST API exposing
// POST /api/auth/login, GET /api/auth/profile and
// POST /api/auth/change-password.
type RemoteProvider struct {
	baseURL string
	client  *http.Client
}

// NewRemoteProvider constructs a provider for the API rooted at baseURL.
func NewRemoteProvider(baseURL string, timeout time.Duration) *RemoteProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type loginData struct {
	session.Profile
	Token string `json:"token"`
}

// Authenticate posts credentials to the remote login endpoint.
func (p *RemoteProvider) Authenticate(ctx context.Context, email, password string) (SignIn, error) {
	body, err := json.Marshal(map[string]string{"email": NormalizeEmail(email), "password": password})
	if err != nil {
		return SignIn{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return SignIn{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var data loginData
	status, err := p.do(req, &data)
	if err != nil {
		return SignIn{}, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound {
		return SignIn{}, ErrInvalidCredentials
	}
	if status != http.StatusOK {
		return SignIn{}, fmt.Errorf("identity: login returned %d", status)
	}
	if data.Token == "" || data.Profile.Validate() != nil {
		return SignIn{}, ErrInvalidCredentials
	}
	return SignIn{Token: data.Token, Profile: data.Profile}, nil
}

// FetchProfile loads the profile bound to token. A 401 or 403 means the token
// is no longer accepted.
func (p *RemoteProvider) FetchProfile(ctx context.Context, token string) (session.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/auth/profile", nil)
	if err != nil {
		return session.Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var profile session.Profile
	status, err := p.do(req, &profile)
	if err != nil {
		return session.Profile{}, err
	}
	switch status {
	case http.StatusOK:
		return profile, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return session.Profile{}, session.ErrTokenRejected
	default:
		return session.Profile{}, fmt.Errorf("identity: profile returned %d", status)
	}
}

// ChangePassword forwards the change with the session's bearer token. A 400
// means the backend refused the new password and a 401 the current one.
func (p *RemoteProvider) ChangePassword(ctx context.Context, token string, change PasswordChange) error {
	if err := change.check(); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{
		"current_password": change.Current,
		"new_password":     change.New,
		"confirm_password": change.New,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/auth/change-password", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	status, err := p.do(req, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest:
		return ErrWeakPassword
	case http.StatusUnauthorized:
		return ErrWrongPassword
	case http.StatusForbidden, http.StatusNotFound:
		return session.ErrTokenRejected
	default:
		return fmt.Errorf("identity: change password returned %d", status)
	}
}

func (p *RemoteProvider) do(req *http.Request, target any) (int, error) {
	req.Header.Set("Accept", "application/json")
	res, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("identity: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK || target == nil {
		return res.StatusCode, nil
	}
	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return 0, fmt.Errorf("identity: decode %s: %w", req.URL.Path, err)
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return 0, fmt.Errorf("identity: decode %s data: %w", req.URL.Path, err)
	}
	return res.StatusCode, nil
}

var _ Provider = (*RemoteProvider)(nil)
